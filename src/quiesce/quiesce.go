// Package quiesce stops a workload around a data copy and restarts it
// afterward. Copying a live data directory is never allowed; a stop that
// cannot be confirmed within the grace period, even after one forced stop,
// fails the run.
package quiesce

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"genbak/src/dockerapi"
)

// TimeoutError reports that a workload could not be confirmed stopped.
type TimeoutError struct{ Workload string }

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("workload %s still running after stop and forced stop", e.Workload)
}

type Coordinator struct {
	Client dockerapi.Client
	Log    *logrus.Logger
	Grace  time.Duration
}

func New(client dockerapi.Client, log *logrus.Logger, grace time.Duration) *Coordinator {
	return &Coordinator{Client: client, Log: log, Grace: grace}
}

// Stop quiesces the workload. wasRunning reports whether a restart is owed to
// the caller; it is true even when the stop itself fails, so a failed backup
// never leaves the workload down without at least a restart attempt.
func (c *Coordinator) Stop(ctx context.Context, ref string) (wasRunning bool, err error) {
	w, err := c.Client.Inspect(ctx, ref)
	if err != nil {
		return false, err
	}
	if !w.Running {
		c.Log.Debugf("workload %s already stopped, skipping quiesce", ref)
		return false, nil
	}

	c.Log.Infof("stopping workload %s (grace %s)", ref, c.Grace)
	if err := c.Client.Stop(ctx, ref, c.Grace); err != nil {
		return true, fmt.Errorf("stop %s: %w", ref, err)
	}
	if stopped, err := c.confirmStopped(ctx, ref); err != nil {
		return true, err
	} else if stopped {
		return true, nil
	}

	// escalate exactly once, then give up
	c.Log.Warnf("workload %s still running after grace period, forcing stop", ref)
	if err := c.Client.Kill(ctx, ref); err != nil {
		return true, fmt.Errorf("forced stop of %s: %w", ref, err)
	}
	if stopped, err := c.confirmStopped(ctx, ref); err != nil {
		return true, err
	} else if stopped {
		return true, nil
	}
	return true, &TimeoutError{Workload: ref}
}

// Restart brings the workload back up after the copy. Callers on a failure
// path log the returned error instead of propagating it, so the original
// failure is never masked.
func (c *Coordinator) Restart(ctx context.Context, ref string) error {
	c.Log.Infof("restarting workload %s", ref)
	if err := c.Client.Start(ctx, ref); err != nil {
		return fmt.Errorf("restart %s: %w", ref, err)
	}
	return nil
}

func (c *Coordinator) confirmStopped(ctx context.Context, ref string) (bool, error) {
	w, err := c.Client.Inspect(ctx, ref)
	if err != nil {
		return false, err
	}
	return !w.Running, nil
}
