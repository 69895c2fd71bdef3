// Package pipeline drives the end-to-end backup and restore runs: one
// workload per invocation, serialized by the store's per-workload lock.
package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"genbak/src/archive"
	"genbak/src/dockerapi"
	"genbak/src/generation"
	"genbak/src/quiesce"
	"genbak/src/retention"
	"genbak/src/synctree"
	"genbak/src/workload"
)

// BackupOptions tune one backup run.
type BackupOptions struct {
	StopTimeout time.Duration
	Parallel    int
	Retention   time.Duration // 0 disables pruning
	Archive     bool
}

// Backup runs the incremental backup pipeline for one workload.
type Backup struct {
	Client dockerapi.Client
	Store  *generation.Store
	Log    *logrus.Logger
	Opts   BackupOptions
	Now    func() time.Time
}

// Run backs up the workload and returns the sealed generation. On any
// transfer or quiesce failure the unsealed generation is removed, the latest
// pointer stays where it was, and a restart is still attempted if the
// workload had been stopped.
func (b *Backup) Run(ctx context.Context, ref string) (generation.Generation, error) {
	now := time.Now
	if b.Now != nil {
		now = b.Now
	}
	runID := uuid.NewString()

	w, err := b.Client.Inspect(ctx, ref)
	if err != nil {
		return generation.Generation{}, err
	}
	log := b.Log.WithFields(logrus.Fields{"workload": w.Name, "run": runID})

	release, err := b.Store.Lock(w.Name, runID)
	if err != nil {
		return generation.Generation{}, err
	}
	defer release()

	// metadata reflects the state before any stop is issued
	meta := workload.Capture(w, now())
	mounts, err := workload.EnumerateMounts(w.Name, w.Mounts, b.Log)
	if err != nil {
		return generation.Generation{}, err
	}
	meta.Mounts = mounts

	base, haveBase, err := b.Store.Latest(w.Name)
	if err != nil {
		return generation.Generation{}, err
	}
	haveBase = haveBase && base.Sealed

	gen, err := b.Store.Create(w.Name, now())
	if err != nil {
		return generation.Generation{}, err
	}
	discard := func() {
		if rmErr := b.Store.Remove(gen); rmErr != nil {
			log.Errorf("cleanup of unsealed generation %s failed: %v", gen.Timestamp, rmErr)
		}
	}

	q := quiesce.New(b.Client, b.Log, b.Opts.StopTimeout)
	wasRunning, stopErr := q.Stop(ctx, w.Name)
	restarted := false
	defer func() {
		// a failed backup never leaves the workload down, and a restart
		// failure on this path never masks the original error
		if wasRunning && !restarted {
			if rerr := q.Restart(context.WithoutCancel(ctx), w.Name); rerr != nil {
				log.Errorf("best-effort restart failed: %v", rerr)
			}
		}
	}()
	if stopErr != nil {
		discard()
		return generation.Generation{}, stopErr
	}

	if err := b.transfer(ctx, gen, base, haveBase, mounts); err != nil {
		log.Errorf("generation %s aborted: %v", gen.Timestamp, err)
		discard()
		return generation.Generation{}, err
	}
	if err := workload.WriteMetadata(gen.Path, meta); err != nil {
		discard()
		return generation.Generation{}, err
	}

	if wasRunning {
		restarted = true
		if err := q.Restart(ctx, w.Name); err != nil {
			discard()
			return generation.Generation{}, err
		}
	}

	gen, err = b.Store.Seal(gen)
	if err != nil {
		discard()
		return generation.Generation{}, err
	}

	if b.Opts.Archive {
		if err := b.pack(gen); err != nil {
			// sealed but never promoted; eligible for age-based pruning
			return generation.Generation{}, err
		}
	}

	if err := b.Store.AdvanceLatest(gen); err != nil {
		return generation.Generation{}, err
	}
	log.Infof("generation %s sealed and committed as latest (%d mounts)", gen.Timestamp, len(mounts))

	b.prune(w.Name, log)
	return gen, nil
}

// transfer copies every mount into the generation, hard-linking unchanged
// files from the base. Mounts are independent and copy in parallel; a failed
// mount removes its partial subtree before the run aborts.
func (b *Backup) transfer(ctx context.Context, gen, base generation.Generation, haveBase bool, mounts []workload.MountPoint) error {
	grp, gctx := errgroup.WithContext(ctx)
	limit := b.Opts.Parallel
	if limit < 1 {
		limit = 1
	}
	grp.SetLimit(limit)

	for _, mp := range mounts {
		mp := mp
		grp.Go(func() error {
			dst := filepath.Join(gen.DataDir(), mp.PathKey())
			linkBase := ""
			if haveBase {
				p := filepath.Join(base.DataDir(), mp.PathKey())
				if _, err := os.Stat(p); err == nil {
					linkBase = p
				}
			}
			if err := synctree.Sync(gctx, mp.HostPath, dst, linkBase); err != nil {
				_ = os.RemoveAll(dst)
				return &TransferError{Mount: mp.HostPath, Err: err}
			}
			return nil
		})
	}
	return grp.Wait()
}

func (b *Backup) pack(gen generation.Generation) error {
	out := b.Store.ArchivePath(gen)
	if err := archive.Pack(gen.Path, out); err != nil {
		return &PackagingError{Path: out, Err: err}
	}
	return nil
}

func (b *Backup) prune(name string, log *logrus.Entry) {
	if b.Opts.Retention <= 0 {
		return
	}
	pruner := retention.New(b.Store, b.Log)
	if b.Now != nil {
		pruner.Now = b.Now
	}
	removed, err := pruner.Prune(name, b.Opts.Retention)
	if err != nil {
		log.Errorf("retention pruning failed: %v", err)
		return
	}
	if len(removed) > 0 {
		log.Infof("pruned %d generations past the retention horizon", len(removed))
	}
}
