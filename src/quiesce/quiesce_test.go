package quiesce_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"genbak/src/dockerapi"
	"genbak/src/quiesce"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestStop_RunningWorkload(t *testing.T) {
	fake := dockerapi.NewFake()
	fake.Add(dockerapi.Workload{Name: "web1", Running: true})
	c := quiesce.New(fake, quietLogger(), 5*time.Second)

	wasRunning, err := c.Stop(context.Background(), "web1")
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !wasRunning {
		t.Fatal("wasRunning = false for a running workload")
	}
	if len(fake.StopCalls) != 1 || len(fake.KillCalls) != 0 {
		t.Fatalf("calls: stop=%v kill=%v", fake.StopCalls, fake.KillCalls)
	}
}

func TestStop_AlreadyStoppedSkips(t *testing.T) {
	fake := dockerapi.NewFake()
	fake.Add(dockerapi.Workload{Name: "web1", Running: false})
	c := quiesce.New(fake, quietLogger(), 5*time.Second)

	wasRunning, err := c.Stop(context.Background(), "web1")
	if err != nil || wasRunning {
		t.Fatalf("wasRunning=%v err=%v, want false,nil", wasRunning, err)
	}
	if len(fake.StopCalls) != 0 {
		t.Fatalf("stop should not be called: %v", fake.StopCalls)
	}
}

func TestStop_EscalatesToForcedStopOnce(t *testing.T) {
	fake := dockerapi.NewFake()
	fw := fake.Add(dockerapi.Workload{Name: "web1", Running: true})
	fw.IgnoreStop = true // graceful stop has no effect
	c := quiesce.New(fake, quietLogger(), time.Second)

	wasRunning, err := c.Stop(context.Background(), "web1")
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !wasRunning {
		t.Fatal("wasRunning = false")
	}
	if len(fake.KillCalls) != 1 {
		t.Fatalf("kill calls = %v, want exactly one", fake.KillCalls)
	}
}

func TestStop_TimeoutWhenForcedStopFailsToo(t *testing.T) {
	fake := dockerapi.NewFake()
	fw := fake.Add(dockerapi.Workload{Name: "web1", Running: true})
	fw.IgnoreStop = true
	fw.IgnoreKill = true
	c := quiesce.New(fake, quietLogger(), time.Second)

	wasRunning, err := c.Stop(context.Background(), "web1")
	if !wasRunning {
		t.Fatal("wasRunning must be true so the caller still attempts a restart")
	}
	var te *quiesce.TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want TimeoutError", err)
	}
	if len(fake.KillCalls) != 1 {
		t.Fatalf("kill calls = %v, want exactly one escalation", fake.KillCalls)
	}
}

func TestStop_UnknownWorkload(t *testing.T) {
	fake := dockerapi.NewFake()
	c := quiesce.New(fake, quietLogger(), time.Second)
	_, err := c.Stop(context.Background(), "ghost")
	var nf *dockerapi.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("err = %v, want NotFoundError", err)
	}
}

func TestRestart(t *testing.T) {
	fake := dockerapi.NewFake()
	fake.Add(dockerapi.Workload{Name: "web1", Running: false})
	c := quiesce.New(fake, quietLogger(), time.Second)
	if err := c.Restart(context.Background(), "web1"); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if !fake.Workloads["web1"].Running {
		t.Fatal("workload not running after restart")
	}
}
