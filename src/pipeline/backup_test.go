package pipeline_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"genbak/src/dockerapi"
	"genbak/src/generation"
	"genbak/src/pipeline"
	"genbak/src/retention"
	"genbak/src/workload"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// fixture wires a fake runtime, a store and a backup pipeline around one
// workload with a single bind mount.
type fixture struct {
	fake   *dockerapi.FakeClient
	store  *generation.Store
	backup *pipeline.Backup
	mount  string
	clock  time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mount := filepath.Join(t.TempDir(), "data", "web1")
	if err := os.MkdirAll(mount, 0o755); err != nil {
		t.Fatal(err)
	}
	fake := dockerapi.NewFake()
	fake.Add(dockerapi.Workload{
		Name:    "web1",
		Running: true,
		Image:   "nginx:1.25",
		Env:     []string{"MODE=prod"},
		Command: []string{"nginx", "-g", "daemon off;"},
		Ports: []dockerapi.PortBinding{
			{HostPort: "8080", ContainerPort: "80", Protocol: "tcp"},
		},
		Mounts: []dockerapi.Mount{
			{Kind: dockerapi.MountBind, Source: mount, Destination: "/data/web1", RW: true},
		},
	})
	store, err := generation.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	f := &fixture{
		fake:  fake,
		store: store,
		mount: mount,
		clock: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.backup = &pipeline.Backup{
		Client: fake,
		Store:  store,
		Log:    quietLogger(),
		Opts:   pipeline.BackupOptions{StopTimeout: 5 * time.Second, Parallel: 2},
		Now:    func() time.Time { return f.clock },
	}
	return f
}

func (f *fixture) tick() { f.clock = f.clock.Add(time.Minute) }

func (f *fixture) run(t *testing.T) generation.Generation {
	t.Helper()
	gen, err := f.backup.Run(context.Background(), "web1")
	if err != nil {
		t.Fatalf("backup run: %v", err)
	}
	f.tick()
	return gen
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestBackup_GenerationScenario(t *testing.T) {
	f := newFixture(t)
	writeFile(t, filepath.Join(f.mount, "a.txt"), "one hundred bytes of original content")
	writeFile(t, filepath.Join(f.mount, "static.bin"), "never changes")

	// T1: full copy, sealed, committed as latest
	t1 := f.run(t)
	if !t1.Sealed {
		t.Fatal("t1 not sealed")
	}
	key := workload.MountPoint{HostPath: f.mount}.PathKey()
	t1a := filepath.Join(t1.DataDir(), key, "a.txt")
	if b, err := os.ReadFile(t1a); err != nil || string(b) != "one hundred bytes of original content" {
		t.Fatalf("t1 a.txt = %q, err %v", b, err)
	}
	latest, ok, _ := f.store.Latest("web1")
	if !ok || latest.Timestamp != t1.Timestamp {
		t.Fatalf("latest = %+v ok=%v", latest, ok)
	}

	// T2: a.txt changed -> fresh copy; static.bin unchanged -> hard link into T1
	time.Sleep(10 * time.Millisecond)
	writeFile(t, filepath.Join(f.mount, "a.txt"), "one hundred bytes of original content\nplus one line")
	t2 := f.run(t)
	if sameFile(t, t1a, filepath.Join(t2.DataDir(), key, "a.txt")) {
		t.Fatal("changed a.txt must not be hard-linked")
	}
	if !sameFile(t,
		filepath.Join(t1.DataDir(), key, "static.bin"),
		filepath.Join(t2.DataDir(), key, "static.bin")) {
		t.Fatal("unchanged static.bin should be a hard link into T1")
	}

	// T3: a.txt deleted on host -> absent from the new generation
	if err := os.Remove(filepath.Join(f.mount, "a.txt")); err != nil {
		t.Fatal(err)
	}
	t3 := f.run(t)
	if _, err := os.Stat(filepath.Join(t3.DataDir(), key, "a.txt")); !os.IsNotExist(err) {
		t.Fatalf("deleted a.txt present in t3; stat err=%v", err)
	}
	if _, err := os.Stat(t1a); err != nil {
		t.Fatalf("t1 copy of a.txt must survive: %v", err)
	}

	// chain is strictly increasing, newest first
	gens, _ := f.store.List("web1")
	if len(gens) != 3 {
		t.Fatalf("len(gens) = %d", len(gens))
	}
	for i := 0; i < len(gens)-1; i++ {
		if !(gens[i].Timestamp > gens[i+1].Timestamp) {
			t.Fatalf("list not descending: %s before %s", gens[i].Timestamp, gens[i+1].Timestamp)
		}
	}
}

func TestBackup_QuiesceStopsAndRestarts(t *testing.T) {
	f := newFixture(t)
	writeFile(t, filepath.Join(f.mount, "a.txt"), "x")
	f.run(t)

	if len(f.fake.StopCalls) != 1 || len(f.fake.StartCalls) != 1 {
		t.Fatalf("stop=%v start=%v, want one of each", f.fake.StopCalls, f.fake.StartCalls)
	}
	if !f.fake.Workloads["web1"].Running {
		t.Fatal("workload left stopped after successful backup")
	}
}

func TestBackup_StoppedWorkloadStaysStopped(t *testing.T) {
	f := newFixture(t)
	f.fake.Workloads["web1"].Running = false
	writeFile(t, filepath.Join(f.mount, "a.txt"), "x")
	f.run(t)

	if len(f.fake.StopCalls) != 0 || len(f.fake.StartCalls) != 0 {
		t.Fatalf("stop=%v start=%v, want none", f.fake.StopCalls, f.fake.StartCalls)
	}
	if f.fake.Workloads["web1"].Running {
		t.Fatal("workload should remain stopped")
	}
}

func TestBackup_TransferFailureIsAtomic(t *testing.T) {
	f := newFixture(t)
	writeFile(t, filepath.Join(f.mount, "a.txt"), "v1")
	t1 := f.run(t)

	// cancel the run at the quiesced point; the transfer then fails
	ctx, cancel := context.WithCancel(context.Background())
	f.fake.StopHook = cancel
	_, err := f.backup.Run(ctx, "web1")
	var te *pipeline.TransferError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want TransferError", err)
	}

	// latest still points at the prior sealed generation
	latest, ok, _ := f.store.Latest("web1")
	if !ok || latest.Timestamp != t1.Timestamp {
		t.Fatalf("latest = %+v ok=%v, want %s", latest, ok, t1.Timestamp)
	}
	// the failed generation is gone entirely
	gens, _ := f.store.List("web1")
	if len(gens) != 1 || gens[0].Timestamp != t1.Timestamp {
		t.Fatalf("gens = %+v, want only %s", gens, t1.Timestamp)
	}
	// and the workload was restarted best-effort despite the failure
	if len(f.fake.StartCalls) == 0 {
		t.Fatal("no restart attempt after failed run")
	}
}

func TestBackup_QuiesceTimeoutAborts(t *testing.T) {
	f := newFixture(t)
	writeFile(t, filepath.Join(f.mount, "a.txt"), "v1")
	fw := f.fake.Workloads["web1"]
	fw.IgnoreStop = true
	fw.IgnoreKill = true

	_, err := f.backup.Run(context.Background(), "web1")
	if pipeline.ExitCode(err) != pipeline.ExitFailed {
		t.Fatalf("exit code = %d (err %v), want %d", pipeline.ExitCode(err), err, pipeline.ExitFailed)
	}
	if gens, _ := f.store.List("web1"); len(gens) != 0 {
		t.Fatalf("gens = %+v, want none", gens)
	}
}

func TestBackup_UnknownWorkload(t *testing.T) {
	f := newFixture(t)
	_, err := f.backup.Run(context.Background(), "ghost")
	if pipeline.ExitCode(err) != pipeline.ExitNotFound {
		t.Fatalf("exit code = %d (err %v), want %d", pipeline.ExitCode(err), err, pipeline.ExitNotFound)
	}
}

func TestBackup_NoMountsIsFatal(t *testing.T) {
	f := newFixture(t)
	f.fake.Workloads["web1"].Mounts = nil
	_, err := f.backup.Run(context.Background(), "web1")
	var nm *workload.NoMountsError
	if !errors.As(err, &nm) {
		t.Fatalf("err = %v, want NoMountsError", err)
	}
}

func TestBackup_ArchiveProduced(t *testing.T) {
	f := newFixture(t)
	f.backup.Opts.Archive = true
	writeFile(t, filepath.Join(f.mount, "a.txt"), "v1")
	gen := f.run(t)
	if _, err := os.Stat(f.store.ArchivePath(gen)); err != nil {
		t.Fatalf("archive missing: %v", err)
	}
}

func TestBackup_PackagingFailureLeavesLatestUnpromoted(t *testing.T) {
	f := newFixture(t)
	writeFile(t, filepath.Join(f.mount, "a.txt"), "v1")
	t1 := f.run(t)

	// a directory squatting on the artifact path makes the rename commit fail
	f.backup.Opts.Archive = true
	nextTS := f.clock.UTC().Format(generation.TimestampFormat)
	blocked := f.store.ArchivePath(generation.Generation{Workload: "web1", Timestamp: nextTS})
	if err := os.MkdirAll(blocked, 0o755); err != nil {
		t.Fatal(err)
	}

	_, err := f.backup.Run(context.Background(), "web1")
	var pe *pipeline.PackagingError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want PackagingError", err)
	}
	if pipeline.ExitCode(err) != pipeline.ExitFailed {
		t.Fatalf("exit code = %d, want %d", pipeline.ExitCode(err), pipeline.ExitFailed)
	}

	// latest still names the prior generation
	latest, ok, _ := f.store.Latest("web1")
	if !ok || latest.Timestamp != t1.Timestamp {
		t.Fatalf("latest = %+v ok=%v, want %s", latest, ok, t1.Timestamp)
	}
	// the new generation stays sealed but unpromoted
	gens, _ := f.store.List("web1")
	if len(gens) != 2 || !gens[0].Sealed || gens[0].Timestamp != nextTS {
		t.Fatalf("gens = %+v", gens)
	}
	// and ages out through retention like any non-latest generation
	p := retention.New(f.store, quietLogger())
	p.Now = func() time.Time { return f.clock.Add(time.Hour) }
	removed, err := p.Prune("web1", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if len(removed) != 1 || removed[0].Timestamp != nextTS {
		t.Fatalf("removed = %+v, want the unpromoted generation", removed)
	}
}

func TestBackup_MetadataCapturedBeforeStop(t *testing.T) {
	f := newFixture(t)
	writeFile(t, filepath.Join(f.mount, "a.txt"), "v1")
	gen := f.run(t)

	meta, err := workload.ReadMetadata(gen.Path)
	if err != nil {
		t.Fatal(err)
	}
	if !meta.Running {
		t.Fatal("metadata must reflect the running state before the stop")
	}
	if meta.Image != "nginx:1.25" || len(meta.Ports) != 1 || meta.Ports[0].HostPort != "8080" {
		t.Fatalf("metadata = %+v", meta)
	}
	if len(meta.Mounts) != 1 || meta.Mounts[0].HostPath != f.mount {
		t.Fatalf("metadata mounts = %+v", meta.Mounts)
	}
}

func sameFile(t *testing.T, a, b string) bool {
	t.Helper()
	ai, err := os.Stat(a)
	if err != nil {
		t.Fatal(err)
	}
	bi, err := os.Stat(b)
	if err != nil {
		t.Fatal(err)
	}
	return os.SameFile(ai, bi)
}
