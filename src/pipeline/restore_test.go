package pipeline_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"genbak/src/pipeline"
	"genbak/src/workload"
)

func newRestore(f *fixture, opts pipeline.RestoreOptions) *pipeline.Restore {
	if opts.StopTimeout == 0 {
		opts.StopTimeout = 5 * time.Second
	}
	return &pipeline.Restore{
		Client: f.fake,
		Store:  f.store,
		Log:    quietLogger(),
		Opts:   opts,
	}
}

func TestRestore_RoundTripAfterWorkloadRemoved(t *testing.T) {
	f := newFixture(t)
	writeFile(t, filepath.Join(f.mount, "a.txt"), "payload")
	writeFile(t, filepath.Join(f.mount, "sub", "b.txt"), "nested")
	gen := f.run(t)

	// runtime loses the workload and the host loses the data
	delete(f.fake.Workloads, "web1")
	if err := os.RemoveAll(f.mount); err != nil {
		t.Fatal(err)
	}

	r := newRestore(f, pipeline.RestoreOptions{Start: true})
	if err := r.Run(context.Background(), "web1"); err != nil {
		t.Fatalf("restore: %v", err)
	}

	// data is back
	for path, want := range map[string]string{
		filepath.Join(f.mount, "a.txt"):        "payload",
		filepath.Join(f.mount, "sub", "b.txt"): "nested",
	} {
		b, err := os.ReadFile(path)
		if err != nil || string(b) != want {
			t.Fatalf("%s = %q, err %v", path, b, err)
		}
	}

	// workload recreated with the captured configuration and started
	if len(f.fake.Created) != 1 {
		t.Fatalf("created = %+v", f.fake.Created)
	}
	spec := f.fake.Created[0]
	if spec.Image != "nginx:1.25" {
		t.Fatalf("image = %q", spec.Image)
	}
	if len(spec.Ports) != 1 || spec.Ports[0].HostPort != "8080" || spec.Ports[0].ContainerPort != "80" {
		t.Fatalf("ports = %+v", spec.Ports)
	}
	if len(spec.Env) != 1 || spec.Env[0] != "MODE=prod" {
		t.Fatalf("env = %+v", spec.Env)
	}
	if len(spec.Command) != 3 || spec.Command[0] != "nginx" {
		t.Fatalf("command = %+v", spec.Command)
	}
	if len(spec.Binds) != 1 || spec.Binds[0] != f.mount+":/data/web1" {
		t.Fatalf("binds = %+v", spec.Binds)
	}
	if !f.fake.Workloads["web1"].Running {
		t.Fatal("workload not started even though metadata captured it running")
	}
	_ = gen
}

func TestRestore_IsDestructiveReplace(t *testing.T) {
	f := newFixture(t)
	writeFile(t, filepath.Join(f.mount, "a.txt"), "v1")
	f.run(t)

	// host gained junk since the generation was taken
	writeFile(t, filepath.Join(f.mount, "junk.txt"), "later")

	r := newRestore(f, pipeline.RestoreOptions{})
	if err := r.Run(context.Background(), "web1"); err != nil {
		t.Fatalf("restore: %v", err)
	}

	if len(f.fake.RemoveCalls) != 1 {
		t.Fatalf("remove calls = %v, want the existing workload removed first", f.fake.RemoveCalls)
	}
	if _, err := os.Stat(filepath.Join(f.mount, "junk.txt")); !os.IsNotExist(err) {
		t.Fatalf("junk.txt should be mirrored away; stat err=%v", err)
	}
}

func TestRestore_Idempotent(t *testing.T) {
	f := newFixture(t)
	writeFile(t, filepath.Join(f.mount, "a.txt"), "stable")
	f.run(t)

	r := newRestore(f, pipeline.RestoreOptions{})
	if err := r.Run(context.Background(), "web1"); err != nil {
		t.Fatal(err)
	}
	first, err := os.ReadFile(filepath.Join(f.mount, "a.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Run(context.Background(), "web1"); err != nil {
		t.Fatal(err)
	}
	second, err := os.ReadFile(filepath.Join(f.mount, "a.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(first) != "stable" || string(first) != string(second) {
		t.Fatalf("restore not idempotent: %q then %q", first, second)
	}
}

func TestRestore_HostPathOverride(t *testing.T) {
	f := newFixture(t)
	writeFile(t, filepath.Join(f.mount, "a.txt"), "moving")
	f.run(t)
	delete(f.fake.Workloads, "web1")

	newHome := filepath.Join(t.TempDir(), "relocated")
	r := newRestore(f, pipeline.RestoreOptions{
		PathOverrides: map[string]string{"/data/web1": newHome},
	})
	if err := r.Run(context.Background(), "web1"); err != nil {
		t.Fatalf("restore: %v", err)
	}

	b, err := os.ReadFile(filepath.Join(newHome, "a.txt"))
	if err != nil || string(b) != "moving" {
		t.Fatalf("relocated a.txt = %q, err %v", b, err)
	}
	if got := f.fake.Created[0].Binds[0]; got != newHome+":/data/web1" {
		t.Fatalf("bind = %q, want override applied", got)
	}
	// the original host path was not touched
	if _, err := os.Stat(filepath.Join(f.mount, "a.txt")); err != nil {
		t.Fatalf("original mount content disturbed: %v", err)
	}
}

func TestRestore_ExplicitGeneration(t *testing.T) {
	f := newFixture(t)
	writeFile(t, filepath.Join(f.mount, "a.txt"), "old")
	t1 := f.run(t)
	time.Sleep(10 * time.Millisecond)
	writeFile(t, filepath.Join(f.mount, "a.txt"), "new")
	f.run(t)

	r := newRestore(f, pipeline.RestoreOptions{Generation: t1.Timestamp})
	if err := r.Run(context.Background(), "web1"); err != nil {
		t.Fatalf("restore: %v", err)
	}
	b, _ := os.ReadFile(filepath.Join(f.mount, "a.txt"))
	if string(b) != "old" {
		t.Fatalf("a.txt = %q, want content of %s", b, t1.Timestamp)
	}
}

func TestRestore_FromArchiveWhenDirectoryPruned(t *testing.T) {
	f := newFixture(t)
	f.backup.Opts.Archive = true
	writeFile(t, filepath.Join(f.mount, "a.txt"), "packed")
	gen := f.run(t)

	// simulate a pruned directory whose artifact survives
	if err := os.RemoveAll(gen.Path); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(f.store.WorkloadDir("web1"), "latest")); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(f.mount, "a.txt")); err != nil {
		t.Fatal(err)
	}

	r := newRestore(f, pipeline.RestoreOptions{Generation: gen.Timestamp})
	if err := r.Run(context.Background(), "web1"); err != nil {
		t.Fatalf("restore from archive: %v", err)
	}
	b, err := os.ReadFile(filepath.Join(f.mount, "a.txt"))
	if err != nil || string(b) != "packed" {
		t.Fatalf("a.txt = %q, err %v", b, err)
	}
}

func TestRestore_MissingGeneration(t *testing.T) {
	f := newFixture(t)
	r := newRestore(f, pipeline.RestoreOptions{Generation: "20200101T000000Z"})
	err := r.Run(context.Background(), "web1")
	if pipeline.ExitCode(err) != pipeline.ExitNotFound {
		t.Fatalf("exit code = %d (err %v), want %d", pipeline.ExitCode(err), err, pipeline.ExitNotFound)
	}
}

func TestRestore_RefusesUnsealedGeneration(t *testing.T) {
	f := newFixture(t)
	writeFile(t, filepath.Join(f.mount, "a.txt"), "x")
	f.run(t)
	partial, err := f.store.Create("web1", f.clock)
	if err != nil {
		t.Fatal(err)
	}
	r := newRestore(f, pipeline.RestoreOptions{Generation: partial.Timestamp})
	if err := r.Run(context.Background(), "web1"); pipeline.ExitCode(err) != pipeline.ExitNotFound {
		t.Fatalf("err = %v, want sealed-generation not-found", err)
	}
}

func TestRestore_SkipsMountWithoutGenerationData(t *testing.T) {
	f := newFixture(t)
	writeFile(t, filepath.Join(f.mount, "a.txt"), "x")
	gen := f.run(t)

	// metadata gains a mount the generation has no data for
	meta, err := workload.ReadMetadata(gen.Path)
	if err != nil {
		t.Fatal(err)
	}
	extra := filepath.Join(t.TempDir(), "extra")
	meta.Mounts = append(meta.Mounts, workload.MountPoint{
		HostPath: extra, ContainerPath: "/extra", Kind: "bind",
	})
	if err := workload.WriteMetadata(gen.Path, meta); err != nil {
		t.Fatal(err)
	}

	r := newRestore(f, pipeline.RestoreOptions{})
	if err := r.Run(context.Background(), "web1"); err != nil {
		t.Fatalf("restore should warn and continue: %v", err)
	}
	if _, err := os.Stat(extra); err == nil {
		t.Fatal("extra mount should have been skipped, not created")
	}
}

func TestRestore_RuntimeFailureIsRunFailure(t *testing.T) {
	f := newFixture(t)
	writeFile(t, filepath.Join(f.mount, "a.txt"), "x")
	f.run(t)
	f.fake.StartErr = errors.New("daemon unavailable")

	r := newRestore(f, pipeline.RestoreOptions{Start: true})
	err := r.Run(context.Background(), "web1")
	if err == nil {
		t.Fatal("expected the start failure to surface")
	}
	// a failure after the destructive-replace point is a run failure, never a
	// usage error
	if pipeline.ExitCode(err) != pipeline.ExitFailed {
		t.Fatalf("exit code = %d, want %d", pipeline.ExitCode(err), pipeline.ExitFailed)
	}
}

func TestReconcileSpec_DropsHostPortlessEntries(t *testing.T) {
	meta := workload.Metadata{
		Image: "redis:7",
		Ports: []workload.PortMapping{
			{HostPort: "6379", ContainerPort: "6379", Protocol: "tcp"},
			{ContainerPort: "16379", Protocol: "tcp"}, // exposed, never published
		},
	}
	spec, _, err := pipeline.ReconcileSpec(meta, "cache", nil, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	if len(spec.Ports) != 1 || spec.Ports[0].ContainerPort != "6379" {
		t.Fatalf("ports = %+v, want only the published one", spec.Ports)
	}
}

func TestReconcileSpec_MissingImageIsFatal(t *testing.T) {
	_, _, err := pipeline.ReconcileSpec(workload.Metadata{}, "web1", nil, quietLogger())
	var im *pipeline.IncompleteMetadata
	if !errors.As(err, &im) {
		t.Fatalf("err = %v, want IncompleteMetadata", err)
	}
}
