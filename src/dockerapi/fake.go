package dockerapi

import (
	"context"
	"time"
)

// FakeWorkload is the mutable state of one workload inside the fake runtime.
type FakeWorkload struct {
	Workload
	// IgnoreStop makes Stop a no-op so quiesce escalation can be exercised.
	IgnoreStop bool
	// IgnoreKill makes the forced stop a no-op too.
	IgnoreKill bool
}

// FakeClient is an in-memory Client implementation for unit tests.
type FakeClient struct {
	Workloads map[string]*FakeWorkload

	// call records, in order
	StopCalls   []string
	KillCalls   []string
	StartCalls  []string
	RemoveCalls []string
	Created     []CreateSpec

	// error hooks
	StartErr  error
	CreateErr error
	// StopHook runs after a successful Stop, before it returns. Tests use it
	// to fail or cancel a run at the quiesced point.
	StopHook func()
}

func NewFake() *FakeClient {
	return &FakeClient{Workloads: map[string]*FakeWorkload{}}
}

// Add seeds a workload and returns it for further tweaking.
func (f *FakeClient) Add(w Workload) *FakeWorkload {
	fw := &FakeWorkload{Workload: w}
	f.Workloads[w.Name] = fw
	return fw
}

func (f *FakeClient) get(ref string) (*FakeWorkload, error) {
	if fw, ok := f.Workloads[ref]; ok {
		return fw, nil
	}
	return nil, &NotFoundError{Ref: ref}
}

func (f *FakeClient) Inspect(ctx context.Context, ref string) (Workload, error) {
	fw, err := f.get(ref)
	if err != nil {
		return Workload{}, err
	}
	return fw.Workload, nil
}

func (f *FakeClient) Exists(ctx context.Context, ref string) (bool, error) {
	_, ok := f.Workloads[ref]
	return ok, nil
}

func (f *FakeClient) Stop(ctx context.Context, ref string, timeout time.Duration) error {
	fw, err := f.get(ref)
	if err != nil {
		return err
	}
	f.StopCalls = append(f.StopCalls, ref)
	if !fw.IgnoreStop {
		fw.Running = false
	}
	if f.StopHook != nil {
		f.StopHook()
	}
	return nil
}

func (f *FakeClient) Kill(ctx context.Context, ref string) error {
	fw, err := f.get(ref)
	if err != nil {
		return err
	}
	f.KillCalls = append(f.KillCalls, ref)
	if !fw.IgnoreKill {
		fw.Running = false
	}
	return nil
}

func (f *FakeClient) Start(ctx context.Context, ref string) error {
	fw, err := f.get(ref)
	if err != nil {
		return err
	}
	f.StartCalls = append(f.StartCalls, ref)
	if f.StartErr != nil {
		return f.StartErr
	}
	fw.Running = true
	return nil
}

func (f *FakeClient) Create(ctx context.Context, spec CreateSpec) (string, error) {
	if f.CreateErr != nil {
		return "", f.CreateErr
	}
	if _, ok := f.Workloads[spec.Name]; ok {
		return "", &ConflictError{Ref: spec.Name}
	}
	f.Created = append(f.Created, spec)
	w := Workload{
		ID:      "fake-" + spec.Name,
		Name:    spec.Name,
		Image:   spec.Image,
		Env:     spec.Env,
		Command: spec.Command,
		Ports:   spec.Ports,
	}
	for _, b := range spec.Binds {
		if src, dst, ok := splitBind(b); ok {
			w.Mounts = append(w.Mounts, Mount{Kind: MountBind, Source: src, Destination: dst, RW: true})
		}
	}
	f.Workloads[spec.Name] = &FakeWorkload{Workload: w}
	return w.ID, nil
}

func (f *FakeClient) Remove(ctx context.Context, ref string, force bool) error {
	fw, err := f.get(ref)
	if err != nil {
		return err
	}
	if fw.Running && !force {
		return &ConflictError{Ref: ref}
	}
	f.RemoveCalls = append(f.RemoveCalls, ref)
	delete(f.Workloads, ref)
	return nil
}

func splitBind(b string) (src, dst string, ok bool) {
	for i := 0; i < len(b); i++ {
		if b[i] == ':' {
			return b[:i], b[i+1:], true
		}
	}
	return "", "", false
}
