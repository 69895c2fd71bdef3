package dockerapi

import (
	"context"
	"time"
)

// Mount kinds as reported by the runtime.
const (
	MountBind   = "bind"
	MountVolume = "volume"
)

// Mount is one data mount attached to a workload.
type Mount struct {
	Kind        string // bind|volume
	Name        string // volume name, empty for binds
	Source      string // host-side path
	Destination string // path inside the workload
	RW          bool
}

// PortBinding is one published port of a workload.
type PortBinding struct {
	HostIP        string
	HostPort      string
	ContainerPort string
	Protocol      string // tcp|udp
}

// Workload is the subset of container state genbak captures and restores.
type Workload struct {
	ID      string
	Name    string
	Running bool
	Image   string
	Ports   []PortBinding
	Env     []string
	Command []string
	Mounts  []Mount
}

// CreateSpec carries everything needed to recreate a workload. It is handed
// to the runtime as structured data, never rendered into a command line.
type CreateSpec struct {
	Name    string
	Image   string
	Env     []string
	Command []string
	Ports   []PortBinding
	Binds   []string // hostPath:containerPath
}

// Client is a narrow interface over the container runtime used by genbak.
// Keep it small and focused on what we actually need so it stays mockable.
type Client interface {
	Inspect(ctx context.Context, ref string) (Workload, error)
	Exists(ctx context.Context, ref string) (bool, error)
	Stop(ctx context.Context, ref string, timeout time.Duration) error
	Kill(ctx context.Context, ref string) error
	Start(ctx context.Context, ref string) error
	Create(ctx context.Context, spec CreateSpec) (string, error)
	Remove(ctx context.Context, ref string, force bool) error
}

type NotFoundError struct{ Ref string }

func (e *NotFoundError) Error() string { return "workload not found: " + e.Ref }

type ConflictError struct{ Ref string }

func (e *ConflictError) Error() string { return "workload already exists: " + e.Ref }
