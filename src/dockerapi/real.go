package dockerapi

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/strslice"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/go-connections/nat"
)

// Real talks to the local Docker daemon through the official SDK.
type Real struct {
	cli *client.Client
}

// Connect builds a client from the environment (DOCKER_HOST et al) with API
// version negotiation, same as the docker CLI does.
func Connect() (*Real, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("connect to docker daemon: %w", err)
	}
	return &Real{cli: cli}, nil
}

func (r *Real) Close() error { return r.cli.Close() }

func (r *Real) Inspect(ctx context.Context, ref string) (Workload, error) {
	info, err := r.cli.ContainerInspect(ctx, ref)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return Workload{}, &NotFoundError{Ref: ref}
		}
		return Workload{}, fmt.Errorf("inspect %s: %w", ref, err)
	}

	w := Workload{
		ID:   info.ID,
		Name: strings.TrimPrefix(info.Name, "/"),
	}
	if info.State != nil {
		w.Running = info.State.Running
	}
	if info.Config != nil {
		w.Image = info.Config.Image
		w.Env = info.Config.Env
		w.Command = info.Config.Cmd
	}
	if info.NetworkSettings != nil {
		for portProto, bindings := range info.NetworkSettings.Ports {
			if len(bindings) == 0 {
				// exposed but unpublished; keep it so restore can log the drop
				w.Ports = append(w.Ports, PortBinding{
					ContainerPort: portProto.Port(),
					Protocol:      portProto.Proto(),
				})
				continue
			}
			for _, b := range bindings {
				w.Ports = append(w.Ports, PortBinding{
					HostIP:        b.HostIP,
					HostPort:      b.HostPort,
					ContainerPort: portProto.Port(),
					Protocol:      portProto.Proto(),
				})
			}
		}
		// map iteration order is random; keep the captured sequence stable
		sort.Slice(w.Ports, func(i, j int) bool {
			a, b := w.Ports[i], w.Ports[j]
			if a.ContainerPort != b.ContainerPort {
				return a.ContainerPort < b.ContainerPort
			}
			return a.HostPort < b.HostPort
		})
	}
	for _, m := range info.Mounts {
		w.Mounts = append(w.Mounts, Mount{
			Kind:        string(m.Type),
			Name:        m.Name,
			Source:      m.Source,
			Destination: m.Destination,
			RW:          m.RW,
		})
	}
	return w, nil
}

func (r *Real) Exists(ctx context.Context, ref string) (bool, error) {
	_, err := r.cli.ContainerInspect(ctx, ref)
	if err == nil {
		return true, nil
	}
	if errdefs.IsNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("inspect %s: %w", ref, err)
}

func (r *Real) Stop(ctx context.Context, ref string, timeout time.Duration) error {
	secs := int(timeout.Round(time.Second) / time.Second)
	err := r.cli.ContainerStop(ctx, ref, container.StopOptions{Timeout: &secs})
	if errdefs.IsNotFound(err) {
		return &NotFoundError{Ref: ref}
	}
	return err
}

func (r *Real) Kill(ctx context.Context, ref string) error {
	err := r.cli.ContainerKill(ctx, ref, "KILL")
	if errdefs.IsNotFound(err) {
		return &NotFoundError{Ref: ref}
	}
	return err
}

func (r *Real) Start(ctx context.Context, ref string) error {
	err := r.cli.ContainerStart(ctx, ref, container.StartOptions{})
	if errdefs.IsNotFound(err) {
		return &NotFoundError{Ref: ref}
	}
	return err
}

func (r *Real) Remove(ctx context.Context, ref string, force bool) error {
	err := r.cli.ContainerRemove(ctx, ref, container.RemoveOptions{Force: force})
	if errdefs.IsNotFound(err) {
		return &NotFoundError{Ref: ref}
	}
	return err
}

// Create recreates a workload from a CreateSpec and returns the new ID.
func (r *Real) Create(ctx context.Context, spec CreateSpec) (string, error) {
	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for _, p := range spec.Ports {
		proto := p.Protocol
		if proto == "" {
			proto = "tcp"
		}
		port, err := nat.NewPort(proto, p.ContainerPort)
		if err != nil {
			return "", fmt.Errorf("invalid port %s/%s: %w", p.ContainerPort, proto, err)
		}
		exposed[port] = struct{}{}
		bindings[port] = append(bindings[port], nat.PortBinding{HostIP: p.HostIP, HostPort: p.HostPort})
	}

	cfg := &container.Config{
		Image:        spec.Image,
		Env:          spec.Env,
		Cmd:          strslice.StrSlice(spec.Command),
		ExposedPorts: exposed,
	}
	hostCfg := &container.HostConfig{
		Binds:        spec.Binds,
		PortBindings: bindings,
	}
	resp, err := r.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, spec.Name)
	if err != nil {
		if errdefs.IsConflict(err) {
			return "", &ConflictError{Ref: spec.Name}
		}
		return "", fmt.Errorf("create %s: %w", spec.Name, err)
	}
	return resp.ID, nil
}
