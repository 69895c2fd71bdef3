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
	"genbak/src/synctree"
	"genbak/src/workload"
)

// RestoreOptions tune one restore run.
type RestoreOptions struct {
	// Generation selects a timestamp; empty means the latest pointer.
	Generation string
	// PathOverrides remap restore-time host paths, keyed by container path
	// (the stable mount identity). Unmapped mounts restore to their original
	// host path.
	PathOverrides map[string]string
	StopTimeout   time.Duration
	Parallel      int
	// Start controls whether a workload captured in the running state is
	// started after recreation.
	Start bool
}

// Binding pairs a captured mount with its resolved restore-time host path.
type Binding struct {
	Mount    workload.MountPoint
	HostPath string
}

// Restore rebuilds a workload from a sealed generation: data first, then a
// typed creation spec derived from the metadata blob. Restoring over an
// existing workload is destructive-replace, not merge.
type Restore struct {
	Client dockerapi.Client
	Store  *generation.Store
	Log    *logrus.Logger
	Opts   RestoreOptions
}

func (r *Restore) Run(ctx context.Context, ref string) error {
	runID := uuid.NewString()
	log := r.Log.WithFields(logrus.Fields{"workload": ref, "run": runID})

	release, err := r.Store.Lock(ref, runID)
	if err != nil {
		return err
	}
	defer release()

	gen, err := r.resolveGeneration(ref)
	if err != nil {
		return err
	}
	meta, err := workload.ReadMetadata(gen.Path)
	if err != nil {
		return err
	}
	spec, bindings, err := ReconcileSpec(meta, ref, r.Opts.PathOverrides, r.Log)
	if err != nil {
		return err
	}

	exists, err := r.Client.Exists(ctx, ref)
	if err != nil {
		return err
	}
	if exists {
		log.Infof("replacing existing workload from generation %s", gen.Timestamp)
		q := quiesce.New(r.Client, r.Log, r.Opts.StopTimeout)
		if _, err := q.Stop(ctx, ref); err != nil {
			return err
		}
		if err := r.Client.Remove(ctx, ref, true); err != nil {
			return err
		}
	}

	if err := r.transfer(ctx, gen, bindings); err != nil {
		return err
	}

	id, err := r.Client.Create(ctx, spec)
	if err != nil {
		return err
	}
	log.Infof("recreated workload as %s from generation %s", id, gen.Timestamp)

	if meta.Running && r.Opts.Start {
		if err := r.Client.Start(ctx, ref); err != nil {
			return err
		}
		log.Infof("workload started")
	}
	return nil
}

// resolveGeneration picks the restore source: the latest pointer by default,
// an explicit timestamp otherwise. A timestamp whose directory is gone but
// whose packaged archive survives is unpacked back into the chain first.
// Unsealed generations are never valid restore targets.
func (r *Restore) resolveGeneration(ref string) (generation.Generation, error) {
	if r.Opts.Generation == "" {
		gen, ok, err := r.Store.Latest(ref)
		if err != nil {
			return generation.Generation{}, err
		}
		if !ok {
			return generation.Generation{}, &NotFoundError{Kind: "generation", Ref: ref + " (no latest pointer)"}
		}
		return gen, nil
	}

	gen, err := r.Store.Get(ref, r.Opts.Generation)
	if os.IsNotExist(err) {
		gen = generation.Generation{Workload: ref, Timestamp: r.Opts.Generation}
		artifact := r.Store.ArchivePath(gen)
		if _, aerr := os.Stat(artifact); aerr != nil {
			return generation.Generation{}, &NotFoundError{Kind: "generation", Ref: ref + "/" + r.Opts.Generation}
		}
		r.Log.Infof("generation %s directory missing, unpacking archive %s", r.Opts.Generation, filepath.Base(artifact))
		if uerr := archive.Unpack(artifact, r.Store.WorkloadDir(ref)); uerr != nil {
			return generation.Generation{}, &PackagingError{Path: artifact, Err: uerr}
		}
		gen, err = r.Store.Get(ref, r.Opts.Generation)
	}
	if err != nil {
		return generation.Generation{}, err
	}
	if !gen.Sealed {
		return generation.Generation{}, &NotFoundError{Kind: "sealed generation", Ref: ref + "/" + gen.Timestamp}
	}
	return gen, nil
}

// transfer mirrors generation data onto the resolved host paths. A binding
// with no data in the generation is skipped: the workload may have gained
// volumes since this generation was taken.
func (r *Restore) transfer(ctx context.Context, gen generation.Generation, bindings []Binding) error {
	grp, gctx := errgroup.WithContext(ctx)
	limit := r.Opts.Parallel
	if limit < 1 {
		limit = 1
	}
	grp.SetLimit(limit)

	for _, bind := range bindings {
		bind := bind
		grp.Go(func() error {
			src := filepath.Join(gen.DataDir(), bind.Mount.PathKey())
			if _, err := os.Stat(src); err != nil {
				r.Log.Warnf("generation %s has no data for mount %s, skipping", gen.Timestamp, bind.Mount.ContainerPath)
				return nil
			}
			if err := synctree.Sync(gctx, src, bind.HostPath, ""); err != nil {
				return &TransferError{Mount: bind.HostPath, Err: err}
			}
			return nil
		})
	}
	return grp.Wait()
}

// ReconcileSpec inverts a metadata blob into a typed creation spec plus the
// mount bindings for the restore transfer. Port entries captured without a
// host port cannot be restored verbatim and are dropped with a warning.
func ReconcileSpec(meta workload.Metadata, name string, overrides map[string]string, log *logrus.Logger) (dockerapi.CreateSpec, []Binding, error) {
	if meta.Image == "" {
		return dockerapi.CreateSpec{}, nil, &IncompleteMetadata{Workload: name, Field: "image"}
	}
	spec := dockerapi.CreateSpec{
		Name:    name,
		Image:   meta.Image,
		Env:     meta.Env,
		Command: meta.Command,
	}
	for _, p := range meta.Ports {
		if p.HostPort == "" {
			log.Warnf("workload %s: port %s/%s was captured without a host port, dropping", name, p.ContainerPort, p.Protocol)
			continue
		}
		spec.Ports = append(spec.Ports, dockerapi.PortBinding{
			HostIP:        p.HostIP,
			HostPort:      p.HostPort,
			ContainerPort: p.ContainerPort,
			Protocol:      p.Protocol,
		})
	}
	var bindings []Binding
	for _, mp := range meta.Mounts {
		host := mp.HostPath
		if override, ok := overrides[mp.ContainerPath]; ok {
			host = override
		}
		bindings = append(bindings, Binding{Mount: mp, HostPath: host})
		spec.Binds = append(spec.Binds, host+":"+mp.ContainerPath)
	}
	return spec, bindings, nil
}
