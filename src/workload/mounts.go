package workload

import (
	"fmt"
	"os"
	"sort"

	"github.com/sirupsen/logrus"

	"genbak/src/dockerapi"
)

// NoMountsError reports that nothing was left to back up after filtering.
// A workload expected to have persistent state with no usable mounts is a
// misconfiguration, not a successful no-op.
type NoMountsError struct{ Workload string }

func (e *NoMountsError) Error() string {
	return fmt.Sprintf("no usable data mounts found for workload %s", e.Workload)
}

// EnumerateMounts derives the set of host paths to preserve from a runtime
// mount list. Bind and volume mounts are kept; entries whose host path is not
// an existing directory are skipped with a warning. The result is deduplicated
// by host path and sorted so callers see a stable order regardless of how the
// runtime reported them.
func EnumerateMounts(name string, mounts []dockerapi.Mount, log *logrus.Logger) ([]MountPoint, error) {
	seen := map[string]MountPoint{}
	keys := map[string]string{}
	for _, m := range mounts {
		if m.Kind != dockerapi.MountBind && m.Kind != dockerapi.MountVolume {
			log.Warnf("workload %s: skipping unsupported %s mount at %s", name, m.Kind, m.Destination)
			continue
		}
		if m.Source == "" {
			log.Warnf("workload %s: mount %s has no host path, skipping", name, m.Destination)
			continue
		}
		info, err := os.Stat(m.Source)
		if err != nil || !info.IsDir() {
			log.Warnf("workload %s: host path %s is not an existing directory, skipping", name, m.Source)
			continue
		}
		if _, dup := seen[m.Source]; dup {
			continue
		}
		mp := MountPoint{HostPath: m.Source, ContainerPath: m.Destination, Kind: m.Kind}
		if prev, clash := keys[mp.PathKey()]; clash {
			return nil, fmt.Errorf("workload %s: mounts %s and %s map to the same storage key %s",
				name, prev, m.Source, mp.PathKey())
		}
		keys[mp.PathKey()] = m.Source
		seen[m.Source] = mp
	}
	if len(seen) == 0 {
		return nil, &NoMountsError{Workload: name}
	}
	out := make([]MountPoint, 0, len(seen))
	for _, mp := range seen {
		out = append(out, mp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HostPath < out[j].HostPath })
	return out, nil
}
