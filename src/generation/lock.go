package generation

import (
	"fmt"
	"os"
	"path/filepath"
)

// LockedError reports that another run already holds a workload's lock.
type LockedError struct {
	Workload string
	Holder   string
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("workload %s is locked by another run (%s)", e.Workload, e.Holder)
}

// Lock serializes pipeline runs per workload. The lock file is created
// exclusively and holds the run ID and pid; it lives for the whole run.
// A leftover lock after a crash must be removed by the operator.
func (s *Store) Lock(workload, runID string) (release func(), err error) {
	dir := s.WorkloadDir(workload)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, lockFile)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			holder, _ := os.ReadFile(path)
			return nil, &LockedError{Workload: workload, Holder: string(holder)}
		}
		return nil, err
	}
	fmt.Fprintf(f, "%s pid=%d\n", runID, os.Getpid())
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, err
	}
	return func() { _ = os.Remove(path) }, nil
}
