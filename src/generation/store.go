// Package generation manages the on-disk chain of timestamped backup
// generations for each workload: naming, sealing, the latest pointer and the
// per-workload run lock.
package generation

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// TimestampFormat is the string-sortable generation token.
const TimestampFormat = "20060102T150405Z"

const (
	workloadsDir = "workloads"
	dataDir      = "data"
	sealedMarker = ".sealed"
	latestFile   = "latest"
	lockFile     = ".lock"
)

// Generation is one timestamped backup of a workload.
type Generation struct {
	Workload  string
	Timestamp string
	Path      string
	Sealed    bool
}

// DataDir is where the generation's mount trees live.
func (g Generation) DataDir() string { return filepath.Join(g.Path, dataDir) }

// Time parses the timestamp token back into a point in time.
func (g Generation) Time() (time.Time, error) {
	return time.Parse(TimestampFormat, g.Timestamp)
}

// Store owns the generation directories and the latest pointer for every
// workload under one target root. No other component mutates them.
type Store struct {
	Root string
}

func NewStore(root string) (*Store, error) {
	if root == "" {
		return nil, errors.New("store root must not be empty")
	}
	if err := os.MkdirAll(filepath.Join(root, workloadsDir), 0o755); err != nil {
		return nil, fmt.Errorf("prepare store root: %w", err)
	}
	return &Store{Root: root}, nil
}

// WorkloadDir is the per-workload directory holding the chain.
func (s *Store) WorkloadDir(workload string) string {
	return filepath.Join(s.Root, workloadsDir, workload)
}

// ArchivePath is where the packaged artifact for a generation lives.
func (s *Store) ArchivePath(g Generation) string {
	return filepath.Join(s.WorkloadDir(g.Workload), fmt.Sprintf("%s-%s.tar.gz", g.Workload, g.Timestamp))
}

// Create allocates a new unsealed generation. Timestamps must be unique and
// strictly increasing per workload; a token equal to or older than an existing
// one is refused.
func (s *Store) Create(workload string, now time.Time) (Generation, error) {
	ts := now.UTC().Format(TimestampFormat)
	existing, err := s.List(workload)
	if err != nil {
		return Generation{}, err
	}
	for _, g := range existing {
		if ts <= g.Timestamp {
			return Generation{}, fmt.Errorf("generation %s for %s is not newer than existing %s", ts, workload, g.Timestamp)
		}
	}
	g := Generation{
		Workload:  workload,
		Timestamp: ts,
		Path:      filepath.Join(s.WorkloadDir(workload), ts),
	}
	if err := os.MkdirAll(g.DataDir(), 0o755); err != nil {
		return Generation{}, fmt.Errorf("create generation %s: %w", ts, err)
	}
	return g, nil
}

// Seal marks a generation complete. Idempotent.
func (s *Store) Seal(g Generation) (Generation, error) {
	if g.Sealed {
		return g, nil
	}
	f, err := os.OpenFile(filepath.Join(g.Path, sealedMarker), os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return g, fmt.Errorf("seal generation %s: %w", g.Timestamp, err)
	}
	if err := f.Close(); err != nil {
		return g, err
	}
	g.Sealed = true
	return g, nil
}

// Latest resolves the latest pointer. ok is false when no generation has ever
// been committed for the workload.
func (s *Store) Latest(workload string) (Generation, bool, error) {
	b, err := os.ReadFile(filepath.Join(s.WorkloadDir(workload), latestFile))
	if err != nil {
		if os.IsNotExist(err) {
			return Generation{}, false, nil
		}
		return Generation{}, false, err
	}
	ts := strings.TrimSpace(string(b))
	g, err := s.Get(workload, ts)
	if err != nil {
		return Generation{}, false, fmt.Errorf("latest pointer of %s refers to missing generation %s: %w", workload, ts, err)
	}
	return g, true, nil
}

// AdvanceLatest atomically commits a sealed generation as the new latest.
// This is the single commit point of a backup: the pointer is written to a
// temp file and renamed into place so a crash never leaves it torn.
func (s *Store) AdvanceLatest(g Generation) error {
	if !g.Sealed {
		return fmt.Errorf("refusing to advance latest pointer of %s to unsealed generation %s", g.Workload, g.Timestamp)
	}
	dir := s.WorkloadDir(g.Workload)
	tmp, err := os.CreateTemp(dir, latestFile+".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.WriteString(g.Timestamp + "\n"); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, latestFile)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("advance latest pointer of %s: %w", g.Workload, err)
	}
	return nil
}

// Get loads one generation by timestamp.
func (s *Store) Get(workload, ts string) (Generation, error) {
	p := filepath.Join(s.WorkloadDir(workload), ts)
	info, err := os.Stat(p)
	if err != nil {
		return Generation{}, err
	}
	if !info.IsDir() {
		return Generation{}, fmt.Errorf("%s is not a generation directory", p)
	}
	g := Generation{Workload: workload, Timestamp: ts, Path: p}
	if _, err := os.Stat(filepath.Join(p, sealedMarker)); err == nil {
		g.Sealed = true
	}
	return g, nil
}

// List returns all generations of a workload sorted by timestamp descending,
// sealed and unsealed alike.
func (s *Store) List(workload string) ([]Generation, error) {
	entries, err := os.ReadDir(s.WorkloadDir(workload))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []Generation
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		g, err := s.Get(workload, e.Name())
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	return out, nil
}

// Workloads lists every workload that has a chain under the root.
func (s *Store) Workloads() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.Root, workloadsDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// Remove deletes a generation directory and its packaged archive, if any.
func (s *Store) Remove(g Generation) error {
	if err := os.RemoveAll(g.Path); err != nil {
		return err
	}
	if err := os.Remove(s.ArchivePath(g)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// TreeSize walks a generation and sums file sizes, for list output.
func (s *Store) TreeSize(g Generation) int64 {
	var total int64
	_ = filepath.Walk(g.Path, func(_ string, info os.FileInfo, err error) error {
		if err == nil && info.Mode().IsRegular() {
			total += info.Size()
		}
		return nil
	})
	return total
}
