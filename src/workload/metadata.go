// Package workload captures and persists the restorable description of a
// managed container: its run state, image, ports, environment, command and
// data mounts.
package workload

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"genbak/src/dockerapi"
)

// MetadataFile is the blob name stored inside each generation.
const MetadataFile = "metadata.json"

// MountPoint is one host-side data path to preserve.
type MountPoint struct {
	HostPath      string `json:"hostPath"`
	ContainerPath string `json:"containerPath"`
	Kind          string `json:"kind"` // bind|volume
}

// PortMapping is one captured publish entry. HostPort may be empty when the
// port was exposed but never published; restore drops such entries.
type PortMapping struct {
	HostIP        string `json:"hostIP,omitempty"`
	HostPort      string `json:"hostPort,omitempty"`
	ContainerPort string `json:"containerPort"`
	Protocol      string `json:"protocol,omitempty"`
}

// Metadata is the full restorable description of a workload, persisted
// verbatim alongside the generation it belongs to.
type Metadata struct {
	Workload   string        `json:"workload"`
	CapturedAt time.Time     `json:"capturedAt"`
	Running    bool          `json:"running"`
	Image      string        `json:"image"`
	Ports      []PortMapping `json:"ports,omitempty"`
	Env        []string      `json:"env,omitempty"`
	Command    []string      `json:"command,omitempty"`
	Mounts     []MountPoint  `json:"mounts"`
}

// Capture builds Metadata from a runtime inspect result. Mounts are filled in
// separately by the enumerator so they reflect the exact transfer set.
func Capture(w dockerapi.Workload, now time.Time) Metadata {
	m := Metadata{
		Workload:   w.Name,
		CapturedAt: now.UTC(),
		Running:    w.Running,
		Image:      w.Image,
		Env:        w.Env,
		Command:    w.Command,
	}
	for _, p := range w.Ports {
		m.Ports = append(m.Ports, PortMapping{
			HostIP:        p.HostIP,
			HostPort:      p.HostPort,
			ContainerPort: p.ContainerPort,
			Protocol:      p.Protocol,
		})
	}
	return m
}

// PathKey derives the directory name a mount's data is stored under inside a
// generation: /data/web1 -> data_web1. The metadata mount list keeps the
// reverse mapping.
func (m MountPoint) PathKey() string {
	key := strings.Trim(filepath.ToSlash(m.HostPath), "/")
	return strings.ReplaceAll(key, "/", "_")
}

// WriteMetadata persists the blob as indented JSON.
func WriteMetadata(dir string, m Metadata) error {
	f, err := os.Create(filepath.Join(dir, MetadataFile))
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	return nil
}

// ReadMetadata loads a persisted blob back.
func ReadMetadata(dir string) (Metadata, error) {
	b, err := os.ReadFile(filepath.Join(dir, MetadataFile))
	if err != nil {
		return Metadata{}, err
	}
	var m Metadata
	if err := json.Unmarshal(b, &m); err != nil {
		return Metadata{}, fmt.Errorf("decode metadata: %w", err)
	}
	return m, nil
}
