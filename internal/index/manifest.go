package index

import (
	"encoding/json"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/vexsearch/vexroute/internal/version"
)

const (
	// CurrentManifestVersion is the manifest format version written by Publisher.
	CurrentManifestVersion = version.ManifestFormatVersionCurrent

	manifestDir = "manifests/"
	snapshotDir = "snapshots/"
)

// Manifest describes one published index build. It is stored at
// <prefix>manifests/<run_id>.json and points at the snapshot it describes.
type Manifest struct {
	// FormatVersion identifies the manifest format version for compatibility.
	FormatVersion int `json:"format_version"`

	// RunID identifies the build. Run ids are time-ordered, so the lexically
	// greatest manifest key is the most recent build.
	RunID string `json:"run_id"`

	GeneratedAt time.Time `json:"generated_at"`

	SnapshotKey  string `json:"snapshot_key"`
	SnapshotSize int64  `json:"snapshot_size"`

	// Fingerprint is the hex xxhash64 of the index layout, checked on load.
	Fingerprint string `json:"fingerprint"`

	Stats     Stats         `json:"stats"`
	Partition PartitionInfo `json:"partition"`
}

// PartitionInfo records how the partition behind an index was obtained.
type PartitionInfo struct {
	// Source is "precomputed", "computed" or "random".
	Source        string `json:"source"`
	Spherical     bool   `json:"spherical"`
	MaxIterations int    `json:"max_iterations"`
	Iterations    int    `json:"iterations"`
	Seed          int64  `json:"seed"`
	Init          string `json:"init,omitempty"`
}

// ManifestKey generates the object storage key for a manifest.
func ManifestKey(prefix, runID string) string {
	return prefix + manifestDir + runID + ".json"
}

// SnapshotKey generates the object storage key for a snapshot.
func SnapshotKey(prefix, runID string) string {
	return prefix + snapshotDir + runID + SnapshotExtension
}

// ManifestPrefix returns the key prefix under which manifests are listed.
func ManifestPrefix(prefix string) string {
	return prefix + manifestDir
}

// RunIDFromManifestKey extracts the run id from a manifest key.
func RunIDFromManifestKey(key string) string {
	return strings.TrimSuffix(path.Base(key), ".json")
}

// FormatFingerprint renders a fingerprint the way manifests store it.
func FormatFingerprint(fp uint64) string {
	return fmt.Sprintf("%016x", fp)
}

// ParseFingerprint parses a manifest fingerprint.
func ParseFingerprint(s string) (uint64, error) {
	return strconv.ParseUint(s, 16, 64)
}

// Validate checks if the manifest is valid.
func (m *Manifest) Validate() error {
	if err := version.CheckManifestVersion(m.FormatVersion); err != nil {
		return fmt.Errorf("invalid format_version: %w", err)
	}
	if m.RunID == "" {
		return fmt.Errorf("run_id is required")
	}
	if m.GeneratedAt.IsZero() {
		return fmt.Errorf("generated_at is required")
	}
	if m.SnapshotKey == "" {
		return fmt.Errorf("snapshot_key is required")
	}
	if _, err := ParseFingerprint(m.Fingerprint); err != nil {
		return fmt.Errorf("invalid fingerprint %q: %w", m.Fingerprint, err)
	}
	if m.Stats.NumClusters <= 0 {
		return fmt.Errorf("stats.num_clusters must be positive, got %d", m.Stats.NumClusters)
	}
	return nil
}

// Marshal renders the manifest as indented JSON.
func (m *Manifest) Marshal() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

// ParseManifest decodes and validates a manifest document.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}
