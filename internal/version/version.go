// Package version tracks the on-object format versions of published index
// builds and decides which of them this binary can read.
//
// Readers accept the current version and the one before it, so a search
// process can keep serving builds published by an older builder while a new
// one rolls out.
package version

import (
	"fmt"
)

// Format versions for on-object formats.
const (
	// SnapshotFormatVersionCurrent is the current index snapshot layout version.
	SnapshotFormatVersionCurrent = 1
	// SnapshotFormatVersionMin is the minimum snapshot version this binary can read.
	SnapshotFormatVersionMin = 1

	// ManifestFormatVersionCurrent is the current build manifest format version.
	ManifestFormatVersionCurrent = 1
	// ManifestFormatVersionMin is the minimum manifest version this binary can read.
	ManifestFormatVersionMin = 1
)

// SupportedVersions is the readable version range of one format.
type SupportedVersions struct {
	CurrentVersion int
	MinVersion     int
}

// SnapshotVersions returns the supported snapshot format versions.
func SnapshotVersions() SupportedVersions {
	return SupportedVersions{
		CurrentVersion: SnapshotFormatVersionCurrent,
		MinVersion:     SnapshotFormatVersionMin,
	}
}

// ManifestVersions returns the supported manifest format versions.
func ManifestVersions() SupportedVersions {
	return SupportedVersions{
		CurrentVersion: ManifestFormatVersionCurrent,
		MinVersion:     ManifestFormatVersionMin,
	}
}

// CanRead returns true if the given version is readable.
func (sv SupportedVersions) CanRead(version int) bool {
	return version >= sv.MinVersion && version <= sv.CurrentVersion
}

// ErrVersionTooOld indicates a format version is older than the minimum supported.
type ErrVersionTooOld struct {
	Format     string
	Version    int
	MinVersion int
}

func (e *ErrVersionTooOld) Error() string {
	return fmt.Sprintf("%s format version %d is too old (minimum: %d)", e.Format, e.Version, e.MinVersion)
}

// ErrVersionTooNew indicates a format version is newer than this binary can read.
type ErrVersionTooNew struct {
	Format         string
	Version        int
	CurrentVersion int
}

func (e *ErrVersionTooNew) Error() string {
	return fmt.Sprintf("%s format version %d is too new (current: %d)", e.Format, e.Version, e.CurrentVersion)
}

func check(format string, sv SupportedVersions, version int) error {
	if version < sv.MinVersion {
		return &ErrVersionTooOld{Format: format, Version: version, MinVersion: sv.MinVersion}
	}
	if version > sv.CurrentVersion {
		return &ErrVersionTooNew{Format: format, Version: version, CurrentVersion: sv.CurrentVersion}
	}
	return nil
}

// CheckSnapshotVersion validates a snapshot layout version is readable.
func CheckSnapshotVersion(version int) error {
	return check("snapshot", SnapshotVersions(), version)
}

// CheckManifestVersion validates a manifest format version is readable.
func CheckManifestVersion(version int) error {
	return check("manifest", ManifestVersions(), version)
}
