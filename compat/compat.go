// Package compat implements the compatibility and migration engine (C10):
// a matrix of known interface versions, each declaring what it can load
// unmodified and an optional migration path to the current version.
package compat

import (
	"fmt"
)

// MigrationFunc transforms a manifest-shaped map from one interface
// version to the next. Migrations are pure: same input always produces
// the same output.
type MigrationFunc func(shape map[string]any) (map[string]any, error)

// VersionEntry describes one known interface version in the matrix.
type VersionEntry struct {
	Version string
	// SupportsUnmodified lists interface versions this entry can load
	// without any migration.
	SupportsUnmodified []string
	// Deprecated marks a version still supported but scheduled for
	// removal.
	Deprecated bool
	// MigrateToNext transforms a manifest shaped for this version into
	// the shape of the next version in sequence. Nil for the current
	// (latest) version.
	MigrateToNext MigrationFunc
}

// Matrix is the ordered registry of known interface versions, earliest
// first.
type Matrix struct {
	order   []string
	entries map[string]VersionEntry
}

// NewMatrix builds a Matrix from entries in version order (earliest to
// current/latest).
func NewMatrix(entries []VersionEntry) *Matrix {
	m := &Matrix{entries: make(map[string]VersionEntry, len(entries))}
	for _, e := range entries {
		m.order = append(m.order, e.Version)
		m.entries[e.Version] = e
	}
	return m
}

// Report is the outcome of checking a plugin's declared API version
// against a host's.
type Report struct {
	IsValid       bool
	IsSupported   bool
	IsDeprecated  bool
	IsCompatible  bool
	MigrationPath []string
	Errors        []string
	Warnings      []string
}

// earliest returns the earliest known version, used when apiVersion is
// absent from a manifest.
func (m *Matrix) earliest() string {
	if len(m.order) == 0 {
		return ""
	}
	return m.order[0]
}

func (m *Matrix) latest() string {
	if len(m.order) == 0 {
		return ""
	}
	return m.order[len(m.order)-1]
}

func (m *Matrix) indexOf(version string) int {
	for i, v := range m.order {
		if v == version {
			return i
		}
	}
	return -1
}

// Check evaluates pluginAPIVersion against hostAPIVersion. An empty
// pluginAPIVersion is treated as the earliest known version.
func (m *Matrix) Check(pluginAPIVersion, hostAPIVersion string) Report {
	if pluginAPIVersion == "" {
		pluginAPIVersion = m.earliest()
	}
	if hostAPIVersion == "" {
		hostAPIVersion = m.latest()
	}

	var rep Report

	pluginEntry, known := m.entries[pluginAPIVersion]
	if !known {
		rep.Errors = append(rep.Errors, fmt.Sprintf("unknown plugin apiVersion %q", pluginAPIVersion))
		return rep
	}
	hostEntry, hostKnown := m.entries[hostAPIVersion]
	if !hostKnown {
		rep.Errors = append(rep.Errors, fmt.Sprintf("unknown host apiVersion %q", hostAPIVersion))
		return rep
	}

	rep.IsValid = true
	rep.IsSupported = true
	rep.IsDeprecated = pluginEntry.Deprecated

	for _, v := range hostEntry.SupportsUnmodified {
		if v == pluginAPIVersion {
			rep.IsCompatible = true
			break
		}
	}
	if pluginAPIVersion == hostAPIVersion {
		rep.IsCompatible = true
	}

	if rep.IsDeprecated {
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("apiVersion %q is deprecated", pluginAPIVersion))
	}

	if !rep.IsCompatible {
		path, err := m.migrationPath(pluginAPIVersion, hostAPIVersion)
		if err != nil {
			rep.Errors = append(rep.Errors, err.Error())
		} else {
			rep.MigrationPath = path
		}
	}

	return rep
}

// migrationPath returns the ordered list of versions a manifest must be
// migrated through to go from start to target, inclusive of target.
func (m *Matrix) migrationPath(start, target string) ([]string, error) {
	si, ti := m.indexOf(start), m.indexOf(target)
	if si < 0 || ti < 0 {
		return nil, fmt.Errorf("compat: unknown version in path %q -> %q", start, target)
	}
	if si > ti {
		return nil, fmt.Errorf("compat: no forward migration path from %q to %q", start, target)
	}
	var path []string
	for i := si + 1; i <= ti; i++ {
		path = append(path, m.order[i])
	}
	return path, nil
}

// Migrate applies each migration step along path in order, starting from
// shape authored at fromVersion. Migrations run in sequence; a failure at
// any step aborts and returns the partial error.
func (m *Matrix) Migrate(fromVersion string, shape map[string]any, path []string) (map[string]any, error) {
	current := fromVersion
	out := shape
	for _, next := range path {
		entry, ok := m.entries[current]
		if !ok || entry.MigrateToNext == nil {
			return nil, fmt.Errorf("compat: no migration registered from %q to %q", current, next)
		}
		migrated, err := entry.MigrateToNext(out)
		if err != nil {
			return nil, fmt.Errorf("compat: migration %q -> %q: %w", current, next, err)
		}
		out = migrated
		current = next
	}
	return out, nil
}

// Versions returns the known versions in registration order (earliest to
// latest).
func (m *Matrix) Versions() []string {
	return append([]string{}, m.order...)
}
