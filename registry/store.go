// Package registry implements the plugin registry: an in-memory store of
// uploaded plugin archives, keyed by name and version, plus the HTTP
// surface in §6. It is grounded on the reference stack's VersionStore: a
// mutex-guarded map rather than a database, versions kept in upload order,
// with an explicit promote/rollback step instead of last-write-wins.
package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/GoCodeAlone/pluginhost/semver"
)

// Status is a plugin version's lifecycle state within the registry.
type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
)

// Record is one plugin version's metadata row.
type Record struct {
	Name          string
	Version       string
	UploadedAt    time.Time
	FileSize      int64
	Checksum      string
	Status        Status
	DownloadCount int64
}

type artifactKey struct{ name, version string }

// entry is a plugin's full version history plus its active pointer.
type entry struct {
	records    map[string]*Record // version -> record
	order      []string           // versions in upload order
	active     string             // currently active version, "" if none
	lastActive string             // active version before the most recent promote, for Rollback
}

// Store is the in-memory plugin registry. All methods are safe for
// concurrent use.
type Store struct {
	mu        sync.RWMutex
	entries   map[string]*entry
	artifacts map[artifactKey][]byte
	maxSize   int64
}

// NewStore constructs an empty Store. maxSize bounds a single uploaded
// artifact in bytes; uploads beyond it fail with ErrTooLarge.
func NewStore(maxSize int64) *Store {
	return &Store{
		entries:   make(map[string]*entry),
		artifacts: make(map[artifactKey][]byte),
		maxSize:   maxSize,
	}
}

// Upload stores a new plugin archive. The first version uploaded for a
// name becomes active automatically; later uploads land as archived until
// explicitly promoted, so a bad upload never silently displaces what is
// currently serving.
func (s *Store) Upload(name, version string, data []byte) (*Record, error) {
	if name == "" || version == "" {
		return nil, fmt.Errorf("%w: name and version are required", ErrInvalidUpload)
	}
	if _, err := semver.Parse(version); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVersionInvalid, err)
	}
	if s.maxSize > 0 && int64(len(data)) > s.maxSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[name]
	if !ok {
		e = &entry{records: make(map[string]*Record)}
		s.entries[name] = e
	}
	if _, dup := e.records[version]; dup {
		return nil, fmt.Errorf("%w: %s@%s already exists", ErrDuplicate, name, version)
	}
	sum := sha256.Sum256(data)
	checksum := hex.EncodeToString(sum[:])
	for _, r := range e.records {
		if r.Checksum == checksum {
			return nil, fmt.Errorf("%w: identical checksum already uploaded as %s@%s", ErrDuplicate, name, r.Version)
		}
	}

	status := StatusArchived
	if e.active == "" {
		status = StatusActive
	}
	rec := &Record{
		Name:       name,
		Version:    version,
		UploadedAt: time.Now(),
		FileSize:   int64(len(data)),
		Checksum:   checksum,
		Status:     status,
	}
	e.records[version] = rec
	e.order = append(e.order, version)
	if status == StatusActive {
		e.active = version
	}
	s.artifacts[artifactKey{name, version}] = data

	return rec, nil
}

// Get returns the active version's record for name.
func (s *Store) Get(name string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[name]
	if !ok || e.active == "" {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return cloneRecord(e.records[e.active]), nil
}

// List returns a page of plugins (one row per name, its active version)
// starting at offset, bounded by limit, plus the total plugin count.
func (s *Store) List(offset, limit int) ([]Record, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	sort.Strings(names)

	total := len(names)
	if offset >= total {
		return nil, total
	}
	end := offset + limit
	if end > total {
		end = total
	}

	out := make([]Record, 0, end-offset)
	for _, name := range names[offset:end] {
		e := s.entries[name]
		if e.active == "" {
			continue
		}
		out = append(out, *e.records[e.active])
	}
	return out, total
}

// ListVersions returns every version of name, oldest first.
func (s *Store) ListVersions(name string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	out := make([]Record, 0, len(e.order))
	for _, v := range e.order {
		out = append(out, *e.records[v])
	}
	return out, nil
}

// GetVersion returns one specific version's record.
func (s *Store) GetVersion(name, version string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	r, ok := e.records[version]
	if !ok {
		return nil, fmt.Errorf("%w: %s@%s", ErrNotFound, name, version)
	}
	return cloneRecord(r), nil
}

// Download returns the artifact bytes for a version, plus its record with
// DownloadCount incremented. An empty version downloads the active one.
func (s *Store) Download(name, version string) ([]byte, *Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if version == "" {
		if e.active == "" {
			return nil, nil, fmt.Errorf("%w: %s has no active version", ErrNotFound, name)
		}
		version = e.active
	}
	r, ok := e.records[version]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s@%s", ErrNotFound, name, version)
	}
	data, ok := s.artifacts[artifactKey{name, version}]
	if !ok {
		return nil, nil, fmt.Errorf("%w: artifact missing for %s@%s", ErrNotFound, name, version)
	}
	r.DownloadCount++
	return data, cloneRecord(r), nil
}

// Delete removes every version of name and its artifacts.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	for _, v := range e.order {
		delete(s.artifacts, artifactKey{name, v})
	}
	delete(s.entries, name)
	return nil
}

// Promote marks version active for name, archiving the previously-active
// version. The previous active version is remembered for one Rollback.
func (s *Store) Promote(name, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	r, ok := e.records[version]
	if !ok {
		return fmt.Errorf("%w: %s@%s", ErrNotFound, name, version)
	}
	if e.active != "" && e.active != version {
		e.records[e.active].Status = StatusArchived
		e.lastActive = e.active
	}
	r.Status = StatusActive
	e.active = version
	return nil
}

// Rollback reactivates the version that was active before the most recent
// Promote call. It fails with ErrNoVersions if there is nothing to roll
// back to.
func (s *Store) Rollback(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if e.lastActive == "" || e.lastActive == e.active {
		return fmt.Errorf("%w: no prior promotion to roll back to for %s", ErrNoVersions, name)
	}
	prev := e.lastActive
	if e.active != "" {
		e.records[e.active].Status = StatusArchived
	}
	e.records[prev].Status = StatusActive
	e.active, e.lastActive = prev, ""
	return nil
}

func cloneRecord(r *Record) *Record {
	c := *r
	return &c
}
