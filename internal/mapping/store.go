// Package mapping implements the deterministic container-id to VMID
// mapping store (spec §4.2): allocation via hash-and-probe, durable JSON
// persistence, and an advisory file lock guarding concurrent processes.
package mapping

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gofrs/flock"

	"github.com/CageForge/nexcage/internal/idvalidate"
	"github.com/CageForge/nexcage/internal/nexerr"
)

const maxProbeBudget = 10_000

// Entry is one persisted mapping record (spec §3).
type Entry struct {
	ContainerID string `json:"container_id"`
	VMID        int    `json:"vmid"`
	CreatedAt   int64  `json:"created_at"`
	BundlePath  string `json:"bundle_path"`
}

// Store is the mapping.json-backed store. It is not safe for concurrent
// use from multiple goroutines in one process without external
// synchronization, matching NexCage's one-shot-process model; cross
// process safety is provided by the advisory file lock.
type Store struct {
	path     string
	lockPath string
	nowFunc  func() int64
}

// New constructs a Store backed by the mapping file at path.
func New(path string) *Store {
	return &Store{
		path:     path,
		lockPath: path + ".lock",
		nowFunc:  func() int64 { return time.Now().Unix() },
	}
}

type document struct {
	entries map[string]Entry
}

// load reads and parses the mapping file. A missing file is treated as
// an empty mapping, per spec §4.2 ("empty file is semantically
// equivalent to no mappings").
func (s *Store) load() (map[string]Entry, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Entry{}, nil
		}
		return nil, nexerr.Wrap(nexerr.MappingIO, err, "read mapping file", "path", s.path)
	}
	if len(data) == 0 {
		return map[string]Entry{}, nil
	}
	var raw map[string]Entry
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nexerr.Wrap(nexerr.MappingCorrupt, err, "parse mapping file", "path", s.path)
	}
	if raw == nil {
		raw = map[string]Entry{}
	}
	return raw, nil
}

// save writes entries atomically via temp-file-plus-rename.
func (s *Store) save(entries map[string]Entry) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return nexerr.Wrap(nexerr.MappingIO, err, "create state dir", "path", filepath.Dir(s.path))
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nexerr.Wrap(nexerr.MappingIO, err, "marshal mapping file")
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".mapping-*.tmp")
	if err != nil {
		return nexerr.Wrap(nexerr.MappingIO, err, "create temp mapping file")
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return nexerr.Wrap(nexerr.MappingIO, err, "write temp mapping file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return nexerr.Wrap(nexerr.MappingIO, err, "close temp mapping file")
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return nexerr.Wrap(nexerr.MappingIO, err, "rename temp mapping file", "path", s.path)
	}
	return nil
}

// withLock runs fn while holding an exclusive advisory lock on the
// mapping file for mutating operations.
func (s *Store) withLock(fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(s.lockPath), 0o755); err != nil {
		return nexerr.Wrap(nexerr.MappingIO, err, "create state dir", "path", filepath.Dir(s.lockPath))
	}
	fl := flock.New(s.lockPath)
	if err := fl.Lock(); err != nil {
		return nexerr.Wrap(nexerr.MappingIO, err, "lock mapping file", "path", s.lockPath)
	}
	defer fl.Unlock()
	return fn()
}

// Allocate deterministically derives a VMID for containerID, folding a
// hash of the id into [100, 999_999], then linearly probing on
// collision (wrapping past 999_999 back to 100) until a free slot is
// found or the probe budget (10,000 attempts) is exhausted. reserved
// lists VMIDs that are live in Proxmox (e.g. from `pct list`) but not
// yet present in the mapping file.
func (s *Store) Allocate(containerID, bundlePath string, reserved map[int]bool) (int, error) {
	if err := idvalidate.ContainerID(containerID); err != nil {
		return 0, err
	}
	var assigned int
	err := s.withLock(func() error {
		entries, err := s.load()
		if err != nil {
			return err
		}
		if existing, ok := entries[containerID]; ok {
			assigned = existing.VMID
			return nil
		}
		taken := make(map[int]bool, len(entries)+len(reserved))
		for _, e := range entries {
			taken[e.VMID] = true
		}
		for v := range reserved {
			taken[v] = true
		}
		candidate, err := probeFreeVMID(candidateVMID(containerID), taken)
		if err != nil {
			return err
		}
		entries[containerID] = Entry{
			ContainerID: containerID,
			VMID:        candidate,
			CreatedAt:   s.nowFunc(),
			BundlePath:  bundlePath,
		}
		if err := s.save(entries); err != nil {
			return err
		}
		assigned = candidate
		return nil
	})
	return assigned, err
}

// candidateVMID folds an FNV-1a hash of id into [MinVMID, MaxVMID].
func candidateVMID(id string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	span := idvalidate.MaxVMID - idvalidate.MinVMID + 1
	return idvalidate.MinVMID + int(h.Sum32())%span
}

// probeFreeVMID linearly probes starting at candidate, skipping any VMID
// in taken, wrapping past MaxVMID back to MinVMID, and never landing
// below MinVMID. It gives up after maxProbeBudget attempts.
func probeFreeVMID(candidate int, taken map[int]bool) (int, error) {
	v := candidate
	for attempt := 0; attempt < maxProbeBudget; attempt++ {
		if !taken[v] {
			return v, nil
		}
		v++
		if v > idvalidate.MaxVMID {
			v = idvalidate.MinVMID
		}
	}
	return 0, nexerr.New(nexerr.VMIDExhausted, fmt.Sprintf("no free vmid found within %d probes", maxProbeBudget))
}

// Lookup returns the mapping entry for containerID, or (Entry{}, false)
// if none exists.
func (s *Store) Lookup(containerID string) (Entry, bool, error) {
	entries, err := s.load()
	if err != nil {
		return Entry{}, false, err
	}
	e, ok := entries[containerID]
	return e, ok, nil
}

// LookupByVMID returns the mapping entry whose VMID matches vmid.
func (s *Store) LookupByVMID(vmid int) (Entry, bool, error) {
	entries, err := s.load()
	if err != nil {
		return Entry{}, false, err
	}
	for _, e := range entries {
		if e.VMID == vmid {
			return e, true, nil
		}
	}
	return Entry{}, false, nil
}

// Release removes the mapping entry for containerID, if any. It is
// idempotent: releasing an id with no entry succeeds.
func (s *Store) Release(containerID string) error {
	return s.withLock(func() error {
		entries, err := s.load()
		if err != nil {
			return err
		}
		if _, ok := entries[containerID]; !ok {
			return nil
		}
		delete(entries, containerID)
		return s.save(entries)
	})
}

// Reconcile turns a live VMID set (e.g. observed via `pct list`/`qm
// list`) into the reserved map Allocate takes, so that a VMID already
// running in Proxmox but not yet recorded in mapping.json is never
// handed out to a new container. It neither reads nor modifies
// mapping.json.
func (s *Store) Reconcile(reserved []int) map[int]bool {
	out := make(map[int]bool, len(reserved))
	for _, v := range reserved {
		out[v] = true
	}
	return out
}

// List returns all mapping entries, sorted by container id, for
// diagnostic and `list` use.
func (s *Store) List() ([]Entry, error) {
	entries, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ContainerID < out[j].ContainerID })
	return out, nil
}
