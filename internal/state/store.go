// Package state implements the per-container OCI state.json store
// (spec §4.3): atomic writes, status transitions, and an advisory file
// lock guarding concurrent processes.
package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/CageForge/nexcage/internal/idvalidate"
	"github.com/CageForge/nexcage/internal/nexerr"
)

// Status is one of the OCI runtime state status values.
type Status string

const (
	Creating Status = "creating"
	Created  Status = "created"
	Running  Status = "running"
	Stopped  Status = "stopped"
	Paused   Status = "paused"
)

// State is the OCI state.json document, in OCI field order, extended
// with the project-specific vmid/created_at fields spec §6 permits.
type State struct {
	OCIVersion string `json:"ociVersion"`
	ID         string `json:"id"`
	Status     Status `json:"status"`
	Pid        int    `json:"pid"`
	Bundle     string `json:"bundle"`
	VMID       int    `json:"vmid"`
	CreatedAt  int64  `json:"created_at"`
}

// transitions enumerates the legal status graph from spec §4.3. A
// transition not listed here is rejected with StateInvalidTransition.
var transitions = map[Status][]Status{
	Creating: {Created},
	Created:  {Running},
	Running:  {Stopped, Paused},
	Paused:   {Running, Stopped},
	Stopped:  {Running},
}

// CanTransition reports whether moving from 'from' to 'to' is legal.
// A no-op transition (from == to) is always legal for idempotent
// callers such as repeated stop().
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Store is the state/<id>.json-backed store.
type Store struct {
	dir string
}

// New constructs a Store rooted at dir (spec's <state_dir>/state/).
func New(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) path(containerID string) string {
	return filepath.Join(s.dir, containerID+".json")
}

func (s *Store) lockPath(containerID string) string {
	return filepath.Join(s.dir, "."+containerID+".lock")
}

// WithLock runs fn while holding an exclusive advisory lock on
// containerID's state file, per spec §5 ("every mutating operation
// acquires an exclusive advisory lock on state.json").
func (s *Store) WithLock(containerID string, fn func() error) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nexerr.Wrap(nexerr.IO, err, "create state dir", "path", s.dir)
	}
	fl := flock.New(s.lockPath(containerID))
	if err := fl.Lock(); err != nil {
		return nexerr.Wrap(nexerr.IO, err, "lock state file", "container_id", containerID)
	}
	defer fl.Unlock()
	return fn()
}

// Write persists st atomically (temp file + rename) under the caller's
// lock. Callers performing a status transition should read, validate
// with CanTransition, then Write, all inside one WithLock call.
func (s *Store) Write(st State) error {
	if err := idvalidate.ContainerID(st.ID); err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nexerr.Wrap(nexerr.IO, err, "create state dir", "path", s.dir)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return nexerr.Wrap(nexerr.IO, err, "marshal state", "container_id", st.ID)
	}
	tmp, err := os.CreateTemp(s.dir, "."+st.ID+"-*.tmp")
	if err != nil {
		return nexerr.Wrap(nexerr.IO, err, "create temp state file", "container_id", st.ID)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return nexerr.Wrap(nexerr.IO, err, "write temp state file", "container_id", st.ID)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return nexerr.Wrap(nexerr.IO, err, "close temp state file", "container_id", st.ID)
	}
	if err := os.Rename(tmpPath, s.path(st.ID)); err != nil {
		os.Remove(tmpPath)
		return nexerr.Wrap(nexerr.IO, err, "rename temp state file", "container_id", st.ID)
	}
	return nil
}

// Read loads the state for containerID.
func (s *Store) Read(containerID string) (State, error) {
	data, err := os.ReadFile(s.path(containerID))
	if err != nil {
		if os.IsNotExist(err) {
			return State{}, nexerr.New(nexerr.NotFound, "container state not found", "container_id", containerID)
		}
		return State{}, nexerr.Wrap(nexerr.IO, err, "read state file", "container_id", containerID)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, nexerr.Wrap(nexerr.IO, err, "parse state file", "container_id", containerID)
	}
	return st, nil
}

// Delete removes containerID's state file. Idempotent: deleting an id
// with no state file succeeds.
func (s *Store) Delete(containerID string) error {
	err := os.Remove(s.path(containerID))
	if err != nil && !os.IsNotExist(err) {
		return nexerr.Wrap(nexerr.IO, err, "delete state file", "container_id", containerID)
	}
	return nil
}

// List enumerates all state files in the directory, returning their
// parsed State records sorted by container id.
func (s *Store) List() ([]State, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, nexerr.Wrap(nexerr.IO, err, "list state dir", "path", s.dir)
	}
	var out []State
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		st, err := s.Read(id)
		if err != nil {
			continue
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Transition reads the current state, validates that moving to next is
// legal, applies mutate, and writes the result, all while holding the
// per-container lock.
func (s *Store) Transition(containerID string, next Status, mutate func(*State)) error {
	return s.WithLock(containerID, func() error {
		st, err := s.Read(containerID)
		if err != nil {
			return err
		}
		if !CanTransition(st.Status, next) {
			return nexerr.New(nexerr.StateInvalidTransition,
				"illegal state transition",
				"container_id", containerID,
				"from", string(st.Status),
				"to", string(next))
		}
		st.Status = next
		if mutate != nil {
			mutate(&st)
		}
		return s.Write(st)
	})
}

// Now returns the current Unix time. Nothing in this module calls it:
// the lxc driver stamps created_at from its own NowFunc.
var Now = func() int64 { return time.Now().Unix() }
