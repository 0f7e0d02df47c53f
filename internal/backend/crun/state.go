package crun

import (
	"encoding/json"

	"github.com/CageForge/nexcage/internal/backend"
	"github.com/CageForge/nexcage/internal/nexerr"
)

// runtimeState is the subset of an OCI-runtime-CLI `state` command's
// JSON output NexCage cares about.
type runtimeState struct {
	ID     string `json:"id"`
	Pid    int    `json:"pid"`
	Status string `json:"status"`
}

func parseRuntimeState(raw string) (runtimeState, error) {
	var st runtimeState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return runtimeState{}, nexerr.Wrap(nexerr.IO, err, "parse runtime state JSON")
	}
	return st, nil
}

// mapRuntimeStatus translates crun/runc's status vocabulary
// (creating/created/running/stopped/paused) onto backend.Status; they
// already share the OCI vocabulary, so this is mostly an identity map
// with an unknown-value fallback.
func mapRuntimeStatus(s string) backend.Status {
	switch s {
	case "creating":
		return backend.StatusCreating
	case "created":
		return backend.StatusCreated
	case "running":
		return backend.StatusRunning
	case "paused":
		return backend.StatusPaused
	default:
		return backend.StatusStopped
	}
}
