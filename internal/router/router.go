// Package router selects exactly one backend driver for a given
// container id, per spec §4.1. It does not interpret operation
// arguments — only (container_id, op) selects a Backend.
package router

import (
	"path/filepath"

	"github.com/CageForge/nexcage/internal/backend"
	"github.com/CageForge/nexcage/internal/config"
	"github.com/CageForge/nexcage/internal/nexerr"
)

// Router resolves a backend name, and then a backend.Backend instance,
// for a given container id.
type Router struct {
	cfg      config.Config
	backends map[string]backend.Backend
}

// New constructs a Router over the given configuration and pre-built
// backend instances, keyed by the names in config.Backend*.
func New(cfg config.Config, backends map[string]backend.Backend) *Router {
	return &Router{cfg: cfg, backends: backends}
}

// ResolveName returns the backend name that would handle containerID,
// without constructing or returning the backend itself. The first
// matching routing rule wins; otherwise DefaultBackend is used.
func (r *Router) ResolveName(containerID string) string {
	for _, rule := range r.cfg.Routing {
		if ok, _ := filepath.Match(rule.Pattern, containerID); ok {
			return rule.Backend
		}
	}
	return r.cfg.DefaultBackend
}

// Backends returns every backend instance the router was constructed
// with, keyed by name, for callers (e.g. `nexcage list`) that need to
// fan out across all configured backends rather than resolve a single
// container id.
func (r *Router) Backends() map[string]backend.Backend {
	return r.backends
}

// Resolve returns the backend.Backend instance that should handle
// containerID.
func (r *Router) Resolve(containerID string) (backend.Backend, error) {
	name := r.ResolveName(containerID)
	b, ok := r.backends[name]
	if !ok {
		return nil, nexerr.New(nexerr.BackendUnavailable, "no backend registered for name", "backend", name, "container_id", containerID)
	}
	return b, nil
}
