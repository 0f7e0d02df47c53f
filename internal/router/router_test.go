package router

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/CageForge/nexcage/internal/backend"
	"github.com/CageForge/nexcage/internal/config"
	"github.com/CageForge/nexcage/internal/nexerr"
)

type stubBackend struct{ name string }

func (s stubBackend) Name() string { return s.name }
func (s stubBackend) Create(ctx context.Context, req backend.CreateRequest) error { return nil }
func (s stubBackend) Start(ctx context.Context, id string) error                  { return nil }
func (s stubBackend) Stop(ctx context.Context, id string) error                   { return nil }
func (s stubBackend) Kill(ctx context.Context, id string, sig string) error       { return nil }
func (s stubBackend) Delete(ctx context.Context, id string) error                 { return nil }
func (s stubBackend) Exec(ctx context.Context, id string, argv []string, env []string, tty bool) (int, error) {
	return 0, nil
}
func (s stubBackend) List(ctx context.Context) ([]backend.ContainerInfo, error) { return nil, nil }
func (s stubBackend) Info(ctx context.Context, id string) (backend.ContainerInfo, error) {
	return backend.ContainerInfo{}, nil
}
func (s stubBackend) Checkpoint(ctx context.Context, id string) (string, error) { return "", nil }
func (s stubBackend) Restore(ctx context.Context, id string, snap string) error { return nil }

func testRouter() *Router {
	cfg := config.DefaultConfig()
	cfg.DefaultBackend = config.BackendProxmoxLXC
	cfg.Routing = []config.RoutingRule{
		{Pattern: "gpu-*", Backend: config.BackendProxmoxVM},
		{Pattern: "sandbox-*", Backend: config.BackendCrun},
	}
	backends := map[string]backend.Backend{
		config.BackendProxmoxLXC: stubBackend{name: config.BackendProxmoxLXC},
		config.BackendProxmoxVM:  stubBackend{name: config.BackendProxmoxVM},
		config.BackendCrun:       stubBackend{name: config.BackendCrun},
	}
	return New(cfg, backends)
}

func TestResolveNameFirstMatchWins(t *testing.T) {
	r := testRouter()
	require.Equal(t, config.BackendProxmoxVM, r.ResolveName("gpu-worker-1"))
	require.Equal(t, config.BackendCrun, r.ResolveName("sandbox-ci-7"))
}

func TestResolveNameFallsBackToDefault(t *testing.T) {
	r := testRouter()
	require.Equal(t, config.BackendProxmoxLXC, r.ResolveName("regular-app"))
}

func TestResolveReturnsRegisteredBackend(t *testing.T) {
	r := testRouter()
	b, err := r.Resolve("gpu-worker-1")
	require.NoError(t, err)
	require.Equal(t, config.BackendProxmoxVM, b.Name())
}

func TestBackendsReturnsEveryRegisteredDriver(t *testing.T) {
	r := testRouter()
	backends := r.Backends()
	require.Len(t, backends, 3)
	require.Contains(t, backends, config.BackendProxmoxLXC)
	require.Contains(t, backends, config.BackendCrun)
	require.Contains(t, backends, config.BackendProxmoxVM)
}

func TestResolveErrorsWhenBackendUnregistered(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DefaultBackend = config.BackendRunc
	r := New(cfg, map[string]backend.Backend{})

	_, err := r.Resolve("anything")
	require.Error(t, err)
	require.True(t, nexerr.Is(err, nexerr.BackendUnavailable))
}
