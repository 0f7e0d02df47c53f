package lxc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/CageForge/nexcage/internal/backend"
	"github.com/CageForge/nexcage/internal/bundle"
	"github.com/CageForge/nexcage/internal/nexerr"
)

func TestVerifyConfigChecksMemoryCoresAndFeatures(t *testing.T) {
	runner := &fakeRunner{}
	d, _ := newTestDriver(t, runner)

	cores := 2
	mem := int64(268435456) // 256 MiB
	req := backend.CreateRequest{
		ContainerID: "box1",
		Limits:      backend.ResourceLimits{CPUCores: &cores, MemoryBytes: &mem},
	}
	spec := bundle.Spec{
		Hostname:   "box1",
		Namespaces: []bundle.Namespace{{Type: "user"}},
		Mounts:     []bundle.Mount{{Destination: "/data", Source: "/host/data", Type: "bind"}},
	}

	runner.configOutput = "hostname: box1\nunprivileged: 1\nfeatures: nesting=1,keyctl=1\ncores: 2\nmemory: 256\nmp0: /host/data,mp=/data\n"
	require.NoError(t, d.verifyConfig(context.Background(), 123, req, spec))
}

func TestVerifyConfigFailsWhenMountLineMissing(t *testing.T) {
	runner := &fakeRunner{}
	d, _ := newTestDriver(t, runner)

	req := backend.CreateRequest{ContainerID: "box1"}
	spec := bundle.Spec{
		Hostname: "box1",
		Mounts:   []bundle.Mount{{Destination: "/data", Source: "/host/data", Type: "bind"}},
	}

	runner.configOutput = "hostname: box1\nunprivileged: 0\n"
	err := d.verifyConfig(context.Background(), 123, req, spec)
	require.Error(t, err)
	require.True(t, nexerr.Is(err, nexerr.VerificationFailed))
}

func TestVerifyConfigFailsWhenFeaturesLineMissing(t *testing.T) {
	runner := &fakeRunner{}
	d, _ := newTestDriver(t, runner)

	req := backend.CreateRequest{ContainerID: "box1"}
	spec := bundle.Spec{
		Hostname:   "box1",
		Namespaces: []bundle.Namespace{{Type: "user"}},
	}

	runner.configOutput = "hostname: box1\nunprivileged: 1\n"
	err := d.verifyConfig(context.Background(), 123, req, spec)
	require.Error(t, err)
	require.True(t, nexerr.Is(err, nexerr.VerificationFailed))
}

func TestVerifyConfigFailsWhenCoresMismatch(t *testing.T) {
	runner := &fakeRunner{}
	d, _ := newTestDriver(t, runner)

	cores := 4
	req := backend.CreateRequest{ContainerID: "box1", Limits: backend.ResourceLimits{CPUCores: &cores}}
	spec := bundle.Spec{Hostname: "box1"}

	runner.configOutput = "hostname: box1\ncores: 2\n"
	err := d.verifyConfig(context.Background(), 123, req, spec)
	require.Error(t, err)
	require.True(t, nexerr.Is(err, nexerr.VerificationFailed))
}
