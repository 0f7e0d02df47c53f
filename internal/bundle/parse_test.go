package bundle

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/CageForge/nexcage/internal/nexerr"
)

func writeBundle(t *testing.T, config map[string]any) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "rootfs", "bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rootfs", "bin", "sh"), []byte("#!/bin/sh\n"), 0o755))
	data, err := json.Marshal(config)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), data, 0o644))
	return dir
}

func minimalConfig() map[string]any {
	return map[string]any{
		"ociVersion": "1.0.2",
		"process": map[string]any{
			"args": []string{"/bin/sh"},
		},
		"root": map[string]any{
			"path": "rootfs",
		},
	}
}

func TestParseHappyPath(t *testing.T) {
	cfg := minimalConfig()
	cfg["hostname"] = "h1"
	dir := writeBundle(t, cfg)

	spec, err := Parse(dir)
	require.NoError(t, err)
	require.Equal(t, "h1", spec.Hostname)
	require.Equal(t, []string{"/bin/sh"}, spec.Process.Args)
	require.Equal(t, "rootfs", spec.Root.Path)
}

func TestParseRejectsBadOCIVersion(t *testing.T) {
	cfg := minimalConfig()
	cfg["ociVersion"] = "2.0.0"
	dir := writeBundle(t, cfg)

	_, err := Parse(dir)
	require.Error(t, err)
	require.True(t, nexerr.Is(err, nexerr.SpecInvalid))
}

func TestParseRejectsEmptyArgs(t *testing.T) {
	cfg := minimalConfig()
	cfg["process"] = map[string]any{"args": []string{}}
	dir := writeBundle(t, cfg)

	_, err := Parse(dir)
	require.Error(t, err)
	require.True(t, nexerr.Is(err, nexerr.SpecInvalid))
}

func TestParseRejectsPathEscape(t *testing.T) {
	cfg := minimalConfig()
	cfg["root"] = map[string]any{"path": "../../etc"}
	dir := writeBundle(t, cfg)

	_, err := Parse(dir)
	require.Error(t, err)
	require.True(t, nexerr.Is(err, nexerr.PathUnsafe))
}

func TestParseRejectsRelativeMountDestination(t *testing.T) {
	cfg := minimalConfig()
	cfg["mounts"] = []map[string]any{
		{"destination": "relative/path", "source": "/host/data", "type": "bind"},
	}
	dir := writeBundle(t, cfg)

	_, err := Parse(dir)
	require.Error(t, err)
	require.True(t, nexerr.Is(err, nexerr.SpecInvalid))
}

func TestParseRejectsUnknownMountType(t *testing.T) {
	cfg := minimalConfig()
	cfg["mounts"] = []map[string]any{
		{"destination": "/data", "source": "/host/data", "type": "nfs"},
	}
	dir := writeBundle(t, cfg)

	_, err := Parse(dir)
	require.Error(t, err)
	require.True(t, nexerr.Is(err, nexerr.SpecInvalid))
}

func TestParseAcceptsValidMount(t *testing.T) {
	cfg := minimalConfig()
	cfg["mounts"] = []map[string]any{
		{"destination": "/data", "source": "/host/data", "type": "bind", "options": []string{"ro"}},
	}
	dir := writeBundle(t, cfg)

	spec, err := Parse(dir)
	require.NoError(t, err)
	require.Len(t, spec.Mounts, 1)
	require.Equal(t, "/data", spec.Mounts[0].Destination)
	require.Equal(t, []string{"ro"}, spec.Mounts[0].Options)
}

func TestParseUserNamespaceDetection(t *testing.T) {
	cfg := minimalConfig()
	cfg["linux"] = map[string]any{
		"namespaces": []map[string]any{{"type": "user"}},
	}
	dir := writeBundle(t, cfg)

	spec, err := Parse(dir)
	require.NoError(t, err)
	require.True(t, spec.HasUserNamespace())
}

func TestParseMissingConfigJSON(t *testing.T) {
	dir := t.TempDir()
	_, err := Parse(dir)
	require.Error(t, err)
	require.True(t, nexerr.Is(err, nexerr.SpecInvalid))
}

func TestParseMemoryLimitWrongType(t *testing.T) {
	cfg := minimalConfig()
	cfg["linux"] = map[string]any{
		"resources": map[string]any{
			"memory": map[string]any{"limit": "not-a-number"},
		},
	}
	dir := writeBundle(t, cfg)

	_, err := Parse(dir)
	require.Error(t, err)
	require.True(t, nexerr.Is(err, nexerr.SpecInvalid))
}
