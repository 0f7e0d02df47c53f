package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestConfigureSetsLevel(t *testing.T) {
	require.NoError(t, Configure("warn", ""))
	require.Equal(t, logrus.WarnLevel, Root().GetLevel())
}

func TestConfigureRejectsUnknownLevel(t *testing.T) {
	err := Configure("not-a-level", "")
	require.Error(t, err)
}

func TestConfigureWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nexcage.log")
	require.NoError(t, Configure("info", path))
	For("test").Info("hello")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "hello")

	require.NoError(t, Configure("info", ""))
}

func TestConfigureHonorsDebugEnvOverride(t *testing.T) {
	t.Setenv("NEXCAGE_DEBUG", "1")
	require.NoError(t, Configure("error", ""))
	require.Equal(t, logrus.TraceLevel, Root().GetLevel())
}

func TestForTagsComponent(t *testing.T) {
	entry := For("mycomponent")
	require.Equal(t, "mycomponent", entry.Data["component"])
}
