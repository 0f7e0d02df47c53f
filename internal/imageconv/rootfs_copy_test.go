package imageconv

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCopyTreeCopiesFilesDirsAndSymlinks(t *testing.T) {
	src := t.TempDir()
	dst := filepath.Join(t.TempDir(), "out")

	require.NoError(t, os.MkdirAll(filepath.Join(src, "bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "bin", "sh"), []byte("shell"), 0o755))
	require.NoError(t, os.Symlink("sh", filepath.Join(src, "bin", "bash")))

	require.NoError(t, CopyTree(src, dst))

	data, err := os.ReadFile(filepath.Join(dst, "bin", "sh"))
	require.NoError(t, err)
	require.Equal(t, "shell", string(data))

	link, err := os.Readlink(filepath.Join(dst, "bin", "bash"))
	require.NoError(t, err)
	require.Equal(t, "sh", link)
}

func TestCopyTreeFailsOnUnreadableFile(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("permission checks do not apply when running as root")
	}
	src := t.TempDir()
	dst := filepath.Join(t.TempDir(), "out")

	unreadable := filepath.Join(src, "secret")
	require.NoError(t, os.WriteFile(unreadable, []byte("x"), 0o000))
	t.Cleanup(func() { _ = os.Chmod(unreadable, 0o644) })

	err := CopyTree(src, dst)
	require.Error(t, err)
}

func TestCountRegularFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b"), []byte("b"), 0o644))

	n, err := CountRegularFiles(dir)
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestCountRegularFilesEmptyDir(t *testing.T) {
	dir := t.TempDir()
	n, err := CountRegularFiles(dir)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}
