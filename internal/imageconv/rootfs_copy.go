package imageconv

import (
	"io"
	"os"
	"path/filepath"
	"syscall"

	"github.com/CageForge/nexcage/internal/nexerr"
)

// CopyTree recursively copies src into dst, preserving permissions,
// ownership (best-effort; requires privilege to change uid/gid), and
// symbolic links. Every copy operation is error-checked: a failure
// aborts the whole conversion with ROOTFS_COPY_FAILED naming the
// offending source path.
//
// This function exists specifically to NOT reproduce the known defect
// documented in spec §9: a prior implementation ignored per-entry copy
// errors, silently producing near-empty template archives.
func CopyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nexerr.Wrap(nexerr.RootfsCopyFailed, err, "walk rootfs", "path", path)
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return nexerr.Wrap(nexerr.RootfsCopyFailed, err, "compute relative path", "path", path)
		}
		target := filepath.Join(dst, rel)
		var copyErr error
		switch {
		case rel == ".":
			copyErr = copyDirEntry(path, target, info)
		case info.Mode()&os.ModeSymlink != 0:
			copyErr = copySymlink(path, target)
		case info.IsDir():
			copyErr = copyDirEntry(path, target, info)
		default:
			copyErr = copyRegularFile(path, target, info)
		}
		if copyErr != nil {
			return copyErr
		}
		if st, ok := info.Sys().(*syscall.Stat_t); ok {
			_ = os.Lchown(target, int(st.Uid), int(st.Gid)) // best-effort: needs privilege
		}
		return nil
	})
}

func copyDirEntry(src, dst string, info os.FileInfo) error {
	if err := os.MkdirAll(dst, info.Mode().Perm()); err != nil {
		return nexerr.Wrap(nexerr.RootfsCopyFailed, err, "create directory", "path", src)
	}
	return nil
}

func copySymlink(src, dst string) error {
	target, err := os.Readlink(src)
	if err != nil {
		return nexerr.Wrap(nexerr.RootfsCopyFailed, err, "read symlink", "path", src)
	}
	_ = os.Remove(dst)
	if err := os.Symlink(target, dst); err != nil {
		return nexerr.Wrap(nexerr.RootfsCopyFailed, err, "create symlink", "path", src)
	}
	return nil
}

func copyRegularFile(src, dst string, info os.FileInfo) error {
	in, err := os.Open(src)
	if err != nil {
		return nexerr.Wrap(nexerr.RootfsCopyFailed, err, "open source file", "path", src)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return nexerr.Wrap(nexerr.RootfsCopyFailed, err, "create parent directory", "path", dst)
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return nexerr.Wrap(nexerr.RootfsCopyFailed, err, "create destination file", "path", dst)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return nexerr.Wrap(nexerr.RootfsCopyFailed, err, "copy file contents", "path", src)
	}
	if err := out.Close(); err != nil {
		return nexerr.Wrap(nexerr.RootfsCopyFailed, err, "close destination file", "path", dst)
	}
	return nil
}

// CountRegularFiles recursively counts regular files under root. Used to
// enforce the ROOTFS_EMPTY non-emptiness check before archiving.
func CountRegularFiles(root string) (int, error) {
	count := 0
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, nexerr.Wrap(nexerr.IO, err, "count staging files", "path", root)
	}
	return count, nil
}
