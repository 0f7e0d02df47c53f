package imageconv

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/CageForge/nexcage/internal/idvalidate"
	"github.com/CageForge/nexcage/internal/nexerr"
)

// ExtractArchive decodes srcPath into dstDir, auto-detecting the
// compression from its extension. Supported suffixes: .tar, .tar.gz,
// .tgz, .tar.zst. Every archive entry's name is checked against
// idvalidate.NormalizedEscapes before being joined onto dstDir; an
// escaping entry aborts extraction with PATH_UNSAFE rather than being
// silently skipped or clamped.
func ExtractArchive(srcPath, dstDir string) error {
	f, err := os.Open(srcPath)
	if err != nil {
		return nexerr.Wrap(nexerr.RootfsCopyFailed, err, "open rootfs archive", "path", srcPath)
	}
	defer f.Close()

	var r io.Reader = f
	switch {
	case strings.HasSuffix(srcPath, ".tar.gz"), strings.HasSuffix(srcPath, ".tgz"):
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nexerr.Wrap(nexerr.RootfsCopyFailed, err, "open gzip stream", "path", srcPath)
		}
		defer gz.Close()
		r = gz
	case strings.HasSuffix(srcPath, ".tar.zst"):
		zr, err := zstd.NewReader(f)
		if err != nil {
			return nexerr.Wrap(nexerr.RootfsCopyFailed, err, "open zstd stream", "path", srcPath)
		}
		defer zr.Close()
		r = zr
	case strings.HasSuffix(srcPath, ".tar"):
		// plain tar, r already set
	default:
		return nexerr.New(nexerr.SpecInvalid, "unsupported rootfs archive extension", "path", srcPath)
	}

	return extractTar(r, dstDir, srcPath)
}

func extractTar(r io.Reader, dstDir, srcPath string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return nexerr.Wrap(nexerr.RootfsCopyFailed, err, "read tar entry", "path", srcPath)
		}
		if idvalidate.NormalizedEscapes(hdr.Name) || filepath.IsAbs(hdr.Name) {
			return nexerr.New(nexerr.PathUnsafe, "rootfs archive entry escapes extraction root",
				"path", srcPath, "entry", hdr.Name)
		}
		target := filepath.Join(dstDir, hdr.Name)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode).Perm()|0o700); err != nil {
				return nexerr.Wrap(nexerr.RootfsCopyFailed, err, "create directory from archive", "path", target)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return nexerr.Wrap(nexerr.RootfsCopyFailed, err, "create parent directory from archive", "path", target)
			}
			out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(hdr.Mode).Perm())
			if err != nil {
				return nexerr.Wrap(nexerr.RootfsCopyFailed, err, "create file from archive", "path", target)
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return nexerr.Wrap(nexerr.RootfsCopyFailed, err, "write file from archive", "path", target)
			}
			if err := out.Close(); err != nil {
				return nexerr.Wrap(nexerr.RootfsCopyFailed, err, "close file from archive", "path", target)
			}
		case tar.TypeSymlink:
			if idvalidate.NormalizedEscapes(hdr.Linkname) || filepath.IsAbs(hdr.Linkname) {
				return nexerr.New(nexerr.PathUnsafe, "rootfs archive symlink target escapes extraction root",
					"path", srcPath, "entry", hdr.Name, "target", hdr.Linkname)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return nexerr.Wrap(nexerr.RootfsCopyFailed, err, "create parent directory for symlink", "path", target)
			}
			_ = os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return nexerr.Wrap(nexerr.RootfsCopyFailed, err, "create symlink from archive", "path", target)
			}
		default:
			// device nodes, fifos, hardlinks: skip, LXC templates don't need them.
		}
	}
}

// IsArchive reports whether path names a recognized rootfs archive by
// its extension, as opposed to a plain directory.
func IsArchive(path string) bool {
	for _, suffix := range []string{".tar", ".tar.gz", ".tgz", ".tar.zst"} {
		if strings.HasSuffix(path, suffix) {
			return true
		}
	}
	return false
}
