// Package imageconv turns an OCI bundle rootfs into an LXC template
// archive that pct vztmpl can consume, and tracks per-conversion staging
// directories so a crashed process never leaks them forever (spec §4.5
// "Image Converter").
package imageconv

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/CageForge/nexcage/internal/backend"
	"github.com/CageForge/nexcage/internal/bundle"
	"github.com/CageForge/nexcage/internal/logging"
	"github.com/CageForge/nexcage/internal/nexerr"
)

var log = logging.For("imageconv")

// Converter resolves or builds the LXC template backing a container's
// rootfs.
type Converter struct {
	TemplateDir string
	PveamPath   string
	Storage     string // pveam storage id, e.g. "local"
	TmpDir      string // parent of staging directories; defaults to os.TempDir()
	Runner      backend.CommandRunner
	Debug       bool
	NowFunc     func() time.Time
}

// New builds a Converter with sane defaults for fields left zero.
func New(templateDir, storage string, runner backend.CommandRunner) *Converter {
	return &Converter{
		TemplateDir: templateDir,
		PveamPath:   "pveam",
		Storage:     storage,
		TmpDir:      os.TempDir(),
		Runner:      runner,
		Debug:       os.Getenv("NEXCAGE_DEBUG") != "",
		NowFunc:     time.Now,
	}
}

const imageRefAnnotation = "org.opencontainers.image.ref.name"

// Resolve returns the pveam-qualified template name backing spec's
// rootfs, converting the bundle's rootfs into a new template archive
// when no existing template matches the bundle's image reference
// annotation.
func (c *Converter) Resolve(ctx context.Context, containerID, bundleDir string, spec bundle.Spec) (string, error) {
	if ref, ok := spec.Annotations[imageRefAnnotation]; ok && ref != "" {
		if existing, err := c.findExisting(ctx, ref); err == nil && existing != "" {
			log.WithField("container_id", containerID).WithField("template", existing).Debug("reusing existing template")
			return existing, nil
		}
	}
	return c.Convert(ctx, containerID, bundleDir, spec)
}

// findExisting greps `pveam list <storage>` output for a volume whose
// filename contains ref.
func (c *Converter) findExisting(ctx context.Context, ref string) (string, error) {
	stdout, _, err := c.Runner.Run(ctx, c.PveamPath, "list", c.Storage)
	if err != nil {
		return "", nexerr.Wrap(nexerr.BackendUnavailable, err, "pveam list failed")
	}
	slug := sanitizeRef(ref)
	for _, line := range strings.Split(stdout, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		vol := fields[0]
		if strings.Contains(vol, slug) {
			base := filepath.Base(vol)
			return strings.TrimSuffix(base, filepath.Ext(base)), nil
		}
	}
	return "", nexerr.New(nexerr.NotFound, "no existing template matches image ref", "ref", ref)
}

// Convert extracts spec's rootfs into a staging directory, shapes it
// for LXC boot, and archives it into TemplateDir as a .tar.zst template.
// It returns the unqualified template file name (e.g.
// "nexcage-myapp-1700000000.tar.zst").
func (c *Converter) Convert(ctx context.Context, containerID, bundleDir string, spec bundle.Spec) (string, error) {
	templateName := uniqueTemplateName(containerID, c.now())
	staging := filepath.Join(c.TmpDir, fmt.Sprintf("lxc-rootfs-%s-%s", templateName, uuid.NewString()))

	if err := os.MkdirAll(staging, 0o755); err != nil {
		return "", nexerr.Wrap(nexerr.IO, err, "create staging directory", "path", staging)
	}
	defer c.cleanupStaging(staging)

	rootfsSrc := filepath.Join(bundleDir, spec.Root.Path)
	if IsArchive(rootfsSrc) {
		if err := ExtractArchive(rootfsSrc, staging); err != nil {
			return "", err
		}
	} else {
		if err := CopyTree(rootfsSrc, staging); err != nil {
			return "", err
		}
	}

	n, err := CountRegularFiles(staging)
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", nexerr.New(nexerr.RootfsEmpty, "extracted rootfs contains no regular files", "staging", staging)
	}

	if err := shapeForLXC(staging, spec); err != nil {
		return "", err
	}

	archivePath := filepath.Join(c.TemplateDir, templateName+".tar.zst")
	if err := os.MkdirAll(c.TemplateDir, 0o755); err != nil {
		return "", nexerr.Wrap(nexerr.IO, err, "create template directory", "path", c.TemplateDir)
	}
	if err := c.archiveStaging(ctx, staging, archivePath); err != nil {
		return "", err
	}

	log.WithField("container_id", containerID).WithField("template", templateName).WithField("files", n).Info("converted rootfs to template")
	return templateName + ".tar.zst", nil
}

// archiveStaging shells out to tar for zstd archive creation: the
// stdlib has no zstd *writer* counterpart to klauspost/compress/zstd's
// reader-side use in ExtractArchive, and re-exec'ing tar matches how
// pveam itself expects templates to be built.
func (c *Converter) archiveStaging(ctx context.Context, staging, archivePath string) error {
	_, stderr, err := c.Runner.Run(ctx, "tar", "--zstd", "-cf", archivePath, "-C", staging, ".")
	if err != nil {
		return nexerr.Wrap(nexerr.RootfsCopyFailed, err, "create template archive", "stderr", stderr, "path", archivePath)
	}
	return nil
}

func (c *Converter) cleanupStaging(staging string) {
	if c.Debug {
		log.WithField("path", staging).Debug("NEXCAGE_DEBUG set, preserving staging directory")
		return
	}
	if err := os.RemoveAll(staging); err != nil {
		log.WithField("path", staging).WithError(err).Warn("failed to remove staging directory")
	}
}

func (c *Converter) now() time.Time {
	if c.NowFunc != nil {
		return c.NowFunc()
	}
	return time.Now()
}

func uniqueTemplateName(containerID string, now time.Time) string {
	return fmt.Sprintf("nexcage-%s-%d", sanitizeRef(containerID), now.Unix())
}

func sanitizeRef(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return b.String()
}

// Sweep removes stale staging directories left behind by a crashed
// conversion, e.g. on daemon-less CLI startup. A staging directory is
// stale once its modification time is older than maxAge. Sweep never
// touches directories it does not recognize by the "lxc-rootfs-"
// prefix, so it is safe to point at a shared tmp directory.
func Sweep(tmpDir string, maxAge time.Duration, now time.Time) ([]string, error) {
	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, nexerr.Wrap(nexerr.IO, err, "read tmp directory", "path", tmpDir)
	}

	var removed []string
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "lxc-rootfs-") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) < maxAge {
			continue
		}
		full := filepath.Join(tmpDir, e.Name())
		if err := os.RemoveAll(full); err != nil {
			log.WithField("path", full).WithError(err).Warn("failed to sweep stale staging directory")
			continue
		}
		removed = append(removed, full)
	}
	sort.Strings(removed)
	return removed, nil
}
