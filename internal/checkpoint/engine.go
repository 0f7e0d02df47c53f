// Package checkpoint implements container checkpoint/restore on top of
// ZFS dataset snapshots, with a process-tree fallback for containers
// whose storage isn't ZFS-backed (spec §4.7 "Checkpoint Engine").
package checkpoint

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/CageForge/nexcage/internal/backend"
	"github.com/CageForge/nexcage/internal/logging"
	"github.com/CageForge/nexcage/internal/nexerr"
)

var log = logging.For("checkpoint")

const snapshotPrefix = "checkpoint-"

// Engine checkpoints and restores one container's root dataset.
type Engine struct {
	ZFSPath      string // path to the zfs binary, default "zfs"
	FallbackTool string // external process-tree checkpoint tool, e.g. "criu"; empty disables fallback
	Runner       backend.CommandRunner
	NowFunc      func() time.Time
}

// New builds an Engine with sane defaults.
func New(runner backend.CommandRunner) *Engine {
	return &Engine{
		ZFSPath: "zfs",
		Runner:  runner,
		NowFunc: time.Now,
	}
}

// dataset returns the ZFS dataset backing vmid's LXC rootfs, following
// Proxmox's own subvol-<vmid>-disk-0 naming convention under pool.
func dataset(pool string, vmid int) string {
	return fmt.Sprintf("%s/subvol-%d-disk-0", pool, vmid)
}

// Available reports whether pool/subvol-<vmid>-disk-0 exists as a ZFS
// dataset. A false result means the caller should use the fallback tool
// or surface CHECKPOINT_UNAVAILABLE.
func (e *Engine) Available(ctx context.Context, pool string, vmid int) bool {
	_, _, err := e.Runner.Run(ctx, e.zfsPath(), "list", "-H", "-o", "name", dataset(pool, vmid))
	return err == nil
}

// Create snapshots pool/subvol-<vmid>-disk-0, returning the bare
// snapshot name (e.g. "checkpoint-1700000000") for later restore.
func (e *Engine) Create(ctx context.Context, pool string, vmid int) (string, error) {
	if !e.Available(ctx, pool, vmid) {
		return e.createFallback(ctx, pool, vmid)
	}
	name := snapshotPrefix + strconv.FormatInt(e.now().Unix(), 10)
	full := dataset(pool, vmid) + "@" + name
	if _, stderr, err := e.Runner.Run(ctx, e.zfsPath(), "snapshot", full); err != nil {
		return "", nexerr.Wrap(nexerr.CheckpointUnavailable, err, "zfs snapshot failed", "dataset", full, "stderr", stderr)
	}
	log.WithField("vmid", vmid).WithField("snapshot", name).Info("created checkpoint")
	return name, nil
}

// Restore rolls pool/subvol-<vmid>-disk-0 back to snapshot. An empty
// snapshot resolves to the most recently created checkpoint via Latest.
// ZFS rollback destroys any snapshots taken after the target, matching
// Proxmox's own pct rollback semantics.
func (e *Engine) Restore(ctx context.Context, pool string, vmid int, snapshot string) error {
	if snapshot == "" {
		if !e.Available(ctx, pool, vmid) {
			return nexerr.New(nexerr.CheckpointUnavailable, "cannot resolve most recent checkpoint without a ZFS-backed dataset",
				"dataset", dataset(pool, vmid))
		}
		latest, err := e.Latest(ctx, pool, vmid)
		if err != nil {
			return err
		}
		snapshot = latest
	}
	if !strings.HasPrefix(snapshot, snapshotPrefix) {
		return nexerr.New(nexerr.SpecInvalid, "snapshot name must be produced by Create", "snapshot", snapshot)
	}
	if !e.Available(ctx, pool, vmid) {
		return e.restoreFallback(ctx, pool, vmid, snapshot)
	}
	full := dataset(pool, vmid) + "@" + snapshot
	if _, stderr, err := e.Runner.Run(ctx, e.zfsPath(), "rollback", "-r", full); err != nil {
		return nexerr.Wrap(nexerr.CheckpointUnavailable, err, "zfs rollback failed", "dataset", full, "stderr", stderr)
	}
	log.WithField("vmid", vmid).WithField("snapshot", snapshot).Info("restored checkpoint")
	return nil
}

// List returns the dataset's checkpoint-* snapshots, oldest first.
func (e *Engine) List(ctx context.Context, pool string, vmid int) ([]string, error) {
	stdout, stderr, err := e.Runner.Run(ctx, e.zfsPath(), "list", "-H", "-t", "snapshot", "-o", "name", "-s", "creation", dataset(pool, vmid))
	if err != nil {
		return nil, nexerr.Wrap(nexerr.CheckpointUnavailable, err, "zfs list snapshots failed", "stderr", stderr)
	}
	var names []string
	for _, line := range strings.Split(strings.TrimSpace(stdout), "\n") {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "@", 2)
		if len(parts) != 2 || !strings.HasPrefix(parts[1], snapshotPrefix) {
			continue
		}
		names = append(names, parts[1])
	}
	sort.Strings(names)
	return names, nil
}

// Latest returns the most recently created checkpoint, or NotFound if
// none exist.
func (e *Engine) Latest(ctx context.Context, pool string, vmid int) (string, error) {
	names, err := e.List(ctx, pool, vmid)
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", nexerr.New(nexerr.NotFound, "no checkpoints exist", "vmid", strconv.Itoa(vmid))
	}
	return names[len(names)-1], nil
}

func (e *Engine) zfsPath() string {
	if e.ZFSPath == "" {
		return "zfs"
	}
	return e.ZFSPath
}

func (e *Engine) now() time.Time {
	if e.NowFunc != nil {
		return e.NowFunc()
	}
	return time.Now()
}
