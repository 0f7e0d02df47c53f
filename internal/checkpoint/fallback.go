package checkpoint

import (
	"context"
	"strconv"

	"github.com/CageForge/nexcage/internal/nexerr"
)

// createFallback invokes FallbackTool to checkpoint a non-ZFS-backed
// container's process tree. Without a configured fallback tool this is
// CHECKPOINT_UNAVAILABLE rather than a silent no-op (spec §4.7 edge
// case "no ZFS and no fallback configured").
func (e *Engine) createFallback(ctx context.Context, pool string, vmid int) (string, error) {
	if e.FallbackTool == "" {
		return "", nexerr.New(nexerr.CheckpointUnavailable, "dataset is not ZFS-backed and no fallback tool is configured",
			"dataset", dataset(pool, vmid))
	}
	name := snapshotPrefix + strconv.FormatInt(e.now().Unix(), 10)
	if _, stderr, err := e.Runner.Run(ctx, e.FallbackTool, "dump", "--tree", strconv.Itoa(vmid), "--images-dir", fallbackImageDir(pool, vmid, name)); err != nil {
		return "", nexerr.Wrap(nexerr.CheckpointUnavailable, err, "fallback checkpoint tool failed", "stderr", stderr, "tool", e.FallbackTool)
	}
	log.WithField("vmid", vmid).WithField("snapshot", name).WithField("tool", e.FallbackTool).Info("created checkpoint via fallback tool")
	return name, nil
}

func (e *Engine) restoreFallback(ctx context.Context, pool string, vmid int, snapshot string) error {
	if e.FallbackTool == "" {
		return nexerr.New(nexerr.CheckpointUnavailable, "dataset is not ZFS-backed and no fallback tool is configured",
			"dataset", dataset(pool, vmid))
	}
	if _, stderr, err := e.Runner.Run(ctx, e.FallbackTool, "restore", "--tree", strconv.Itoa(vmid), "--images-dir", fallbackImageDir(pool, vmid, snapshot)); err != nil {
		return nexerr.Wrap(nexerr.CheckpointUnavailable, err, "fallback restore tool failed", "stderr", stderr, "tool", e.FallbackTool)
	}
	log.WithField("vmid", vmid).WithField("snapshot", snapshot).WithField("tool", e.FallbackTool).Info("restored checkpoint via fallback tool")
	return nil
}

func fallbackImageDir(pool string, vmid int, snapshot string) string {
	return "/var/lib/nexcage/checkpoints/" + strconv.Itoa(vmid) + "/" + snapshot
}
