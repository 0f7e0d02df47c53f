package lxc

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/CageForge/nexcage/internal/bundle"
	"github.com/CageForge/nexcage/internal/nexerr"
)

// applyMounts translates bind mounts into pct mpN lines. Non-bind mount
// types (proc, sysfs, tmpfs, ...) are LXC's default behavior and need no
// explicit configuration.
func (d *Driver) applyMounts(ctx context.Context, vmid int, mounts []bundle.Mount) error {
	idx := 0
	for _, m := range mounts {
		if m.Type != "bind" {
			continue
		}
		if m.Source == "" {
			return nexerr.New(nexerr.MountSourceMissing, "bind mount has no source", "destination", m.Destination)
		}
		if err := d.validateStorageSource(ctx, m.Source); err != nil {
			return err
		}
		line := fmt.Sprintf("%s,mp=%s%s", m.Source, m.Destination, mountOptionsSuffix(m.Options))
		if _, err := d.run(ctx, "set", strconv.Itoa(vmid), fmt.Sprintf("--mp%d", idx), line); err != nil {
			return err
		}
		idx++
	}
	return nil
}

// mountOptionsSuffix translates bind mount options into pct mpN
// key=value suffixes. "ro"/"readonly" map onto pct's ro=1; every other
// option is appended verbatim and unvalidated, since pct's own mpN
// grammar accepts a wide set of backup/quota/acl flags nexcage has no
// reason to enumerate.
func mountOptionsSuffix(options []string) string {
	var b strings.Builder
	for _, o := range options {
		switch o {
		case "ro", "readonly":
			b.WriteString(",ro=1")
		case "":
			continue
		default:
			log.WithField("option", o).Info("passing through unrecognized mount option")
			b.WriteString(",")
			b.WriteString(o)
		}
	}
	return b.String()
}

// validateStorageSource confirms a storage-backed bind source (a
// "storage:volume" reference rather than a host path) actually exists,
// via pvesm list, so a typo fails at create time instead of at boot.
func (d *Driver) validateStorageSource(ctx context.Context, source string) error {
	if !strings.Contains(source, ":") || strings.HasPrefix(source, "/") {
		return nil // plain host path, nothing to validate against pvesm
	}
	storage := strings.SplitN(source, ":", 2)[0]
	stdout, stderr, err := d.Runner.Run(ctx, d.pvesmPath(), "list", storage)
	if err != nil {
		return nexerr.Wrap(nexerr.MountSourceMissing, err, "pvesm list failed", "storage", storage, "stderr", strings.TrimSpace(stderr))
	}
	if !strings.Contains(stdout, source) {
		return nexerr.New(nexerr.MountSourceMissing, "bind mount source not found in storage", "source", source)
	}
	return nil
}

func (d *Driver) pvesmPath() string {
	if d.PvesmPath == "" {
		return "pvesm"
	}
	return d.PvesmPath
}
