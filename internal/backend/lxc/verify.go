package lxc

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/CageForge/nexcage/internal/backend"
	"github.com/CageForge/nexcage/internal/bundle"
	"github.com/CageForge/nexcage/internal/nexerr"
)

// verifyConfig re-reads the applied pct config and confirms hostname,
// unprivileged, mpN, memory, cores and features actually took effect.
// A mismatch usually means pct silently ignored an option on this
// Proxmox version, and is surfaced rather than left to manifest later
// as a confusing runtime failure.
func (d *Driver) verifyConfig(ctx context.Context, vmid int, req backend.CreateRequest, spec bundle.Spec) error {
	out, err := d.run(ctx, "config", strconv.Itoa(vmid))
	if err != nil {
		return err
	}
	cfg := parseConfigMap(out)

	wantHostname := hostnameFor(spec, req.ContainerID)
	if got := cfg["hostname"]; got != wantHostname {
		return nexerr.New(nexerr.VerificationFailed, "pct config hostname mismatch after create",
			"vmid", strconv.Itoa(vmid), "want", wantHostname, "got", got)
	}

	if spec.HasUserNamespace() {
		if got := cfg["unprivileged"]; strings.TrimSpace(got) != "1" {
			return nexerr.New(nexerr.VerificationFailed, "pct config unprivileged flag did not apply",
				"vmid", strconv.Itoa(vmid), "got", got)
		}
		if got := cfg["features"]; !strings.Contains(got, "nesting=1") || !strings.Contains(got, "keyctl=1") {
			return nexerr.New(nexerr.VerificationFailed, "pct config features line did not apply",
				"vmid", strconv.Itoa(vmid), "got", got)
		}
	}

	if cores := resolveCores(spec.Resources.CPU.Shares, spec.Resources.CPU.Quota, spec.Resources.CPU.Period); cores > 0 {
		if got := cfg["cores"]; got != strconv.Itoa(cores) {
			return nexerr.New(nexerr.VerificationFailed, "pct config cores mismatch after create",
				"vmid", strconv.Itoa(vmid), "want", strconv.Itoa(cores), "got", got)
		}
	} else if req.Limits.CPUCores != nil && *req.Limits.CPUCores > 0 {
		if got := cfg["cores"]; got != strconv.Itoa(*req.Limits.CPUCores) {
			return nexerr.New(nexerr.VerificationFailed, "pct config cores mismatch after create",
				"vmid", strconv.Itoa(vmid), "want", strconv.Itoa(*req.Limits.CPUCores), "got", got)
		}
	}

	if mem := MiBFromBytes(memoryLimitBytes(spec, req.Limits)); mem > 0 {
		if got := cfg["memory"]; got != strconv.Itoa(mem) {
			return nexerr.New(nexerr.VerificationFailed, "pct config memory mismatch after create",
				"vmid", strconv.Itoa(vmid), "want", strconv.Itoa(mem), "got", got)
		}
	}

	if err := verifyMountLines(cfg, vmid, spec.Mounts); err != nil {
		return err
	}

	return nil
}

// verifyMountLines confirms every bind mount applied by applyMounts
// produced the expected mp<i> line, in the same index order applyMounts
// assigned them.
func verifyMountLines(cfg map[string]string, vmid int, mounts []bundle.Mount) error {
	idx := 0
	for _, m := range mounts {
		if m.Type != "bind" {
			continue
		}
		key := fmt.Sprintf("mp%d", idx)
		if _, ok := cfg[key]; !ok {
			return nexerr.New(nexerr.VerificationFailed, "pct config missing expected mount line after create",
				"vmid", strconv.Itoa(vmid), "key", key, "destination", m.Destination)
		}
		idx++
	}
	return nil
}
