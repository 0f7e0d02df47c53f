package lxc

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/CageForge/nexcage/internal/backend"
	"github.com/CageForge/nexcage/internal/nexerr"
	"github.com/CageForge/nexcage/internal/state"
)

func (d *Driver) vmidFor(containerID string) (int, error) {
	entry, ok, err := d.Mapping.Lookup(containerID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nexerr.New(nexerr.NotFound, "no vmid mapping for container", "container_id", containerID)
	}
	return entry.VMID, nil
}

// Start powers on the container and polls pct status until it reports
// running, or StartupTimeout elapses.
func (d *Driver) Start(ctx context.Context, containerID string) error {
	vmid, err := d.vmidFor(containerID)
	if err != nil {
		return err
	}
	if _, err := d.run(ctx, "start", strconv.Itoa(vmid)); err != nil {
		return nexerr.Wrap(nexerr.BackendStartFailed, err, "pct start failed", "container_id", containerID)
	}
	if err := d.awaitStatus(ctx, vmid, backend.StatusRunning); err != nil {
		return nexerr.Wrap(nexerr.BackendStartFailed, err, "container did not reach running state", "container_id", containerID)
	}
	return d.State.Transition(containerID, state.Running, nil)
}

// Stop gracefully shuts the container down.
func (d *Driver) Stop(ctx context.Context, containerID string) error {
	vmid, err := d.vmidFor(containerID)
	if err != nil {
		return err
	}
	if _, err := d.run(ctx, "shutdown", strconv.Itoa(vmid)); err != nil {
		return nexerr.Wrap(nexerr.BackendStopFailed, err, "pct shutdown failed", "container_id", containerID)
	}
	return d.State.Transition(containerID, state.Stopped, nil)
}

// Kill force-stops the container. pct has no notion of arbitrary unix
// signals for LXC guests, so any requested signal maps onto pct stop's
// immediate power-off, matching pct's own documented behavior.
func (d *Driver) Kill(ctx context.Context, containerID string, signal string) error {
	vmid, err := d.vmidFor(containerID)
	if err != nil {
		return err
	}
	if _, err := d.run(ctx, "stop", strconv.Itoa(vmid)); err != nil {
		return nexerr.Wrap(nexerr.BackendKillFailed, err, "pct stop failed", "container_id", containerID, "signal", signal)
	}
	return d.State.Transition(containerID, state.Stopped, nil)
}

// Delete destroys the container, releases its vmid mapping, and
// removes its state file. Idempotent: deleting an unknown container
// succeeds.
func (d *Driver) Delete(ctx context.Context, containerID string) error {
	vmid, ok, err := d.lookupOptional(containerID)
	if err != nil {
		return err
	}
	if ok {
		if _, err := d.run(ctx, "destroy", strconv.Itoa(vmid)); err != nil {
			if !isMissingContainerError(err) {
				return nexerr.Wrap(nexerr.BackendDeleteFailed, err, "pct destroy failed", "container_id", containerID)
			}
		}
	}
	if err := d.Mapping.Release(containerID); err != nil {
		return err
	}
	return d.State.Delete(containerID)
}

func (d *Driver) lookupOptional(containerID string) (int, bool, error) {
	entry, ok, err := d.Mapping.Lookup(containerID)
	if err != nil {
		return 0, false, err
	}
	return entry.VMID, ok, nil
}

func isMissingContainerError(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "does not exist")
}

// Exec runs argv inside the container via `pct exec`, returning its
// exit code. LXC's pct exec has no direct env-injection flag, so env is
// applied via an `env` prefix inside the guest command line.
func (d *Driver) Exec(ctx context.Context, containerID string, argv []string, env []string, tty bool) (int, error) {
	vmid, err := d.vmidFor(containerID)
	if err != nil {
		return -1, err
	}
	args := []string{"exec", strconv.Itoa(vmid), "--"}
	if len(env) > 0 {
		args = append(args, "env")
		args = append(args, env...)
	}
	args = append(args, argv...)

	_, stderr, err := d.Runner.Run(ctx, d.pctPath(), args...)
	if err != nil {
		return exitCodeFromError(err), nexerr.Wrap(nexerr.BackendExecFailed, err, "pct exec failed",
			"container_id", containerID, "stderr", strings.TrimSpace(stderr))
	}
	return 0, nil
}

func exitCodeFromError(err error) int {
	type exitCoder interface{ ExitCode() int }
	var ec exitCoder
	if errors.As(err, &ec) && ec.ExitCode() >= 0 {
		return ec.ExitCode()
	}
	return -1
}

// List enumerates all containers this node's pct knows about.
func (d *Driver) List(ctx context.Context) ([]backend.ContainerInfo, error) {
	stdout, stderr, err := d.Runner.Run(ctx, d.pctPath(), "list")
	if err != nil {
		return nil, nexerr.Wrap(nexerr.BackendUnavailable, err, "pct list failed", "stderr", strings.TrimSpace(stderr))
	}
	lines := strings.Split(stdout, "\n")
	var infos []backend.ContainerInfo
	for i, line := range lines {
		if i == 0 || strings.TrimSpace(line) == "" {
			continue // header row
		}
		vmid, status, name, ok := parseListLine(line)
		if !ok {
			continue
		}
		containerID := name
		if entry, found, _ := d.Mapping.LookupByVMID(vmid); found {
			containerID = entry.ContainerID
		}
		infos = append(infos, backend.ContainerInfo{
			ID:      containerID,
			VMID:    vmid,
			Status:  status,
			Backend: d.Name(),
		})
	}
	return infos, nil
}

// Info returns the observable record for one container.
func (d *Driver) Info(ctx context.Context, containerID string) (backend.ContainerInfo, error) {
	vmid, err := d.vmidFor(containerID)
	if err != nil {
		return backend.ContainerInfo{}, err
	}
	statusOut, err := d.run(ctx, "status", strconv.Itoa(vmid))
	if err != nil {
		return backend.ContainerInfo{}, nexerr.Wrap(nexerr.BackendUnavailable, err, "pct status failed", "container_id", containerID)
	}
	st, err := d.State.Read(containerID)
	if err != nil {
		return backend.ContainerInfo{}, err
	}
	return backend.ContainerInfo{
		ID:        containerID,
		VMID:      vmid,
		Status:    parseStatus(statusOut),
		CreatedAt: st.CreatedAt,
		Backend:   d.Name(),
	}, nil
}

// Checkpoint snapshots the container's rootfs dataset.
func (d *Driver) Checkpoint(ctx context.Context, containerID string) (string, error) {
	vmid, err := d.vmidFor(containerID)
	if err != nil {
		return "", err
	}
	return d.Checkpointer.Create(ctx, d.ZFSPool, vmid)
}

// Restore rolls the container's rootfs dataset back to snapshot.
func (d *Driver) Restore(ctx context.Context, containerID string, snapshot string) error {
	vmid, err := d.vmidFor(containerID)
	if err != nil {
		return err
	}
	return d.Checkpointer.Restore(ctx, d.ZFSPool, vmid, snapshot)
}

// awaitStatus polls pct status until it reports want or StartupTimeout
// elapses.
func (d *Driver) awaitStatus(ctx context.Context, vmid int, want backend.Status) error {
	deadline := d.now().Add(d.StartupTimeout)
	for {
		out, err := d.run(ctx, "status", strconv.Itoa(vmid))
		if err == nil && parseStatus(out) == want {
			return nil
		}
		if d.now().After(deadline) {
			return nexerr.New(nexerr.Timeout, "timed out waiting for status", "vmid", strconv.Itoa(vmid), "want", string(want))
		}
		if err := d.Sleep(ctx, d.PollInterval); err != nil {
			return err
		}
	}
}
