// Package vm adapts Proxmox QEMU VMs to the uniform backend.Backend
// contract, for the opaque fan-out case where a container id is routed
// to a full VM instead of a container (spec §4.8 "proxmox-vm Driver").
// The bundle's rootfs is treated as opaque: NexCage does not attempt to
// translate OCI process/mount semantics onto a VM, only lifecycle
// control via qm.
package vm

import (
	"context"
	"strconv"
	"strings"

	"github.com/CageForge/nexcage/internal/backend"
	"github.com/CageForge/nexcage/internal/mapping"
	"github.com/CageForge/nexcage/internal/nexerr"
)

// Driver shells out to qm for VM lifecycle control. Create is
// unsupported: proxmox-vm fan-out targets a VMID that already exists,
// assigned out of band (spec §4.8 Non-goals: "VM provisioning from an
// OCI bundle").
type Driver struct {
	QmPath  string
	Runner  backend.CommandRunner
	Mapping *mapping.Store
}

var _ backend.Backend = (*Driver)(nil)

func New(runner backend.CommandRunner, mappingStore *mapping.Store) *Driver {
	return &Driver{QmPath: "qm", Runner: runner, Mapping: mappingStore}
}

func (d *Driver) Name() string { return "proxmox-vm" }

func (d *Driver) qmPath() string {
	if d.QmPath == "" {
		return "qm"
	}
	return d.QmPath
}

func (d *Driver) run(ctx context.Context, args ...string) (string, error) {
	stdout, stderr, err := d.Runner.Run(ctx, d.qmPath(), args...)
	if err != nil {
		return "", nexerr.Wrap(nexerr.BackendUnavailable, err, "qm command failed",
			"args", strings.Join(args, " "), "stderr", strings.TrimSpace(stderr))
	}
	return stdout, nil
}

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

// Create is unsupported: a proxmox-vm target must already have a VMID
// registered in the mapping store by an operator before routing to it.
func (d *Driver) Create(ctx context.Context, req backend.CreateRequest) error {
	return nexerr.New(nexerr.UnsupportedOperation, "proxmox-vm does not provision VMs from an OCI bundle; assign a vmid out of band", "container_id", req.ContainerID)
}

func (d *Driver) Start(ctx context.Context, containerID string) error {
	vmid, err := d.vmidFor(containerID)
	if err != nil {
		return err
	}
	_, err = d.run(ctx, "start", strconv.Itoa(vmid))
	if err != nil {
		return nexerr.Wrap(nexerr.BackendStartFailed, err, "qm start failed", "container_id", containerID)
	}
	return nil
}

func (d *Driver) Stop(ctx context.Context, containerID string) error {
	vmid, err := d.vmidFor(containerID)
	if err != nil {
		return err
	}
	_, err = d.run(ctx, "shutdown", strconv.Itoa(vmid))
	if err != nil {
		return nexerr.Wrap(nexerr.BackendStopFailed, err, "qm shutdown failed", "container_id", containerID)
	}
	return nil
}

func (d *Driver) Kill(ctx context.Context, containerID string, signal string) error {
	vmid, err := d.vmidFor(containerID)
	if err != nil {
		return err
	}
	_, err = d.run(ctx, "stop", strconv.Itoa(vmid))
	if err != nil {
		return nexerr.Wrap(nexerr.BackendKillFailed, err, "qm stop failed", "container_id", containerID, "signal", signal)
	}
	return nil
}

func (d *Driver) Delete(ctx context.Context, containerID string) error {
	return nexerr.New(nexerr.UnsupportedOperation, "proxmox-vm does not delete VMs; manage vm lifecycle out of band", "container_id", containerID)
}

func (d *Driver) Exec(ctx context.Context, containerID string, argv []string, env []string, tty bool) (int, error) {
	return -1, nexerr.New(nexerr.UnsupportedOperation, "proxmox-vm does not support exec; use guest-agent tooling directly", "container_id", containerID)
}

func (d *Driver) List(ctx context.Context) ([]backend.ContainerInfo, error) {
	stdout, err := d.run(ctx, "list")
	if err != nil {
		return nil, err
	}
	var infos []backend.ContainerInfo
	for i, line := range strings.Split(stdout, "\n") {
		if i == 0 || strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		vmid, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		containerID := fields[0]
		if entry, found, _ := d.Mapping.LookupByVMID(vmid); found {
			containerID = entry.ContainerID
		}
		infos = append(infos, backend.ContainerInfo{
			ID:      containerID,
			VMID:    vmid,
			Status:  mapQMStatus(fields[1]),
			Backend: d.Name(),
		})
	}
	return infos, nil
}

func (d *Driver) Info(ctx context.Context, containerID string) (backend.ContainerInfo, error) {
	vmid, err := d.vmidFor(containerID)
	if err != nil {
		return backend.ContainerInfo{}, err
	}
	out, err := d.run(ctx, "status", strconv.Itoa(vmid))
	if err != nil {
		return backend.ContainerInfo{}, nexerr.Wrap(nexerr.BackendUnavailable, err, "qm status failed", "container_id", containerID)
	}
	fields := strings.Fields(out)
	status := backend.StatusStopped
	if len(fields) >= 2 {
		status = mapQMStatus(fields[1])
	}
	return backend.ContainerInfo{ID: containerID, VMID: vmid, Status: status, Backend: d.Name()}, nil
}

func mapQMStatus(s string) backend.Status {
	switch s {
	case "running":
		return backend.StatusRunning
	case "paused":
		return backend.StatusPaused
	default:
		return backend.StatusStopped
	}
}

// Checkpoint and Restore are unsupported: ZFS dataset snapshots target
// LXC's subvol-<vmid>-disk-0 convention, which does not apply to QEMU
// disk images (spec §4.8 Non-goals).
func (d *Driver) Checkpoint(ctx context.Context, containerID string) (string, error) {
	return "", nexerr.New(nexerr.UnsupportedOperation, "checkpoint is not supported by this backend", "backend", d.Name())
}

func (d *Driver) Restore(ctx context.Context, containerID string, snapshot string) error {
	return nexerr.New(nexerr.UnsupportedOperation, "restore is not supported by this backend", "backend", d.Name())
}
