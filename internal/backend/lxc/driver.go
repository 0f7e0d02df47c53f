// Package lxc implements the proxmox-lxc backend by shelling out to
// pct, pvesm and pveam, following the same CommandRunner-indirected
// CLI-driver shape as the project's qm-based VM backend (spec §4.6.1
// "LXC Driver").
package lxc

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/CageForge/nexcage/internal/backend"
	"github.com/CageForge/nexcage/internal/bundle"
	"github.com/CageForge/nexcage/internal/checkpoint"
	"github.com/CageForge/nexcage/internal/idvalidate"
	"github.com/CageForge/nexcage/internal/imageconv"
	"github.com/CageForge/nexcage/internal/logging"
	"github.com/CageForge/nexcage/internal/mapping"
	"github.com/CageForge/nexcage/internal/nexerr"
	"github.com/CageForge/nexcage/internal/state"
)

var log = logging.For("backend.lxc")

// Driver implements backend.Backend for Proxmox LXC containers.
type Driver struct {
	PctPath  string
	PvesmPath string
	Storage  string // pveam/vztmpl storage id, e.g. "local"
	ZFSPool  string // dataset pool backing container rootfs, e.g. "rpool"

	Runner       backend.CommandRunner
	Mapping      *mapping.Store
	State        *state.Store
	Converter    *imageconv.Converter
	Checkpointer *checkpoint.Engine

	StartupTimeout time.Duration
	PollInterval   time.Duration
	NowFunc        func() time.Time
	Sleep          func(ctx context.Context, d time.Duration) error
}

var _ backend.Backend = (*Driver)(nil)

// New builds a Driver wiring the given stores and command runner
// together with Proxmox CLI defaults.
func New(runner backend.CommandRunner, storage, zfsPool string, mappingStore *mapping.Store, stateStore *state.Store, converter *imageconv.Converter, chk *checkpoint.Engine) *Driver {
	return &Driver{
		PctPath:        "pct",
		PvesmPath:      "pvesm",
		Storage:        storage,
		ZFSPool:        zfsPool,
		Runner:         runner,
		Mapping:        mappingStore,
		State:          stateStore,
		Converter:      converter,
		Checkpointer:   chk,
		StartupTimeout: 30 * time.Second,
		PollInterval:   200 * time.Millisecond,
		NowFunc:        time.Now,
		Sleep:          defaultSleep,
	}
}

func defaultSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (d *Driver) Name() string { return "proxmox-lxc" }

func (d *Driver) run(ctx context.Context, args ...string) (string, error) {
	stdout, stderr, err := d.Runner.Run(ctx, d.pctPath(), args...)
	if err != nil {
		return "", nexerr.Wrap(nexerr.BackendCreateFailed, err, "pct command failed",
			"args", strings.Join(args, " "), "stderr", strings.TrimSpace(stderr))
	}
	return stdout, nil
}

func (d *Driver) pctPath() string {
	if d.PctPath == "" {
		return "pct"
	}
	return d.PctPath
}

// Create allocates a VMID, resolves or builds the backing template, and
// provisions a new LXC container, verifying the applied configuration
// before returning.
func (d *Driver) Create(ctx context.Context, req backend.CreateRequest) error {
	if err := idvalidate.ContainerID(req.ContainerID); err != nil {
		return err
	}
	spec, err := bundle.Parse(req.BundleDir)
	if err != nil {
		return err
	}

	listOut, err := d.run(ctx, "list")
	if err != nil {
		return nexerr.Wrap(nexerr.BackendUnavailable, err, "pct list failed", "container_id", req.ContainerID)
	}
	var live []int
	for _, line := range strings.Split(listOut, "\n") {
		if v, _, _, ok := parseListLine(line); ok {
			live = append(live, v)
		}
	}
	vmid, err := d.Mapping.Allocate(req.ContainerID, req.BundleDir, d.Mapping.Reconcile(live))
	if err != nil {
		return err
	}

	if err := d.State.Write(state.State{
		OCIVersion: "1.0.2",
		ID:         req.ContainerID,
		Status:     state.Creating,
		Bundle:     req.BundleDir,
		VMID:       vmid,
		CreatedAt:  d.now().Unix(),
	}); err != nil {
		return err
	}

	template, err := d.Converter.Resolve(ctx, req.ContainerID, req.BundleDir, spec)
	if err != nil {
		return err
	}

	args := []string{"create", strconv.Itoa(vmid), fmt.Sprintf("%s:vztmpl/%s", d.Storage, template),
		"--hostname", hostnameFor(spec, req.ContainerID),
		"--rootfs", fmt.Sprintf("%s:%s", d.Storage, rootDiskSize(req.Limits.DiskBytes)),
	}

	if cores := resolveCores(spec.Resources.CPU.Shares, spec.Resources.CPU.Quota, spec.Resources.CPU.Period); cores > 0 {
		args = append(args, "--cores", strconv.Itoa(cores))
	} else if req.Limits.CPUCores != nil && *req.Limits.CPUCores > 0 {
		args = append(args, "--cores", strconv.Itoa(*req.Limits.CPUCores))
	}

	if mem := MiBFromBytes(memoryLimitBytes(spec, req.Limits)); mem > 0 {
		args = append(args, "--memory", strconv.Itoa(mem))
	}

	if req.Network.Bridge != "" {
		ip := req.Network.IP
		if ip == "" {
			ip = "dhcp"
		}
		args = append(args, "--net0", fmt.Sprintf("name=eth0,bridge=%s,ip=%s", req.Network.Bridge, ip))
	}

	if spec.HasUserNamespace() {
		args = append(args, "--unprivileged", "1", "--features", "nesting=1,keyctl=1")
	}

	if hasSharedNamespace(spec) {
		log.WithField("container_id", req.ContainerID).Warn("bundle requests a shared namespace, which proxmox-lxc cannot honor; continuing with a private namespace")
	}

	if _, err := d.run(ctx, args...); err != nil {
		_ = d.Mapping.Release(req.ContainerID)
		_ = d.State.Delete(req.ContainerID)
		return err
	}

	if err := d.applyMounts(ctx, vmid, spec.Mounts); err != nil {
		return err
	}

	if err := d.verifyConfig(ctx, vmid, req, spec); err != nil {
		return err
	}

	return d.State.Transition(req.ContainerID, state.Created, nil)
}

func hostnameFor(spec bundle.Spec, containerID string) string {
	if spec.Hostname != "" {
		return spec.Hostname
	}
	return containerID
}

func memoryLimitBytes(spec bundle.Spec, limits backend.ResourceLimits) int64 {
	if spec.Resources.Memory.LimitBytes != nil && *spec.Resources.Memory.LimitBytes > 0 {
		return *spec.Resources.Memory.LimitBytes
	}
	if limits.MemoryBytes != nil {
		return *limits.MemoryBytes
	}
	return 0
}

func rootDiskSize(diskBytes *int64) string {
	if diskBytes == nil || *diskBytes <= 0 {
		return "8G"
	}
	gib := (*diskBytes + (1 << 30) - 1) / (1 << 30)
	if gib < 1 {
		gib = 1
	}
	return fmt.Sprintf("%dG", gib)
}

func hasSharedNamespace(spec bundle.Spec) bool {
	for _, ns := range spec.Namespaces {
		if ns.Path != "" {
			return true
		}
	}
	return false
}

func (d *Driver) now() time.Time {
	if d.NowFunc != nil {
		return d.NowFunc()
	}
	return time.Now()
}
