// Package crun adapts an OCI-runtime-CLI implementation (crun or runc)
// to the uniform backend.Backend contract. Unlike the LXC driver it owns
// no VMID and no template: it is a thin argument translator over the
// runtime's own state.json (spec §4.8 "crun/runc Driver").
package crun

import (
	"context"
	"strings"

	"github.com/CageForge/nexcage/internal/backend"
	"github.com/CageForge/nexcage/internal/logging"
	"github.com/CageForge/nexcage/internal/nexerr"
)

var log = logging.For("backend.crun")

// Driver shells out to an OCI-runtime-CLI binary (crun or runc, which
// accept the same argv shape).
type Driver struct {
	BinaryPath string // "crun" or "runc"
	Runner     backend.CommandRunner
}

var _ backend.Backend = (*Driver)(nil)

// New builds a Driver for the named OCI runtime binary.
func New(binaryPath string, runner backend.CommandRunner) *Driver {
	return &Driver{BinaryPath: binaryPath, Runner: runner}
}

func (d *Driver) Name() string { return d.BinaryPath }

func (d *Driver) run(ctx context.Context, args ...string) (string, error) {
	stdout, stderr, err := d.Runner.Run(ctx, d.BinaryPath, args...)
	if err != nil {
		return "", nexerr.Wrap(nexerr.BackendCreateFailed, err, d.BinaryPath+" command failed",
			"args", strings.Join(args, " "), "stderr", strings.TrimSpace(stderr))
	}
	return stdout, nil
}

// Create runs `<runtime> create <id> -b <bundle>`, delegating the
// entire bundle-to-process translation to the runtime itself.
func (d *Driver) Create(ctx context.Context, req backend.CreateRequest) error {
	if _, err := d.run(ctx, "create", req.ContainerID, "-b", req.BundleDir); err != nil {
		return err
	}
	log.WithField("container_id", req.ContainerID).Info("created container via OCI runtime")
	return nil
}

func (d *Driver) Start(ctx context.Context, containerID string) error {
	_, err := d.run(ctx, "start", containerID)
	if err != nil {
		return nexerr.Wrap(nexerr.BackendStartFailed, err, "start failed", "container_id", containerID)
	}
	return nil
}

// Stop sends SIGTERM via `<runtime> kill` since neither crun nor runc
// has a dedicated graceful-shutdown verb.
func (d *Driver) Stop(ctx context.Context, containerID string) error {
	return d.Kill(ctx, containerID, "TERM")
}

func (d *Driver) Kill(ctx context.Context, containerID string, signal string) error {
	if signal == "" {
		signal = "TERM"
	}
	_, err := d.run(ctx, "kill", containerID, signal)
	if err != nil {
		return nexerr.Wrap(nexerr.BackendKillFailed, err, "kill failed", "container_id", containerID, "signal", signal)
	}
	return nil
}

func (d *Driver) Delete(ctx context.Context, containerID string) error {
	_, err := d.run(ctx, "delete", "--force", containerID)
	if err != nil && !isMissingContainerError(err) {
		return nexerr.Wrap(nexerr.BackendDeleteFailed, err, "delete failed", "container_id", containerID)
	}
	return nil
}

func isMissingContainerError(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "does not exist") ||
		strings.Contains(strings.ToLower(err.Error()), "not found")
}

// Exec runs `<runtime> exec` with -e flags for each env var.
func (d *Driver) Exec(ctx context.Context, containerID string, argv []string, env []string, tty bool) (int, error) {
	args := []string{"exec"}
	if tty {
		args = append(args, "-t")
	}
	for _, kv := range env {
		args = append(args, "-e", kv)
	}
	args = append(args, containerID)
	args = append(args, argv...)

	_, stderr, err := d.Runner.Run(ctx, d.BinaryPath, args...)
	if err != nil {
		return -1, nexerr.Wrap(nexerr.BackendExecFailed, err, "exec failed",
			"container_id", containerID, "stderr", strings.TrimSpace(stderr))
	}
	return 0, nil
}

// List runs `<runtime> list -q` to enumerate known container ids; each
// entry's state is fetched individually for the status field.
func (d *Driver) List(ctx context.Context) ([]backend.ContainerInfo, error) {
	stdout, err := d.run(ctx, "list", "-q")
	if err != nil {
		return nil, err
	}
	var infos []backend.ContainerInfo
	for _, line := range strings.Split(strings.TrimSpace(stdout), "\n") {
		id := strings.TrimSpace(line)
		if id == "" {
			continue
		}
		info, err := d.Info(ctx, id)
		if err != nil {
			continue
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Info parses `<runtime> state <id>` JSON output.
func (d *Driver) Info(ctx context.Context, containerID string) (backend.ContainerInfo, error) {
	stdout, err := d.run(ctx, "state", containerID)
	if err != nil {
		return backend.ContainerInfo{}, nexerr.Wrap(nexerr.NotFound, err, "state failed", "container_id", containerID)
	}
	st, err := parseRuntimeState(stdout)
	if err != nil {
		return backend.ContainerInfo{}, err
	}
	return backend.ContainerInfo{
		ID:      containerID,
		Status:  mapRuntimeStatus(st.Status),
		Backend: d.Name(),
	}, nil
}

// Checkpoint and Restore are not implemented by the crun/runc adapter:
// the project's checkpoint engine operates on ZFS datasets, and these
// runtimes manage their own rootfs outside of Proxmox storage (spec
// §4.8 "Non-goals": checkpoint support for non-LXC backends).
func (d *Driver) Checkpoint(ctx context.Context, containerID string) (string, error) {
	return "", nexerr.New(nexerr.UnsupportedOperation, "checkpoint is not supported by this backend", "backend", d.Name())
}

func (d *Driver) Restore(ctx context.Context, containerID string, snapshot string) error {
	return nexerr.New(nexerr.UnsupportedOperation, "restore is not supported by this backend", "backend", d.Name())
}
