// Package backend defines the uniform lifecycle contract every driver
// (proxmox-lxc, crun, runc, proxmox-vm) implements, plus the
// CommandRunner abstraction drivers use to shell out to external tools.
package backend

import (
	"context"
	"time"
)

// Status mirrors the OCI runtime state status values (spec §3).
type Status string

const (
	StatusCreating Status = "creating"
	StatusCreated  Status = "created"
	StatusRunning  Status = "running"
	StatusStopped  Status = "stopped"
	StatusPaused   Status = "paused"
)

// ResourceLimits is the precedence-resolved effective limit set used at
// creation time (spec §3).
type ResourceLimits struct {
	MemoryBytes          *int64
	CPUCores             *int
	DiskBytes            *int64
	NetworkBandwidthBPS  *int64
}

// NetworkConfig carries the backend-specific networking knobs a create
// call needs (bridge/ip assignment for proxmox-lxc; ignored by backends
// that don't model networking, e.g. crun).
type NetworkConfig struct {
	Bridge string
	IP     string // "dhcp" or a static address
}

// ContainerInfo is the observable record returned by Info/List (spec §3).
type ContainerInfo struct {
	ID              string
	VMID            int
	Status          Status
	ImageOrTemplate string
	CreatedAt       int64
	Backend         string
	Addresses       []string
}

// CreateRequest bundles the inputs to Create (spec §4.6.1).
type CreateRequest struct {
	ContainerID string
	BundleDir   string
	Limits      ResourceLimits
	Network     NetworkConfig
}

// Backend is the uniform lifecycle contract exposed by every driver.
// Operations a backend cannot implement return an *nexerr.Error with
// Kind UnsupportedOperation rather than panicking.
type Backend interface {
	Name() string

	Create(ctx context.Context, req CreateRequest) error
	Start(ctx context.Context, containerID string) error
	Stop(ctx context.Context, containerID string) error
	Kill(ctx context.Context, containerID string, signal string) error
	Delete(ctx context.Context, containerID string) error
	Exec(ctx context.Context, containerID string, argv []string, env []string, tty bool) (exitCode int, err error)
	List(ctx context.Context) ([]ContainerInfo, error)
	Info(ctx context.Context, containerID string) (ContainerInfo, error)
	Checkpoint(ctx context.Context, containerID string) (snapshot string, err error)
	Restore(ctx context.Context, containerID string, snapshot string) error
}

// CommandRunner executes an external command and returns its stdout.
// Drivers depend on this interface instead of os/exec directly so tests
// can substitute a fake.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (stdout string, stderr string, err error)
}

// DefaultTimeout is a 30-second per-command budget. No CommandRunner or
// driver in this module applies it: an external command runs until it
// exits or its context is cancelled.
const DefaultTimeout = 30 * time.Second
