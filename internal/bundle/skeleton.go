package bundle

import specs "github.com/opencontainers/runtime-spec/specs-go"

// Skeleton returns a minimal valid OCI runtime config.json value: a
// process with a single arg, a root path of "rootfs" and no mounts,
// suitable as a starting point for a hand-authored bundle. It mirrors
// the "spec" verb other OCI runtime CLIs (runc, crun) expose.
func Skeleton() *specs.Spec {
	return &specs.Spec{
		Version: "1.0.2",
		Process: &specs.Process{
			Terminal: true,
			User:     specs.User{UID: 0, GID: 0},
			Args:     []string{"sh"},
			Cwd:      "/",
			Env: []string{
				"PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin",
			},
		},
		Root: &specs.Root{
			Path:     "rootfs",
			Readonly: false,
		},
		Hostname: "nexcage",
		Mounts:   []specs.Mount{},
		Linux: &specs.Linux{
			Namespaces: []specs.LinuxNamespace{
				{Type: specs.PIDNamespace},
				{Type: specs.NetworkNamespace},
				{Type: specs.IPCNamespace},
				{Type: specs.UTSNamespace},
				{Type: specs.MountNamespace},
			},
		},
	}
}
