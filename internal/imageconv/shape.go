package imageconv

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/CageForge/nexcage/internal/bundle"
	"github.com/CageForge/nexcage/internal/nexerr"
)

// shapeForLXC writes the handful of files an LXC container needs at
// boot that a generic OCI rootfs typically does not ship: /etc/hostname,
// a minimal /etc/network/interfaces, and a fallback /sbin/init when the
// rootfs has none. Existing files are left untouched.
func shapeForLXC(staging string, spec bundle.Spec) error {
	if err := writeIfAbsent(filepath.Join(staging, "etc", "hostname"), hostnameOrDefault(spec.Hostname)+"\n", 0o644); err != nil {
		return err
	}
	if err := writeIfAbsent(filepath.Join(staging, "etc", "network", "interfaces"), defaultInterfaces, 0o644); err != nil {
		return err
	}
	initPath := filepath.Join(staging, "sbin", "init")
	if _, err := os.Stat(initPath); os.IsNotExist(err) {
		if err := writeIfAbsent(initPath, initScript(spec), 0o755); err != nil {
			return err
		}
	}
	return nil
}

// initScript builds a minimal POSIX shell script that execs the
// bundle's process.args with process.env exported and process.cwd
// honored, used only as a fallback when the rootfs ships no /sbin/init
// of its own.
func initScript(spec bundle.Spec) string {
	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	for _, kv := range spec.Process.Env {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		b.WriteString("export " + key + "=" + shQuote(value) + "\n")
	}
	if spec.Process.Cwd != "" {
		b.WriteString("cd " + shQuote(spec.Process.Cwd) + "\n")
	}
	args := spec.Process.Args
	if len(args) == 0 {
		args = []string{"/bin/sh"}
	}
	b.WriteString("exec")
	for _, a := range args {
		b.WriteString(" " + shQuote(a))
	}
	b.WriteString("\n")
	return b.String()
}

// shQuote wraps s in single quotes for safe use as one POSIX shell
// word, escaping any embedded single quote.
func shQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

const defaultInterfaces = "auto lo\niface lo inet loopback\n\nauto eth0\niface eth0 inet dhcp\n"

func hostnameOrDefault(h string) string {
	if h == "" {
		return "nexcage"
	}
	return h
}

func writeIfAbsent(path, content string, mode os.FileMode) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nexerr.Wrap(nexerr.RootfsCopyFailed, err, "create directory for shaping file", "path", path)
	}
	if err := os.WriteFile(path, []byte(content), mode); err != nil {
		return nexerr.Wrap(nexerr.RootfsCopyFailed, err, "write shaping file", "path", path)
	}
	return nil
}
