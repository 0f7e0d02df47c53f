package lxc

import (
	"strconv"
	"strings"

	"github.com/CageForge/nexcage/internal/backend"
)

// parseConfigMap parses `pct config <vmid>` output (key: value per
// line) into a map, the same shape qm config output takes.
func parseConfigMap(out string) map[string]string {
	cfg := make(map[string]string)
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		cfg[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	return cfg
}

// parseStatus parses `pct status <vmid>` output, e.g. "status: running".
func parseStatus(out string) backend.Status {
	out = strings.TrimSpace(out)
	fields := strings.Fields(out)
	var raw string
	if len(fields) >= 2 && fields[0] == "status:" {
		raw = fields[1]
	} else if len(fields) >= 1 {
		raw = fields[len(fields)-1]
	}
	switch raw {
	case "running":
		return backend.StatusRunning
	case "stopped":
		return backend.StatusStopped
	case "paused", "suspended":
		return backend.StatusPaused
	default:
		return backend.StatusStopped
	}
}

// parseListLine parses one `pct list` body line: "VMID Status Lock Name".
// The Lock column is blank for unlocked containers, so the name is taken
// from the last field.
func parseListLine(line string) (vmid int, status backend.Status, name string, ok bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0, "", "", false
	}
	v, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, "", "", false
	}
	st := parseStatus("status: " + fields[1])
	if len(fields) >= 3 {
		name = fields[len(fields)-1]
	}
	return v, st, name, true
}
