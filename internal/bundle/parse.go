package bundle

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/CageForge/nexcage/internal/idvalidate"
	"github.com/CageForge/nexcage/internal/nexerr"
)

var ociVersionPattern = regexp.MustCompile(`^1\.0\.\d+$`)

// Parse loads and validates bundleDir/config.json, returning the reduced
// internal Spec. Parse performs no I/O beyond reading config.json and
// checking root.path existence; it is otherwise a pure function of its
// input (spec §4.4 "Output: a pure value").
func Parse(bundleDir string) (Spec, error) {
	configPath := filepath.Join(bundleDir, "config.json")
	data, err := os.ReadFile(configPath)
	if err != nil {
		return Spec{}, nexerr.Wrap(nexerr.SpecInvalid, err, "read config.json", "path", configPath)
	}

	var raw specs.Spec
	if err := json.Unmarshal(data, &raw); err != nil {
		return Spec{}, nexerr.Wrap(nexerr.SpecInvalid, err, "config.json is not valid JSON or has a field of the wrong type", "path", configPath)
	}

	if !ociVersionPattern.MatchString(raw.Version) {
		return Spec{}, nexerr.New(nexerr.SpecInvalid, "ociVersion must match 1.0.x", "path", configPath+"#/ociVersion", "ociVersion", raw.Version)
	}

	if raw.Process == nil || len(raw.Process.Args) == 0 {
		return Spec{}, nexerr.New(nexerr.SpecInvalid, "process.args must be a non-empty array", "path", configPath+"#/process/args")
	}
	for i, a := range raw.Process.Args {
		if strings.TrimSpace(a) == "" {
			return Spec{}, nexerr.New(nexerr.SpecInvalid, "process.args entries must be non-empty strings",
				"path", fmt.Sprintf("%s#/process/args/%d", configPath, i))
		}
	}

	if raw.Root == nil || raw.Root.Path == "" {
		return Spec{}, nexerr.New(nexerr.SpecInvalid, "root.path is required", "path", configPath+"#/root/path")
	}
	rootfsAbs, err := idvalidate.SafeJoin(bundleDir, raw.Root.Path)
	if err != nil {
		return Spec{}, err
	}
	if fi, statErr := os.Stat(rootfsAbs); statErr != nil || !fi.IsDir() {
		return Spec{}, nexerr.New(nexerr.PathUnsafe, "root.path must resolve to a directory inside the bundle",
			"path", configPath+"#/root/path", "resolved", rootfsAbs)
	}

	mounts := make([]Mount, 0, len(raw.Mounts))
	for i, m := range raw.Mounts {
		if !filepath.IsAbs(m.Destination) {
			return Spec{}, nexerr.New(nexerr.SpecInvalid, "mount destination must be absolute",
				"path", fmt.Sprintf("%s#/mounts/%d/destination", configPath, i), "destination", m.Destination)
		}
		if m.Type != "" && !RecognizedMountTypes[m.Type] {
			return Spec{}, nexerr.New(nexerr.SpecInvalid, "unrecognized mount type",
				"path", fmt.Sprintf("%s#/mounts/%d/type", configPath, i), "type", m.Type)
		}
		mounts = append(mounts, Mount{
			Destination: m.Destination,
			Source:      m.Source,
			Type:        m.Type,
			Options:     append([]string(nil), m.Options...),
		})
	}

	spec := Spec{
		Hostname: raw.Hostname,
		Process: Process{
			Args:     append([]string(nil), raw.Process.Args...),
			Env:      append([]string(nil), raw.Process.Env...),
			Cwd:      raw.Process.Cwd,
			UID:      raw.Process.User.UID,
			GID:      raw.Process.User.GID,
			Terminal: raw.Process.Terminal,
		},
		Root: Root{
			Path:     raw.Root.Path,
			ReadOnly: raw.Root.Readonly,
		},
		Mounts:      mounts,
		Annotations: raw.Annotations,
	}

	if raw.Linux != nil {
		if raw.Linux.Resources != nil {
			if mem := raw.Linux.Resources.Memory; mem != nil {
				spec.Resources.Memory.LimitBytes = mem.Limit
			}
			if cpu := raw.Linux.Resources.CPU; cpu != nil {
				spec.Resources.CPU.Shares = cpu.Shares
				spec.Resources.CPU.Quota = cpu.Quota
				spec.Resources.CPU.Period = cpu.Period
			}
		}
		for _, ns := range raw.Linux.Namespaces {
			spec.Namespaces = append(spec.Namespaces, Namespace{
				Type: string(ns.Type),
				Path: ns.Path,
			})
		}
	}

	return spec, nil
}
