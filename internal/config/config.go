// Package config provides configuration loading, environment overrides,
// and validation for the NexCage core.
//
// The configuration is loaded from a YAML file discovered on a fixed
// search path (default /etc/nexcage/config.yaml, falling back to
// ./nexcage.yaml for local development). Environment variables prefixed
// NEXCAGE_ override file values; command-line flags override everything.
// Values have sensible defaults and are validated on load.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/CageForge/nexcage/internal/nexerr"
)

// Backend names recognized by default_backend and routing[].backend.
const (
	BackendProxmoxLXC = "proxmox-lxc"
	BackendCrun       = "crun"
	BackendRunc       = "runc"
	BackendProxmoxVM  = "proxmox-vm"
)

// RoutingRule maps a glob pattern over container ids to a backend name.
// The first matching rule wins; unmatched ids fall back to DefaultBackend.
type RoutingRule struct {
	Pattern string `yaml:"pattern"`
	Backend string `yaml:"backend"`
}

// Config holds the fully resolved runtime configuration for one NexCage
// invocation.
type Config struct {
	ConfigPath     string
	DefaultBackend string
	Routing        []RoutingRule
	LogLevel       string
	LogFile        string
	StateDir       string
	TemplateDir    string
	MetricsDir     string

	Backends BackendOptions
}

// BackendOptions holds the backends.<name>.* option groups from §4.1.
type BackendOptions struct {
	LXC  LXCOptions  `yaml:"proxmox-lxc"`
	Crun CrunOptions `yaml:"crun"`
	Runc CrunOptions `yaml:"runc"`
	VM   VMOptions   `yaml:"proxmox-vm"`
}

// LXCOptions configures the proxmox-lxc backend.
type LXCOptions struct {
	PctPath        string        `yaml:"pct_path"`
	PveamPath      string        `yaml:"pveam_path"`
	PvesmPath      string        `yaml:"pvesm_path"`
	Storage        string        `yaml:"storage"`
	Bridge         string        `yaml:"bridge"`
	ZFSPool        string        `yaml:"zfs_pool"`
	CreateTimeout  time.Duration `yaml:"create_timeout"`
	DefaultTimeout time.Duration `yaml:"default_timeout"`
	StartupTimeout time.Duration `yaml:"startup_timeout"`

	// DefaultMemoryBytes/DefaultCPUCores/DefaultDiskBytes are the
	// runtime sandbox config tier of spec §4.6.1's resource precedence:
	// applied when a bundle carries no linux.resources.* value of its
	// own, ahead of the driver's own built-in fallbacks.
	DefaultMemoryBytes int64 `yaml:"default_memory_bytes"`
	DefaultCPUCores    int   `yaml:"default_cpu_cores"`
	DefaultDiskBytes   int64 `yaml:"default_disk_bytes"`
}

// CrunOptions configures the crun/runc OCI-runtime-CLI backends.
type CrunOptions struct {
	BinaryPath string `yaml:"binary_path"`
}

// VMOptions configures the proxmox-vm backend.
type VMOptions struct {
	QmPath string `yaml:"qm_path"`
}

// fileConfig mirrors the subset of Config overridable from YAML. Empty
// fields are ignored, allowing partial overrides.
type fileConfig struct {
	DefaultBackend string        `yaml:"default_backend"`
	Routing        []RoutingRule `yaml:"routing"`
	LogLevel       string        `yaml:"log_level"`
	LogFile        string        `yaml:"log_file"`
	StateDir       string        `yaml:"state_dir"`
	TemplateDir    string        `yaml:"template_dir"`
	MetricsDir     string        `yaml:"metrics_dir"`
	Backends       struct {
		ProxmoxLXC LXCOptions  `yaml:"proxmox-lxc"`
		Crun       CrunOptions `yaml:"crun"`
		Runc       CrunOptions `yaml:"runc"`
		ProxmoxVM  VMOptions   `yaml:"proxmox-vm"`
	} `yaml:"backends"`
}

// searchPaths is consulted, in order, when no explicit path is given.
var searchPaths = []string{
	"/etc/nexcage/config.yaml",
	"./nexcage.yaml",
}

// DefaultConfig returns a Config with every field set to its built-in
// default, per spec §4.1.
func DefaultConfig() Config {
	return Config{
		ConfigPath:     "/etc/nexcage/config.yaml",
		DefaultBackend: BackendProxmoxLXC,
		LogLevel:       "info",
		LogFile:        "",
		StateDir:       "/var/lib/nexcage",
		TemplateDir:    "/var/lib/vz/template/cache",
		MetricsDir:     "",
		Backends: BackendOptions{
			LXC: LXCOptions{
				PctPath:        "pct",
				PveamPath:      "pveam",
				PvesmPath:      "pvesm",
				Storage:        "local",
				Bridge:         "vmbr0",
				ZFSPool:        "rpool",
				CreateTimeout:  120 * time.Second,
				DefaultTimeout: 30 * time.Second,
				StartupTimeout: 30 * time.Second,

				DefaultMemoryBytes: 536870912, // 512 MiB
				DefaultCPUCores:    1,
				DefaultDiskBytes:   8 * 1024 * 1024 * 1024, // 8 GiB, matches rootDiskSize's own fallback
			},
			Crun: CrunOptions{BinaryPath: "crun"},
			Runc: CrunOptions{BinaryPath: "runc"},
			VM:   VMOptions{QmPath: "qm"},
		},
	}
}

// Load resolves the effective configuration: defaults, overridden by the
// discovered config file (if any), overridden by NEXCAGE_* environment
// variables. path, when non-empty, is used verbatim instead of the
// search path. A missing config file at an explicit path is an error;
// a missing file found only via the search path is not.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	resolvedPath, data, err := readConfigFile(path)
	if err != nil {
		return cfg, err
	}
	cfg.ConfigPath = resolvedPath

	if data != nil {
		var fc fileConfig
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return cfg, nexerr.Wrap(nexerr.ConfigInvalid, err, "parse config file", "path", resolvedPath)
		}
		applyFileConfig(&cfg, fc)
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func readConfigFile(path string) (string, []byte, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return path, nil, nexerr.Wrap(nexerr.ConfigInvalid, err, "read config file", "path", path)
		}
		return path, data, nil
	}
	for _, candidate := range searchPaths {
		data, err := os.ReadFile(candidate)
		if err == nil {
			return candidate, data, nil
		}
	}
	return searchPaths[0], nil, nil
}

func applyFileConfig(cfg *Config, fc fileConfig) {
	if fc.DefaultBackend != "" {
		cfg.DefaultBackend = fc.DefaultBackend
	}
	if len(fc.Routing) > 0 {
		cfg.Routing = fc.Routing
	}
	if fc.LogLevel != "" {
		cfg.LogLevel = fc.LogLevel
	}
	if fc.LogFile != "" {
		cfg.LogFile = fc.LogFile
	}
	if fc.StateDir != "" {
		cfg.StateDir = fc.StateDir
	}
	if fc.TemplateDir != "" {
		cfg.TemplateDir = fc.TemplateDir
	}
	if fc.MetricsDir != "" {
		cfg.MetricsDir = fc.MetricsDir
	}
	mergeLXCOptions(&cfg.Backends.LXC, fc.Backends.ProxmoxLXC)
	if fc.Backends.Crun.BinaryPath != "" {
		cfg.Backends.Crun.BinaryPath = fc.Backends.Crun.BinaryPath
	}
	if fc.Backends.Runc.BinaryPath != "" {
		cfg.Backends.Runc.BinaryPath = fc.Backends.Runc.BinaryPath
	}
	if fc.Backends.ProxmoxVM.QmPath != "" {
		cfg.Backends.VM.QmPath = fc.Backends.ProxmoxVM.QmPath
	}
}

func mergeLXCOptions(dst *LXCOptions, src LXCOptions) {
	if src.PctPath != "" {
		dst.PctPath = src.PctPath
	}
	if src.PveamPath != "" {
		dst.PveamPath = src.PveamPath
	}
	if src.PvesmPath != "" {
		dst.PvesmPath = src.PvesmPath
	}
	if src.Storage != "" {
		dst.Storage = src.Storage
	}
	if src.Bridge != "" {
		dst.Bridge = src.Bridge
	}
	if src.ZFSPool != "" {
		dst.ZFSPool = src.ZFSPool
	}
	if src.CreateTimeout != 0 {
		dst.CreateTimeout = src.CreateTimeout
	}
	if src.DefaultTimeout != 0 {
		dst.DefaultTimeout = src.DefaultTimeout
	}
	if src.StartupTimeout != 0 {
		dst.StartupTimeout = src.StartupTimeout
	}
	if src.DefaultMemoryBytes != 0 {
		dst.DefaultMemoryBytes = src.DefaultMemoryBytes
	}
	if src.DefaultCPUCores != 0 {
		dst.DefaultCPUCores = src.DefaultCPUCores
	}
	if src.DefaultDiskBytes != 0 {
		dst.DefaultDiskBytes = src.DefaultDiskBytes
	}
}

// applyEnvOverrides applies the NEXCAGE_* environment variables documented
// in spec §6. These take precedence over the config file.
func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("NEXCAGE_LOG_FILE")); v != "" {
		cfg.LogFile = v
	}
	if v := strings.TrimSpace(os.Getenv("NEXCAGE_LOG_LEVEL")); v != "" {
		cfg.LogLevel = v
	}
	if v := strings.TrimSpace(os.Getenv("NEXCAGE_STATE_DIR")); v != "" {
		cfg.StateDir = v
	}
}

// ApplyFlagOverrides applies command-line flag values, which take the
// highest precedence of all. Empty strings are treated as "not set".
func ApplyFlagOverrides(cfg *Config, defaultBackend, logLevel, logFile, stateDir, templateDir string) {
	if defaultBackend != "" {
		cfg.DefaultBackend = defaultBackend
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if logFile != "" {
		cfg.LogFile = logFile
	}
	if stateDir != "" {
		cfg.StateDir = stateDir
	}
	if templateDir != "" {
		cfg.TemplateDir = templateDir
	}
}

var validBackends = map[string]bool{
	BackendProxmoxLXC: true,
	BackendCrun:       true,
	BackendRunc:       true,
	BackendProxmoxVM:  true,
}

var validLogLevels = map[string]bool{
	"trace": true, "debug": true, "info": true, "warn": true, "error": true, "fatal": true,
}

// Validate checks the configuration for internal consistency, per spec §4.1.
func (c Config) Validate() error {
	if !validBackends[c.DefaultBackend] {
		return nexerr.New(nexerr.ConfigInvalid, "default_backend must be one of proxmox-lxc, crun, runc, proxmox-vm", "default_backend", c.DefaultBackend)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		return nexerr.New(nexerr.ConfigInvalid, "log_level must be one of trace, debug, info, warn, error, fatal", "log_level", c.LogLevel)
	}
	if c.StateDir == "" {
		return nexerr.New(nexerr.ConfigInvalid, "state_dir is required")
	}
	if !filepath.IsAbs(c.StateDir) {
		return nexerr.New(nexerr.ConfigInvalid, "state_dir must be an absolute path", "state_dir", c.StateDir)
	}
	if c.TemplateDir == "" {
		return nexerr.New(nexerr.ConfigInvalid, "template_dir is required")
	}
	for i, rule := range c.Routing {
		if rule.Pattern == "" {
			return nexerr.New(nexerr.ConfigInvalid, fmt.Sprintf("routing[%d].pattern is required", i))
		}
		if !validBackends[rule.Backend] {
			return nexerr.New(nexerr.ConfigInvalid, fmt.Sprintf("routing[%d].backend is invalid", i), "backend", rule.Backend)
		}
	}
	return nil
}

// MappingPath returns the path to the mapping store file.
func (c Config) MappingPath() string {
	return filepath.Join(c.StateDir, "mapping.json")
}

// StateFileDir returns the directory holding per-container state files.
func (c Config) StateFileDir() string {
	return filepath.Join(c.StateDir, "state")
}
