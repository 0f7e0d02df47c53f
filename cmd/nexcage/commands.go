package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/CageForge/nexcage/internal/backend"
	"github.com/CageForge/nexcage/internal/backend/crun"
	"github.com/CageForge/nexcage/internal/backend/lxc"
	"github.com/CageForge/nexcage/internal/backend/vm"
	"github.com/CageForge/nexcage/internal/bundle"
	"github.com/CageForge/nexcage/internal/checkpoint"
	"github.com/CageForge/nexcage/internal/config"
	"github.com/CageForge/nexcage/internal/imageconv"
	"github.com/CageForge/nexcage/internal/logging"
	"github.com/CageForge/nexcage/internal/mapping"
	"github.com/CageForge/nexcage/internal/metrics"
	"github.com/CageForge/nexcage/internal/nexerr"
	"github.com/CageForge/nexcage/internal/router"
	"github.com/CageForge/nexcage/internal/state"
)

var log = logging.For("cmd.nexcage")

// environment wires together every store, driver and cross-cutting
// concern a verb handler needs. One environment is built per process
// invocation.
type environment struct {
	cfg      config.Config
	jsonOut  bool
	mapping  *mapping.Store
	state    *state.Store
	router   *router.Router
	checkpt  *checkpoint.Engine
	convert  *imageconv.Converter
	metrics  *metrics.Registry
	lxc      *lxc.Driver
}

func newEnvironment(opts globalOptions) (*environment, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	config.ApplyFlagOverrides(&cfg, opts.defaultBackend, opts.logLevel, opts.logFile, opts.stateDir, opts.templateDir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := logging.Configure(cfg.LogLevel, cfg.LogFile); err != nil {
		return nil, nexerr.Wrap(nexerr.ConfigInvalid, err, "configure logging")
	}

	runner := backend.ExecRunner{}
	mappingStore := mapping.New(cfg.MappingPath())
	stateStore := state.New(cfg.StateFileDir())

	converter := imageconv.New(cfg.TemplateDir, cfg.Backends.LXC.Storage, runner)
	converter.PveamPath = cfg.Backends.LXC.PveamPath

	chk := checkpoint.New(runner)

	lxcDriver := lxc.New(runner, cfg.Backends.LXC.Storage, cfg.Backends.LXC.ZFSPool, mappingStore, stateStore, converter, chk)
	lxcDriver.PctPath = cfg.Backends.LXC.PctPath
	lxcDriver.PvesmPath = cfg.Backends.LXC.PvesmPath
	if cfg.Backends.LXC.StartupTimeout > 0 {
		lxcDriver.StartupTimeout = cfg.Backends.LXC.StartupTimeout
	}

	crunDriver := crun.New(cfg.Backends.Crun.BinaryPath, runner)
	runcDriver := crun.New(cfg.Backends.Runc.BinaryPath, runner)
	vmDriver := vm.New(runner, mappingStore)
	vmDriver.QmPath = cfg.Backends.VM.QmPath

	backends := map[string]backend.Backend{
		config.BackendProxmoxLXC: lxcDriver,
		config.BackendCrun:       crunDriver,
		config.BackendRunc:       runcDriver,
		config.BackendProxmoxVM:  vmDriver,
	}

	env := &environment{
		cfg:     cfg,
		jsonOut: opts.jsonOutput,
		mapping: mappingStore,
		state:   stateStore,
		router:  router.New(cfg, backends),
		checkpt: chk,
		convert: converter,
		metrics: metrics.NewRegistry(),
		lxc:     lxcDriver,
	}

	if swept, err := imageconv.Sweep(converter.TmpDir, time.Hour, time.Now()); err != nil {
		log.WithError(err).Warn("staging sweep failed")
	} else if len(swept) > 0 {
		log.WithField("count", len(swept)).Info("swept stale staging directories")
	}

	return env, nil
}

func (e *environment) flushMetrics() {
	if e.cfg.MetricsDir == "" {
		return
	}
	if err := e.metrics.Flush(e.cfg.MetricsDir); err != nil {
		log.WithError(err).Warn("metrics flush failed")
	}
}

func (e *environment) observe(operation, backendName string, start time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	e.metrics.ObserveOperation(operation, backendName, outcome, time.Since(start))
	e.flushMetrics()
}

func requireArg(args []string, n int, name string) (string, error) {
	if len(args) <= n {
		return "", newUsageError(fmt.Sprintf("missing required argument: %s", name))
	}
	return args[n], nil
}

func runCreate(ctx context.Context, env *environment, args []string) error {
	start := time.Now()
	id, err := requireArg(args, 0, "container-id")
	if err != nil {
		return err
	}
	bundleDir, err := requireArg(args, 1, "bundle-dir")
	if err != nil {
		return err
	}

	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var memBytes, diskBytes int64
	var cpuCores int
	var bridge, ip string
	fs.Int64Var(&memBytes, "memory-bytes", 0, "memory limit override, in bytes")
	fs.Int64Var(&diskBytes, "disk-bytes", 0, "disk size override, in bytes")
	fs.IntVar(&cpuCores, "cpu-cores", 0, "cpu core count override")
	fs.StringVar(&bridge, "bridge", env.cfg.Backends.LXC.Bridge, "network bridge")
	fs.StringVar(&ip, "ip", "dhcp", "guest ip assignment (dhcp or static address)")
	if len(args) > 2 {
		if err := fs.Parse(args[2:]); err != nil {
			return newUsageError(err.Error())
		}
	}

	b, err := env.router.Resolve(id)
	if err != nil {
		return err
	}

	req := backend.CreateRequest{
		ContainerID: id,
		BundleDir:   bundleDir,
		Network:     backend.NetworkConfig{Bridge: bridge, IP: ip},
	}
	if memBytes > 0 {
		req.Limits.MemoryBytes = &memBytes
	} else if d := env.cfg.Backends.LXC.DefaultMemoryBytes; d > 0 {
		req.Limits.MemoryBytes = &d
	}
	if diskBytes > 0 {
		req.Limits.DiskBytes = &diskBytes
	} else if d := env.cfg.Backends.LXC.DefaultDiskBytes; d > 0 {
		req.Limits.DiskBytes = &d
	}
	if cpuCores > 0 {
		req.Limits.CPUCores = &cpuCores
	} else if d := env.cfg.Backends.LXC.DefaultCPUCores; d > 0 {
		req.Limits.CPUCores = &d
	}

	err = b.Create(ctx, req)
	env.observe("create", b.Name(), start, err)
	if err != nil {
		return err
	}
	return printResult(env, map[string]any{"container_id": id, "backend": b.Name(), "status": "created"})
}

func runStart(ctx context.Context, env *environment, args []string) error {
	return runSimpleVerb(ctx, env, args, "start", func(b backend.Backend, id string) error {
		return b.Start(ctx, id)
	})
}

func runStop(ctx context.Context, env *environment, args []string) error {
	return runSimpleVerb(ctx, env, args, "stop", func(b backend.Backend, id string) error {
		return b.Stop(ctx, id)
	})
}

func runDelete(ctx context.Context, env *environment, args []string) error {
	return runSimpleVerb(ctx, env, args, "delete", func(b backend.Backend, id string) error {
		return b.Delete(ctx, id)
	})
}

func runSimpleVerb(ctx context.Context, env *environment, args []string, verb string, fn func(backend.Backend, string) error) error {
	start := time.Now()
	id, err := requireArg(args, 0, "container-id")
	if err != nil {
		return err
	}
	b, err := env.router.Resolve(id)
	if err != nil {
		return err
	}
	err = fn(b, id)
	env.observe(verb, b.Name(), start, err)
	if err != nil {
		return err
	}
	return printResult(env, map[string]any{"container_id": id, "backend": b.Name(), "status": verb + "ed"})
}

func runKill(ctx context.Context, env *environment, args []string) error {
	start := time.Now()
	id, err := requireArg(args, 0, "container-id")
	if err != nil {
		return err
	}
	signal, err := requireArg(args, 1, "signal")
	if err != nil {
		return err
	}
	b, err := env.router.Resolve(id)
	if err != nil {
		return err
	}
	err = b.Kill(ctx, id, signal)
	env.observe("kill", b.Name(), start, err)
	if err != nil {
		return err
	}
	return printResult(env, map[string]any{"container_id": id, "backend": b.Name(), "status": "killed", "signal": signal})
}

func runExec(ctx context.Context, env *environment, args []string) error {
	start := time.Now()
	id, err := requireArg(args, 0, "container-id")
	if err != nil {
		return err
	}
	rest := args[1:]

	fs := flag.NewFlagSet("exec", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var envKVs stringSliceFlag
	var tty bool
	fs.Var(&envKVs, "env", "KEY=VALUE environment entries (repeatable)")
	fs.BoolVar(&tty, "tty", isInteractive(), "allocate a pseudo-tty")

	sep := indexOf(rest, "--")
	var flagArgs, argv []string
	if sep >= 0 {
		flagArgs, argv = rest[:sep], rest[sep+1:]
	} else {
		flagArgs, argv = nil, rest
	}
	if len(flagArgs) > 0 {
		if err := fs.Parse(flagArgs); err != nil {
			return newUsageError(err.Error())
		}
	}
	if len(argv) == 0 {
		return newUsageError("exec requires a command after --")
	}

	b, err := env.router.Resolve(id)
	if err != nil {
		return err
	}
	exitCode, err := b.Exec(ctx, id, argv, []string(envKVs), tty)
	env.observe("exec", b.Name(), start, err)
	if err != nil {
		return err
	}
	if err := printResult(env, map[string]any{"container_id": id, "backend": b.Name(), "exit_code": exitCode}); err != nil {
		return err
	}
	if exitCode != 0 {
		os.Exit(exitCode)
	}
	return nil
}

func runList(ctx context.Context, env *environment, args []string) error {
	type row struct {
		ID      string `json:"id"`
		VMID    int    `json:"vmid"`
		Status  string `json:"status"`
		Backend string `json:"backend"`
	}
	var rows []row
	for _, b := range env.router.Backends() {
		infos, err := b.List(ctx)
		if err != nil {
			log.WithError(err).WithField("backend", b.Name()).Warn("list failed")
			continue
		}
		for _, info := range infos {
			rows = append(rows, row{ID: info.ID, VMID: info.VMID, Status: string(info.Status), Backend: info.Backend})
		}
	}

	if env.jsonOut {
		return writeJSON(os.Stdout, rows)
	}
	for _, r := range rows {
		fmt.Printf("%s\t%d\t%s\t%s\n", r.ID, r.VMID, r.Status, r.Backend)
	}
	return nil
}

func runInfo(ctx context.Context, env *environment, args []string) error {
	id, err := requireArg(args, 0, "container-id")
	if err != nil {
		return err
	}
	b, err := env.router.Resolve(id)
	if err != nil {
		return err
	}
	info, err := b.Info(ctx, id)
	if err != nil {
		return err
	}
	return printResult(env, info)
}

func runState(ctx context.Context, env *environment, args []string) error {
	id, err := requireArg(args, 0, "container-id")
	if err != nil {
		return err
	}
	st, err := env.state.Read(id)
	if err != nil {
		return err
	}
	return printResult(env, st)
}

func runCheckpoint(ctx context.Context, env *environment, args []string) error {
	start := time.Now()
	id, err := requireArg(args, 0, "container-id")
	if err != nil {
		return err
	}
	b, err := env.router.Resolve(id)
	if err != nil {
		return err
	}
	snapshot, err := b.Checkpoint(ctx, id)
	env.observe("checkpoint", b.Name(), start, err)
	if err != nil {
		return err
	}
	return printResult(env, map[string]any{"container_id": id, "backend": b.Name(), "snapshot": snapshot})
}

func runRestore(ctx context.Context, env *environment, args []string) error {
	start := time.Now()
	id, err := requireArg(args, 0, "container-id")
	if err != nil {
		return err
	}
	var snapshot string
	if len(args) > 1 {
		snapshot = args[1]
	}
	b, err := env.router.Resolve(id)
	if err != nil {
		return err
	}
	err = b.Restore(ctx, id, snapshot)
	env.observe("restore", b.Name(), start, err)
	if err != nil {
		return err
	}
	reported := snapshot
	if reported == "" {
		reported = "latest"
	}
	return printResult(env, map[string]any{"container_id": id, "backend": b.Name(), "status": "restored", "snapshot": reported})
}

// runSpec emits a minimal valid config.json skeleton to stdout, the OCI
// CLI convention spec.md's CLI surface table references.
func runSpec(ctx context.Context, env *environment, args []string) error {
	skeleton := bundle.Skeleton()
	data, err := json.MarshalIndent(skeleton, "", "\t")
	if err != nil {
		return nexerr.Wrap(nexerr.Internal, err, "marshal spec skeleton")
	}
	if len(args) > 0 {
		path := args[0] + "/config.json"
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return nexerr.Wrap(nexerr.IO, err, "write config.json", "path", path)
		}
	}
	fmt.Println(string(data))
	return nil
}

func printResult(env *environment, v any) error {
	if env.jsonOut {
		return writeJSON(os.Stdout, v)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nexerr.Wrap(nexerr.Internal, err, "marshal result")
	}
	fmt.Println(string(data))
	return nil
}

func writeJSON(w *os.File, v any) error {
	enc := json.NewEncoder(w)
	if err := enc.Encode(v); err != nil {
		return nexerr.Wrap(nexerr.Internal, err, "encode json result")
	}
	return nil
}

func isInteractive() bool {
	return isatty.IsTerminal(os.Stdin.Fd()) && isatty.IsTerminal(os.Stdout.Fd())
}

func indexOf(ss []string, target string) int {
	for i, s := range ss {
		if s == target {
			return i
		}
	}
	return -1
}

// stringSliceFlag implements flag.Value to collect repeatable -env K=V
// flags.
type stringSliceFlag []string

func (s *stringSliceFlag) String() string { return strings.Join(*s, ",") }

func (s *stringSliceFlag) Set(v string) error {
	if !strings.Contains(v, "=") {
		return fmt.Errorf("env entry %q must be KEY=VALUE", v)
	}
	*s = append(*s, v)
	return nil
}
