// Package main implements the nexcage CLI: a thin, one-shot front end
// over the core packages (config, router, mapping, state, bundle,
// imageconv, checkpoint, backend/*) that an operator or a higher-level
// container orchestrator invokes per OCI lifecycle verb.
//
// # Usage
//
//	nexcage [global flags] <verb> [verb args]
//
// # Global Flags
//
//	--config PATH          config file path (overrides the search path)
//	--default-backend NAME one of proxmox-lxc, crun, runc, proxmox-vm
//	--log-level LEVEL      trace, debug, info, warn, error, fatal
//	--log-file PATH        log destination (default stderr)
//	--state-dir DIR        overrides state_dir from config
//	--template-dir DIR     overrides template_dir from config
//	--json                 emit machine-readable JSON instead of text
//	--version              print version and exit
//	--help                 show usage
//
// # Verbs
//
//	create <id> <bundle-dir> [--memory-bytes N] [--cpu-cores N] [--disk-bytes N] [--bridge NAME] [--ip ADDR]
//	start <id>
//	stop <id>
//	kill <id> <signal>
//	delete <id>
//	exec <id> [--env K=V]... [--tty] -- <argv...>
//	list
//	info <id>
//	state <id>
//	checkpoint <id>
//	restore <id> [snapshot]
//	spec [bundle-dir]
//	version
//	help
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/CageForge/nexcage/internal/buildinfo"
)

const usageText = `nexcage is the CLI for the NexCage OCI-to-Proxmox-LXC runtime shim.

Usage:
  nexcage --version
  nexcage [global flags] create <id> <bundle-dir> [--memory-bytes N] [--cpu-cores N] [--disk-bytes N] [--bridge NAME] [--ip ADDR]
  nexcage [global flags] start <id>
  nexcage [global flags] stop <id>
  nexcage [global flags] kill <id> <signal>
  nexcage [global flags] delete <id>
  nexcage [global flags] exec <id> [--env K=V]... [--tty] -- <argv...>
  nexcage [global flags] list
  nexcage [global flags] info <id>
  nexcage [global flags] state <id>
  nexcage [global flags] checkpoint <id>
  nexcage [global flags] restore <id> [snapshot]
  nexcage [global flags] spec [bundle-dir]
  nexcage [global flags] version
  nexcage [global flags] help

Global Flags:
  --config PATH          config file path (overrides the search path)
  --default-backend NAME  one of proxmox-lxc, crun, runc, proxmox-vm
  --log-level LEVEL      trace, debug, info, warn, error, fatal
  --log-file PATH        log destination (default stderr)
  --state-dir DIR        overrides state_dir from config
  --template-dir DIR     overrides template_dir from config
  --json                 emit machine-readable JSON instead of text

Errors:
  ERROR <kind>: <message> (context: k=v, ...)

Exit codes:
  0: success
  1: general error
  2: misuse (bad arguments)
  125: runtime error (backend/external command failure)
  127: container or resource not found
`

type globalOptions struct {
	configPath     string
	defaultBackend string
	logLevel       string
	logFile        string
	stateDir       string
	templateDir    string
	jsonOutput     bool
	showVersion    bool
	showHelp       bool
}

func main() {
	opts, args, err := parseGlobal(os.Args[1:])
	if err != nil {
		if errors.Is(err, errHelp) {
			printUsage()
			return
		}
		reportAndExit(err, opts.jsonOutput)
	}
	if opts.showVersion {
		fmt.Println(buildinfo.String())
		return
	}
	if opts.showHelp || len(args) == 0 {
		printUsage()
		return
	}
	if args[0] == "help" {
		printUsage()
		return
	}
	if args[0] == "version" {
		fmt.Println(buildinfo.String())
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	env, err := newEnvironment(opts)
	if err != nil {
		reportAndExit(err, opts.jsonOutput)
	}

	if err := dispatch(ctx, env, args[0], args[1:]); err != nil {
		reportAndExit(err, opts.jsonOutput)
	}
}

func parseGlobal(args []string) (globalOptions, []string, error) {
	var opts globalOptions
	fs := flag.NewFlagSet("nexcage", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&opts.configPath, "config", "", "config file path")
	fs.StringVar(&opts.defaultBackend, "default-backend", "", "default backend name")
	fs.StringVar(&opts.logLevel, "log-level", "", "log level")
	fs.StringVar(&opts.logFile, "log-file", "", "log file path")
	fs.StringVar(&opts.stateDir, "state-dir", "", "state directory")
	fs.StringVar(&opts.templateDir, "template-dir", "", "template directory")
	fs.BoolVar(&opts.jsonOutput, "json", false, "emit JSON output")
	fs.BoolVar(&opts.showVersion, "version", false, "print version and exit")
	fs.BoolVar(&opts.showHelp, "help", false, "show help")
	fs.BoolVar(&opts.showHelp, "h", false, "show help")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return opts, nil, errHelp
		}
		return opts, nil, newUsageError(err.Error())
	}
	return opts, fs.Args(), nil
}

func dispatch(ctx context.Context, env *environment, verb string, args []string) error {
	switch verb {
	case "create":
		return runCreate(ctx, env, args)
	case "start":
		return runStart(ctx, env, args)
	case "stop":
		return runStop(ctx, env, args)
	case "kill":
		return runKill(ctx, env, args)
	case "delete":
		return runDelete(ctx, env, args)
	case "exec":
		return runExec(ctx, env, args)
	case "list":
		return runList(ctx, env, args)
	case "info":
		return runInfo(ctx, env, args)
	case "state":
		return runState(ctx, env, args)
	case "checkpoint":
		return runCheckpoint(ctx, env, args)
	case "restore":
		return runRestore(ctx, env, args)
	case "spec":
		return runSpec(ctx, env, args)
	default:
		printUsage()
		return newCommandNotFoundError(verb)
	}
}

func printUsage() {
	_, _ = fmt.Fprint(os.Stdout, usageText)
}
