package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/CageForge/nexcage/internal/nexerr"
)

// errHelp signals that -h/--help was requested; main treats it as a
// non-error exit after printing usage.
var errHelp = errors.New("help requested")

// usageError marks a misuse of the CLI (bad flags/arguments) so it can
// be mapped to exit code 2 independent of the underlying message.
type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }

func newUsageError(msg string) error { return &usageError{msg: msg} }

// commandNotFoundError marks an unrecognized verb, mapped to exit code 127
// per the CLI's "command not found" contract.
type commandNotFoundError struct{ verb string }

func (e *commandNotFoundError) Error() string {
	return fmt.Sprintf("unknown command %q", e.verb)
}

func newCommandNotFoundError(verb string) error {
	return &commandNotFoundError{verb: verb}
}

// exitCode maps an error to the process exit code: 0 success, 1 general
// error, 2 misuse, 125 runtime error, 127 command/container not found.
// It never returns a 128+n signal code.
func exitCode(err error) int {
	var ue *usageError
	if errors.As(err, &ue) {
		return 2
	}
	var cnf *commandNotFoundError
	if errors.As(err, &cnf) {
		return 127
	}
	switch nexerr.KindOf(err) {
	case nexerr.NotFound:
		return 127
	case nexerr.SpecInvalid, nexerr.ConfigInvalid, nexerr.PathUnsafe, nexerr.AlreadyExists, nexerr.MountSourceMissing:
		return 2
	case nexerr.BackendUnavailable,
		nexerr.BackendCreateFailed,
		nexerr.BackendStartFailed,
		nexerr.BackendStopFailed,
		nexerr.BackendKillFailed,
		nexerr.BackendDeleteFailed,
		nexerr.BackendExecFailed,
		nexerr.VerificationFailed,
		nexerr.RootfsCopyFailed,
		nexerr.RootfsEmpty,
		nexerr.StateInvalidTransition,
		nexerr.VMIDExhausted,
		nexerr.CheckpointUnavailable,
		nexerr.Timeout:
		return 125
	case nexerr.UnsupportedOperation:
		return 1
	default:
		return 1
	}
}

// formatError renders err as the "ERROR <kind>: <message> (context:
// k=v, ...)" single line spec §7 requires on stderr. Errors that never
// reached a *nexerr.Error (usage/argument mistakes, unknown verbs) are
// printed as a plain "ERROR: <message>" line.
func formatError(err error) string {
	var ne *nexerr.Error
	if errors.As(err, &ne) {
		line := fmt.Sprintf("ERROR %s: %s", ne.Kind, ne.Message)
		if ctx := ne.ContextString(); ctx != "" {
			line += fmt.Sprintf(" (context: %s)", ctx)
		}
		return line
	}
	return "ERROR: " + err.Error()
}

// reportAndExit prints err in the requested format and terminates the
// process with the exit code its kind maps to. It never returns.
func reportAndExit(err error, jsonOutput bool) {
	if jsonOutput {
		writeJSONError(os.Stderr, err)
	} else {
		fmt.Fprintln(os.Stderr, formatError(err))
	}
	os.Exit(exitCode(err))
}

// jsonError is the wire shape of writeJSONError's output, for callers
// that parse nexcage's stderr programmatically.
type jsonError struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Context map[string]string `json:"context,omitempty"`
}

func writeJSONError(w *os.File, err error) {
	je := jsonError{Error: string(nexerr.Internal), Message: err.Error()}
	var ne *nexerr.Error
	if errors.As(err, &ne) {
		je.Error = string(ne.Kind)
		je.Message = ne.Message
		je.Context = ne.Context
	}
	data, marshalErr := json.Marshal(je)
	if marshalErr != nil {
		fmt.Fprintf(w, "{\"error\":\"INTERNAL\",\"message\":%q}\n", err.Error())
		return
	}
	w.Write(append(data, '\n'))
}
