// Package logging wires the process-wide logrus logger from the effective
// Config. NexCage is a one-shot process: Configure is called exactly once,
// early in main, and every subsystem pulls its *logrus.Entry from here.
package logging

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var root = logrus.New()

func init() {
	root.SetOutput(os.Stderr)
	root.SetLevel(logrus.InfoLevel)
	root.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

// Configure applies level and an optional log file to the root logger.
// An empty file keeps output on stderr. NEXCAGE_DEBUG overrides level to
// trace regardless of what is requested.
func Configure(level string, file string) error {
	if strings.EqualFold(strings.TrimSpace(os.Getenv("NEXCAGE_DEBUG")), "1") ||
		strings.EqualFold(strings.TrimSpace(os.Getenv("NEXCAGE_DEBUG")), "true") {
		level = "trace"
	}
	lvl, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return fmt.Errorf("parse log level %q: %w", level, err)
	}
	root.SetLevel(lvl)

	file = strings.TrimSpace(file)
	if file == "" {
		root.SetOutput(os.Stderr)
		return nil
	}
	f, err := os.OpenFile(file, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file %s: %w", file, err)
	}
	root.SetOutput(f)
	return nil
}

// For returns a *logrus.Entry tagged with component for the given package.
func For(component string) *logrus.Entry {
	return root.WithField("component", component)
}

// Root exposes the underlying logger for callers that need direct access
// (e.g. the CLI wants a bare, untagged entry for user-facing lines).
func Root() *logrus.Logger { return root }
