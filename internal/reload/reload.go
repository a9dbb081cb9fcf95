// SPDX-License-Identifier: MPL-2.0

// Package reload implements the hooks the updater uses to ask a host to pick
// up a freshly installed component.
package reload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"github.com/invowk/upkeep/pkg/types"
)

// ErrEmptyCommand is returned when a Shell hook has no command.
var ErrEmptyCommand = errors.New("reload command is empty")

type (
	// Shell runs a POSIX shell command with the embedded interpreter, so the
	// hook behaves the same on every platform without a system shell.
	Shell struct {
		// Command is the script to run, e.g. "systemctl --user restart tool".
		Command string
		// Dir is the working directory; empty means the current directory.
		Dir string
		// Env is appended to the inherited environment as KEY=VALUE pairs.
		Env []string
		// Stdout and Stderr receive the command's output; nil discards it.
		Stdout io.Writer
		Stderr io.Writer
	}

	// Func adapts a plain function to the updater's Reloader interface.
	Func func(ctx context.Context) error

	// ExitError reports a reload command that exited non-zero.
	ExitError struct {
		Command string
		Code    types.ExitCode
	}
)

// Reload calls f.
func (f Func) Reload(ctx context.Context) error {
	return f(ctx)
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("reload command %q exited with status %d", e.Command, e.Code)
}

// Reload parses and runs the command.
func (s *Shell) Reload(ctx context.Context) error {
	if strings.TrimSpace(s.Command) == "" {
		return ErrEmptyCommand
	}

	prog, err := syntax.NewParser().Parse(strings.NewReader(s.Command), "reload")
	if err != nil {
		return fmt.Errorf("failed to parse reload command: %w", err)
	}

	stdout, stderr := s.Stdout, s.Stderr
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}

	opts := []interp.RunnerOption{
		interp.Env(expand.ListEnviron(append(os.Environ(), s.Env...)...)),
		interp.StdIO(nil, stdout, stderr),
	}
	if s.Dir != "" {
		opts = append(opts, interp.Dir(s.Dir))
	}

	runner, err := interp.New(opts...)
	if err != nil {
		return fmt.Errorf("failed to create interpreter: %w", err)
	}

	if err := runner.Run(ctx, prog); err != nil {
		var status interp.ExitStatus
		if errors.As(err, &status) {
			return &ExitError{Command: s.Command, Code: types.ExitCode(status)}
		}
		return fmt.Errorf("reload command failed: %w", err)
	}
	return nil
}
