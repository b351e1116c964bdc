// Package ports defines interfaces for external dependencies.
package ports

import (
	"context"
	"fmt"
	"strings"
)

// CommandResult represents the result of executing an external command.
type CommandResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Success returns true if the command exited with code 0.
func (r CommandResult) Success() bool {
	return r.ExitCode == 0
}

// Combined returns stdout and stderr joined, trimmed of surrounding whitespace.
func (r CommandResult) Combined() string {
	parts := make([]string, 0, 2)
	if s := strings.TrimSpace(r.Stdout); s != "" {
		parts = append(parts, s)
	}
	if s := strings.TrimSpace(r.Stderr); s != "" {
		parts = append(parts, s)
	}
	return strings.Join(parts, "\n")
}

// CommandCall records a command invocation.
// Stdin is only kept by test doubles; real runners never retain it.
type CommandCall struct {
	Command string
	Args    []string
	Stdin   string
}

// CommandRunner executes external commands.
//
// A non-zero exit is reported through CommandResult.ExitCode, not as an error.
// An error means the command could not be run at all (missing binary, killed
// by context).
type CommandRunner interface {
	Run(ctx context.Context, command string, args ...string) (CommandResult, error)

	// RunWithInput runs a command with stdin attached. Use it for anything
	// carrying secrets so they never show up in argument lists or logs.
	RunWithInput(ctx context.Context, stdin, command string, args ...string) (CommandResult, error)
}

// ExitError reports a command that ran but exited non-zero.
type ExitError struct {
	Command  string
	ExitCode int
	Output   string
}

func (e *ExitError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("%s exited with code %d", e.Command, e.ExitCode)
	}
	return fmt.Sprintf("%s exited with code %d: %s", e.Command, e.ExitCode, lastLine(e.Output))
}

// Check turns a non-zero exit into an *ExitError.
func Check(command string, res CommandResult, err error) (CommandResult, error) {
	if err != nil {
		return res, err
	}
	if !res.Success() {
		return res, &ExitError{Command: command, ExitCode: res.ExitCode, Output: res.Combined()}
	}
	return res, nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
