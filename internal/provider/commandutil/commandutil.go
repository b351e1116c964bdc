// Package commandutil runs external commands on behalf of steps.
package commandutil

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/trunkplayer/trunkprov/internal/ports"
)

// IsCommandNotFound reports whether an error indicates a missing executable.
func IsCommandNotFound(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, exec.ErrNotFound) {
		return true
	}
	var execErr *exec.Error
	if errors.As(err, &execErr) && errors.Is(execErr.Err, exec.ErrNotFound) {
		return true
	}
	var pathErr *os.PathError
	if errors.As(err, &pathErr) && errors.Is(pathErr.Err, os.ErrNotExist) {
		return true
	}
	return false
}

// Run executes a command and turns a non-zero exit into an error. The
// combined output is returned either way.
func Run(ctx context.Context, runner ports.CommandRunner, cmd string, args ...string) (string, error) {
	logCommand(ctx, cmd, args)
	res, err := runner.Run(ctx, cmd, args...)
	return finish(cmd, res, err)
}

// RunInput is Run with stdin attached. Stdin is never logged.
func RunInput(ctx context.Context, runner ports.CommandRunner, stdin, cmd string, args ...string) (string, error) {
	logCommand(ctx, cmd, args)
	res, err := runner.RunWithInput(ctx, stdin, cmd, args...)
	return finish(cmd, res, err)
}

// Succeeds runs a command and reports whether it exited zero. Failures to
// start the command count as false.
func Succeeds(ctx context.Context, runner ports.CommandRunner, cmd string, args ...string) bool {
	res, err := runner.Run(ctx, cmd, args...)
	return err == nil && res.Success()
}

func finish(cmd string, res ports.CommandResult, err error) (string, error) {
	if err != nil && IsCommandNotFound(err) {
		return "", fmt.Errorf("%s not found: %w", cmd, err)
	}
	res, err = ports.Check(cmd, res, err)
	return res.Combined(), err
}

func logCommand(ctx context.Context, cmd string, args []string) {
	if l := ports.LoggerFromContext(ctx); l != nil {
		l.Debug(ctx, "exec", ports.F("cmd", cmd), ports.F("args", args))
	}
}
