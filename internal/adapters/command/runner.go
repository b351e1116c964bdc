// Package command provides command execution adapters.
package command

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"

	"github.com/trunkplayer/trunkprov/internal/adapters/logging"
	"github.com/trunkplayer/trunkprov/internal/ports"
)

// waitDelay bounds how long Wait keeps pipes open after the process was
// killed by its context, so a child holding stdout cannot stall a step.
const waitDelay = 5 * time.Second

// RealRunner executes actual commands.
type RealRunner struct {
	logger ports.Logger
}

// NewRealRunner creates a new RealRunner.
func NewRealRunner() *RealRunner {
	return &RealRunner{logger: logging.NewNopLogger()}
}

// WithLogger returns a RealRunner that logs command lines at debug level.
func (r *RealRunner) WithLogger(logger ports.Logger) *RealRunner {
	return &RealRunner{logger: logger}
}

// Run executes a command and returns the result.
func (r *RealRunner) Run(ctx context.Context, command string, args ...string) (ports.CommandResult, error) {
	return r.run(ctx, nil, command, args)
}

// RunWithInput executes a command with stdin attached. Stdin is never logged.
func (r *RealRunner) RunWithInput(ctx context.Context, stdin, command string, args ...string) (ports.CommandResult, error) {
	return r.run(ctx, strings.NewReader(stdin), command, args)
}

func (r *RealRunner) run(ctx context.Context, stdin *strings.Reader, command string, args []string) (ports.CommandResult, error) {
	cmd := exec.CommandContext(ctx, command, args...)
	cmd.WaitDelay = waitDelay
	if stdin != nil {
		cmd.Stdin = stdin
	}

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()

	result := ports.CommandResult{
		ExitCode: 0,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}

	r.logger.Debug(ctx, "command finished",
		ports.F("cmd", command),
		ports.F("args", strings.Join(args, " ")),
		ports.F("stdin", stdin != nil),
		ports.F("duration", time.Since(start).String()),
	)

	// A context deadline wins over the exit status of the killed process.
	if ctxErr := ctx.Err(); ctxErr != nil && err != nil {
		result.ExitCode = -1
		return result, ctxErr
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, err
	}

	return result, nil
}

// ExecLookup resolves binaries with exec.LookPath.
type ExecLookup struct{}

// LookPath implements ports.PathLookup.
func (ExecLookup) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

var (
	_ ports.CommandRunner = (*RealRunner)(nil)
	_ ports.PathLookup    = ExecLookup{}
)
