// Package mocks provides test doubles for testing.
package mocks

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/trunkplayer/trunkprov/internal/ports"
)

// CommandRunner is a thread-safe test double for ports.CommandRunner.
type CommandRunner struct {
	mu        sync.RWMutex
	results   map[string]ports.CommandResult
	sequences map[string][]ports.CommandResult
	errors    map[string]error
	hooks     map[string]func()
	delays    map[string]time.Duration
	calls     []ports.CommandCall
	fallback  *ports.CommandResult
}

// NewCommandRunner creates a new CommandRunner mock.
func NewCommandRunner() *CommandRunner {
	return &CommandRunner{
		results:   make(map[string]ports.CommandResult),
		sequences: make(map[string][]ports.CommandResult),
		errors:    make(map[string]error),
		hooks:     make(map[string]func()),
		delays:    make(map[string]time.Duration),
		calls:     make([]ports.CommandCall, 0),
	}
}

// AddResult registers an expected command and its result.
func (m *CommandRunner) AddResult(command string, args []string, result ports.CommandResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[buildKey(command, args)] = result
}

// AddSequence registers results returned one per call, in order. The last
// result keeps being returned once the sequence is exhausted.
func (m *CommandRunner) AddSequence(command string, args []string, results ...ports.CommandResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sequences[buildKey(command, args)] = append([]ports.CommandResult(nil), results...)
}

// AddError registers an expected command that should return an error.
func (m *CommandRunner) AddError(command string, args []string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[buildKey(command, args)] = err
}

// OnRun registers a side effect executed whenever the command runs.
func (m *CommandRunner) OnRun(command string, args []string, fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks[buildKey(command, args)] = fn
}

// AddDelay makes the command block for d or until its context is done,
// whichever comes first.
func (m *CommandRunner) AddDelay(command string, args []string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delays[buildKey(command, args)] = d
}

// SetDefault makes unregistered commands return result instead of an error.
func (m *CommandRunner) SetDefault(result ports.CommandResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = &result
}

// Run executes a mock command.
func (m *CommandRunner) Run(ctx context.Context, command string, args ...string) (ports.CommandResult, error) {
	return m.run(ctx, "", command, args)
}

// RunWithInput executes a mock command and records its stdin.
func (m *CommandRunner) RunWithInput(ctx context.Context, stdin, command string, args ...string) (ports.CommandResult, error) {
	return m.run(ctx, stdin, command, args)
}

func (m *CommandRunner) run(ctx context.Context, stdin, command string, args []string) (ports.CommandResult, error) {
	key := buildKey(command, args)

	m.mu.Lock()
	m.calls = append(m.calls, ports.CommandCall{
		Command: command,
		Args:    append([]string(nil), args...),
		Stdin:   stdin,
	})
	hook := m.hooks[key]
	delay := m.delays[key]
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ports.CommandResult{ExitCode: -1}, ctx.Err()
		}
	}

	if hook != nil {
		hook()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err, ok := m.errors[key]; ok {
		return ports.CommandResult{}, err
	}

	if seq, ok := m.sequences[key]; ok && len(seq) > 0 {
		result := seq[0]
		if len(seq) > 1 {
			m.sequences[key] = seq[1:]
		}
		return result, nil
	}

	if result, ok := m.results[key]; ok {
		return result, nil
	}

	if m.fallback != nil {
		return *m.fallback, nil
	}

	return ports.CommandResult{}, fmt.Errorf("no mock result for command: %s %v", command, args)
}

// Calls returns all recorded command invocations.
func (m *CommandRunner) Calls() []ports.CommandCall {
	m.mu.RLock()
	defer m.mu.RUnlock()

	calls := make([]ports.CommandCall, len(m.calls))
	copy(calls, m.calls)
	return calls
}

// CallCount returns how many times the exact command line ran.
func (m *CommandRunner) CallCount(command string, args ...string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key := buildKey(command, args)
	n := 0
	for _, c := range m.calls {
		if buildKey(c.Command, c.Args) == key {
			n++
		}
	}
	return n
}

// Ran reports whether any recorded call used command with the given leading args.
func (m *CommandRunner) Ran(command string, argPrefix ...string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, c := range m.calls {
		if c.Command != command || len(c.Args) < len(argPrefix) {
			continue
		}
		match := true
		for i, a := range argPrefix {
			if c.Args[i] != a {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// Reset clears all registered results, errors, and recorded calls.
func (m *CommandRunner) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = make(map[string]ports.CommandResult)
	m.sequences = make(map[string][]ports.CommandResult)
	m.errors = make(map[string]error)
	m.hooks = make(map[string]func())
	m.delays = make(map[string]time.Duration)
	m.calls = make([]ports.CommandCall, 0)
	m.fallback = nil
}

// ResetCalls forgets recorded calls but keeps registered results.
func (m *CommandRunner) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = make([]ports.CommandCall, 0)
}

func buildKey(command string, args []string) string {
	return command + ":" + strings.Join(args, ":")
}

// Ensure CommandRunner implements ports.CommandRunner.
var _ ports.CommandRunner = (*CommandRunner)(nil)
