package compiler

import (
	"context"

	"github.com/trunkplayer/trunkprov/internal/ports"
)

// RunContext provides context for step execution (Check, Apply, Rollback).
type RunContext struct {
	ctx    context.Context
	dryRun bool
	runID  string
}

// NewRunContext creates a new RunContext with the given context.
func NewRunContext(ctx context.Context) RunContext {
	return RunContext{
		ctx:    ctx,
		dryRun: false,
	}
}

// Context returns the underlying context.Context.
func (r RunContext) Context() context.Context {
	return r.ctx
}

// DryRun returns whether this is a dry-run execution.
func (r RunContext) DryRun() bool {
	return r.dryRun
}

// RunID identifies the run; it is stamped on ledger entries.
func (r RunContext) RunID() string {
	return r.runID
}

// Logger returns the logger carried by the context, or a discarding one.
func (r RunContext) Logger() ports.Logger {
	if r.ctx != nil {
		if l := ports.LoggerFromContext(r.ctx); l != nil {
			return l
		}
	}
	return discard{}
}

// WithDryRun returns a new RunContext with the dry-run flag set.
func (r RunContext) WithDryRun(dryRun bool) RunContext {
	r.dryRun = dryRun
	return r
}

// WithRunID returns a new RunContext with the run ID set.
func (r RunContext) WithRunID(runID string) RunContext {
	r.runID = runID
	return r
}

// WithContext returns a new RunContext over a derived context.
func (r RunContext) WithContext(ctx context.Context) RunContext {
	r.ctx = ctx
	return r
}

type discard struct{}

func (discard) Debug(context.Context, string, ...ports.Field) {}
func (discard) Info(context.Context, string, ...ports.Field)  {}
func (discard) Warn(context.Context, string, ...ports.Field)  {}
func (discard) Error(context.Context, string, ...ports.Field) {}
func (d discard) With(...ports.Field) ports.Logger            { return d }
func (discard) Level() ports.Level                            { return ports.LevelError }
func (discard) SetLevel(ports.Level)                          {}
