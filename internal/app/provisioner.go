// Package app wires probing, planning, execution and reporting into the
// install, uninstall, plan and status operations.
package app

import (
	"context"
	"fmt"
	"io"

	"github.com/trunkplayer/trunkprov/internal/domain/capability"
	"github.com/trunkplayer/trunkprov/internal/domain/config"
	"github.com/trunkplayer/trunkprov/internal/domain/execution"
	"github.com/trunkplayer/trunkprov/internal/domain/install"
	"github.com/trunkplayer/trunkprov/internal/domain/report"
	"github.com/trunkplayer/trunkprov/internal/domain/settings"
	"github.com/trunkplayer/trunkprov/internal/domain/state"
	"github.com/trunkplayer/trunkprov/internal/domain/teardown"
	"github.com/trunkplayer/trunkprov/internal/ports"
	"github.com/trunkplayer/trunkprov/internal/provider"
)

// Provisioner is the application orchestrator.
type Provisioner struct {
	deps      provider.Deps
	store     state.Store
	confirmer ports.Confirmer
	logger    ports.Logger
	observer  execution.Observer
	out       io.Writer
	styles    report.Styles
	runID     func() string
}

// New creates a Provisioner that records resources in store and writes
// reports to out.
func New(deps provider.Deps, store state.Store, confirmer ports.Confirmer, out io.Writer) *Provisioner {
	return &Provisioner{
		deps:      deps,
		store:     store,
		confirmer: confirmer,
		out:       out,
		styles:    report.DefaultStyles(),
	}
}

// WithLogger sets the logger.
func (p *Provisioner) WithLogger(logger ports.Logger) *Provisioner {
	p.logger = logger
	return p
}

// WithObserver sets the live progress observer.
func (p *Provisioner) WithObserver(obs execution.Observer) *Provisioner {
	p.observer = obs
	return p
}

// WithRunID fixes the run id generator, for tests.
func (p *Provisioner) WithRunID(fn func() string) *Provisioner {
	p.runID = fn
	return p
}

// CheckProject verifies that cfg.ProjectDir is a Trunk Player checkout.
func (p *Provisioner) CheckProject(cfg *config.Config) error {
	if !provider.Exists(p.deps.FS, cfg.ProjectDir) {
		return config.NewProjectError(cfg.ProjectDir, "directory does not exist")
	}
	if !provider.Exists(p.deps.FS, cfg.ManagePy()) {
		return config.NewProjectError(cfg.ProjectDir, "manage.py not found")
	}
	if !provider.Exists(p.deps.FS, cfg.RequirementsPath()) {
		return config.NewProjectError(cfg.ProjectDir, cfg.Venv.Requirements+" not found")
	}
	file := settings.NewFile(p.deps.FS, cfg.ProjectDir)
	if !file.Exists() && !file.HasTemplate() {
		return config.NewProjectError(cfg.ProjectDir, settings.TemplatePath+" not found")
	}
	return nil
}

// Probe detects the host's capabilities.
func (p *Provisioner) Probe(ctx context.Context, cfg *config.Config) capability.Set {
	prober := capability.NewProber(p.deps.Runner, p.deps.Lookup, p.deps.Dialer, p.deps.FS, p.deps.Platform, capability.Config{
		PythonBinary:  cfg.Python.Binary,
		VenvDir:       cfg.VenvPath(),
		ImportModules: cfg.Python.ImportModules,
		DBName:        cfg.Database.Name,
		DBUser:        cfg.Database.User,
		PostgresHost:  cfg.Database.Host,
		PostgresPort:  cfg.Database.Port,
	})
	return prober.Probe(p.context(ctx))
}

// Plan probes the host and builds the install plan without executing it.
func (p *Provisioner) Plan(ctx context.Context, cfg *config.Config) (*execution.Plan, install.Decisions, error) {
	if err := p.CheckProject(cfg); err != nil {
		return nil, install.Decisions{}, err
	}
	ctx = p.context(ctx)
	caps := p.Probe(ctx, cfg)
	b := install.NewBuilder(p.deps, p.confirmer)
	if p.runID != nil {
		b = b.WithRunID(p.runID)
	}
	return b.Build(ctx, cfg, caps)
}

// Install provisions the project. The summary is valid whenever the plan
// was built, even if the run failed.
func (p *Provisioner) Install(ctx context.Context, cfg *config.Config) (report.Summary, error) {
	plan, dec, err := p.Plan(ctx, cfg)
	if err != nil {
		return report.Summary{}, err
	}
	res, runErr := p.executor(cfg.DryRun).Execute(p.context(ctx), plan)
	summary := report.Build(plan, res).WithNotes(dec.Notes...)
	if runErr != nil {
		return summary, fmt.Errorf("install halted: %w", runErr)
	}
	return summary, nil
}

// Uninstall removes confirmed ledger entries in reverse dependency order.
func (p *Provisioner) Uninstall(ctx context.Context, cfg *config.Config) (report.Summary, error) {
	ctx = p.context(ctx)
	entries, err := p.store.List(ctx)
	if err != nil {
		return report.Summary{}, fmt.Errorf("read ledger: %w", err)
	}

	opts := teardown.Options{
		All:                  cfg.Uninstall.All,
		RemoveSystemPackages: cfg.Uninstall.RemoveSystemPackages,
		NonInteractive:       cfg.NonInteractive,
	}
	for _, k := range cfg.Uninstall.Confirm {
		kind, err := state.ParseKind(k)
		if err != nil {
			return report.Summary{}, config.NewInvocationError(err.Error(), "")
		}
		opts.Confirm = append(opts.Confirm, kind)
	}
	conf, err := teardown.Confirm(ctx, p.confirmer, opts, entries)
	if err != nil {
		return report.Summary{}, err
	}

	planner := teardown.NewPlanner(p.deps)
	if p.runID != nil {
		planner = planner.WithRunID(p.runID)
	}
	td, err := planner.Build(entries, conf)
	if err != nil {
		return report.Summary{}, err
	}

	res, runErr := p.executor(cfg.DryRun).Execute(ctx, td.Plan)
	summary := report.Build(td.Plan, res)
	for _, k := range td.Kept {
		summary = summary.WithKept(report.Kept{Kind: string(k.Entry.Kind), Key: k.Entry.Key, Reason: k.Reason})
	}
	if len(entries) == 0 {
		summary = summary.WithNotes("the ledger is empty: nothing was provisioned by trunkprov here")
	}
	if runErr != nil {
		return summary, fmt.Errorf("uninstall halted: %w", runErr)
	}
	return summary, nil
}

// Report writes a summary in the requested format.
func (p *Provisioner) Report(s report.Summary, format string) error {
	if format == config.FormatJSON {
		return report.JSON(p.out, s)
	}
	return report.Text(p.out, s, p.styles)
}

// PrintPlan writes the plan without running it.
func (p *Provisioner) PrintPlan(plan *execution.Plan, dec install.Decisions) {
	fmt.Fprintf(p.out, "%s\n\n", p.styles.Title.Render("Install plan "+plan.RunID()))
	fmt.Fprintf(p.out, "database engine: %s\n", dec.Engine)
	if dec.ExistingPolicy != "" {
		fmt.Fprintf(p.out, "existing database: %s\n", dec.ExistingPolicy)
	}
	fmt.Fprintln(p.out)
	for i, e := range plan.Entries() {
		marker := ""
		switch {
		case e.FallbackFor() != "":
			marker = p.styles.Muted.Render(" (fallback for " + e.FallbackFor() + ")")
		case e.Group() != "":
			marker = p.styles.Muted.Render(" [" + e.Group() + "]")
		}
		fmt.Fprintf(p.out, "%3d. %-28s %s%s\n", i+1, e.Step().ID(), e.Step().Description(), marker)
	}
	for _, n := range dec.Notes {
		fmt.Fprintf(p.out, "\nnote: %s", n)
	}
	fmt.Fprintln(p.out)
}

func (p *Provisioner) executor(dryRun bool) *execution.Executor {
	ex := execution.NewExecutor(p.store).WithDryRun(dryRun)
	if p.logger != nil {
		ex = ex.WithLogger(p.logger)
	}
	if p.observer != nil {
		ex = ex.WithObserver(p.observer)
	}
	return ex
}

func (p *Provisioner) context(ctx context.Context) context.Context {
	if p.logger == nil || ports.LoggerFromContext(ctx) != nil {
		return ctx
	}
	return ports.ContextWithLogger(ctx, p.logger)
}
