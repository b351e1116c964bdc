// Package teardown plans the removal of resources recorded in the ledger.
// Nothing outside the ledger is ever removed, and every kind needs its own
// confirmation.
package teardown

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/trunkplayer/trunkprov/internal/domain/compiler"
	"github.com/trunkplayer/trunkprov/internal/domain/execution"
	"github.com/trunkplayer/trunkprov/internal/domain/state"
	"github.com/trunkplayer/trunkprov/internal/ports"
	"github.com/trunkplayer/trunkprov/internal/provider"
	"github.com/trunkplayer/trunkprov/internal/provider/nginx"
	"github.com/trunkplayer/trunkprov/internal/provider/postgres"
	"github.com/trunkplayer/trunkprov/internal/provider/sqlite"
	"github.com/trunkplayer/trunkprov/internal/provider/supervisor"
	"github.com/trunkplayer/trunkprov/internal/provider/system"
	"github.com/trunkplayer/trunkprov/internal/provider/venv"
)

// Order is the reverse dependency order kinds are torn down in.
func Order() []state.Kind {
	return []state.Kind{
		state.KindSupervisorJob,
		state.KindNginxSite,
		state.KindDatabase,
		state.KindDBUser,
		state.KindLogDir,
		state.KindAudioDir,
		state.KindVenv,
		state.KindSystemPackage,
	}
}

// Confirmations says which kinds may be removed.
type Confirmations struct {
	Kinds map[state.Kind]bool
	// AllowSystem is the second tier required for host-wide kinds.
	AllowSystem bool
}

// Allows reports whether kind is confirmed, tier included.
func (c Confirmations) Allows(kind state.Kind) bool {
	if !c.Kinds[kind] {
		return false
	}
	return kind.Tier() != state.TierSystem || c.AllowSystem
}

// Kept is a ledger entry left in place.
type Kept struct {
	Entry  state.Entry `json:"entry"`
	Reason string      `json:"reason"`
}

// Teardown is a built uninstall plan and what it leaves behind.
type Teardown struct {
	Plan *execution.Plan
	Kept []Kept
}

// Planner builds teardown plans.
type Planner struct {
	deps     provider.Deps
	newRunID func() string
}

// NewPlanner creates a Planner.
func NewPlanner(deps provider.Deps) *Planner {
	return &Planner{deps: deps, newRunID: uuid.NewString}
}

// WithRunID returns a copy that stamps plans with fixed ids.
func (p *Planner) WithRunID(fn func() string) *Planner {
	c := *p
	c.newRunID = fn
	return &c
}

// Build orders the confirmed entries for removal. Unconfirmed entries and
// entries no step knows how to remove are kept.
func (p *Planner) Build(entries []state.Entry, conf Confirmations) (Teardown, error) {
	td := Teardown{Plan: execution.NewPlan(execution.KindUninstall, p.newRunID())}

	byKind := make(map[state.Kind][]state.Entry)
	for _, e := range entries {
		byKind[e.Kind] = append(byKind[e.Kind], e)
	}

	for _, kind := range Order() {
		group := byKind[kind]
		sort.Slice(group, func(i, j int) bool { return group[i].Key < group[j].Key })
		for _, e := range group {
			if !conf.Allows(kind) {
				td.Kept = append(td.Kept, Kept{Entry: e, Reason: keptReason(kind, conf)})
				continue
			}
			step, err := p.stepFor(e)
			if err != nil {
				td.Kept = append(td.Kept, Kept{Entry: e, Reason: err.Error()})
				continue
			}
			td.Plan.AddSteps(step)
		}
	}

	if err := td.Plan.Validate(compiler.NewResourceSet()); err != nil {
		return Teardown{}, err
	}
	return td, nil
}

func keptReason(kind state.Kind, conf Confirmations) string {
	if conf.Kinds[kind] && kind.Tier() == state.TierSystem {
		return "system packages need --remove-system-packages"
	}
	return "not confirmed"
}

func (p *Planner) stepFor(e state.Entry) (compiler.Step, error) {
	switch e.Kind {
	case state.KindSupervisorJob:
		return supervisor.NewRemoveJobStep(p.deps, e), nil
	case state.KindNginxSite:
		return nginx.NewRemoveSiteStep(p.deps, e), nil
	case state.KindDatabase:
		switch e.Param(state.ParamEngine) {
		case sqlite.EngineName:
			return sqlite.NewRemoveStep(p.deps, e), nil
		case postgres.EngineName:
			return postgres.NewTeardownDatabaseStep(p.deps, e), nil
		}
		return nil, fmt.Errorf("unknown database engine %q", e.Param(state.ParamEngine))
	case state.KindDBUser:
		return postgres.NewTeardownRoleStep(p.deps, e), nil
	case state.KindLogDir, state.KindAudioDir:
		return system.NewRemoveDirStep(p.deps, e), nil
	case state.KindVenv:
		return venv.NewRemoveStep(p.deps, e), nil
	case state.KindSystemPackage:
		return system.NewRemovePackageStep(p.deps, e), nil
	}
	return nil, fmt.Errorf("no teardown step for kind %q", e.Kind)
}

// Options are the confirmations given on the command line.
type Options struct {
	Confirm              []state.Kind
	All                  bool
	RemoveSystemPackages bool
	NonInteractive       bool
}

// SystemPrompt is the second question asked before removing system packages.
const SystemPrompt = "System packages may be used by other software on this host. Remove them anyway?"

// KindPrompt is the question asked for an unconfirmed kind.
func KindPrompt(kind state.Kind, n int) string {
	return fmt.Sprintf("Remove %d %s resource(s) recorded by trunkprov?", n, kind)
}

// Confirm resolves confirmations for the kinds present in entries. Kinds
// not confirmed by options are asked about when the confirmer is
// interactive; a non-interactive run keeps them. System packages need the
// option and, interactively, a second yes.
func Confirm(ctx context.Context, confirmer ports.Confirmer, opts Options, entries []state.Entry) (Confirmations, error) {
	conf := Confirmations{Kinds: make(map[state.Kind]bool)}
	given := make(map[state.Kind]bool, len(opts.Confirm))
	for _, k := range opts.Confirm {
		given[k] = true
	}
	counts := make(map[state.Kind]int)
	for _, e := range entries {
		counts[e.Kind]++
	}
	interactive := !opts.NonInteractive && confirmer.Interactive()

	for _, kind := range Order() {
		n := counts[kind]
		if n == 0 {
			continue
		}
		system := kind.Tier() == state.TierSystem
		switch {
		case system && !opts.RemoveSystemPackages:
			continue
		case given[kind] || (opts.All && !system):
			conf.Kinds[kind] = true
		case interactive:
			yes, err := confirmer.Confirm(ctx, KindPrompt(kind, n), false)
			if err != nil {
				return conf, fmt.Errorf("confirm %s removal: %w", kind, err)
			}
			conf.Kinds[kind] = yes
		}
		if system && conf.Kinds[kind] {
			conf.AllowSystem = true
			if interactive {
				yes, err := confirmer.Confirm(ctx, SystemPrompt, false)
				if err != nil {
					return conf, fmt.Errorf("confirm system package removal: %w", err)
				}
				conf.AllowSystem = yes
			}
		}
	}
	return conf, nil
}
