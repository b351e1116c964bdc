package app

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/go-git/go-billy/v5/util"

	"github.com/trunkplayer/trunkprov/internal/domain/config"
	"github.com/trunkplayer/trunkprov/internal/domain/settings"
	"github.com/trunkplayer/trunkprov/internal/domain/state"
)

// StatusEntry is an active ledger entry.
type StatusEntry struct {
	Kind      string            `json:"kind"`
	Key       string            `json:"key"`
	RunID     string            `json:"run_id,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	Params    map[string]string `json:"params,omitempty"`
}

// StatusEvent is one line of ledger history.
type StatusEvent struct {
	Op  string    `json:"op"`
	Ref string    `json:"ref"`
	At  time.Time `json:"at"`
	Run string    `json:"run_id,omitempty"`
}

// SecretCheck reports whether a recorded secret is still in place.
type SecretCheck struct {
	Ref      string `json:"ref"`
	Location string `json:"location"`
	Matches  bool   `json:"matches"`
	Detail   string `json:"detail,omitempty"`
}

// Status is the ledger view of a project.
type Status struct {
	Entries []StatusEntry `json:"entries"`
	History []StatusEvent `json:"history"`
	Secrets []SecretCheck `json:"secrets,omitempty"`
}

// Status reads the ledger and verifies recorded secret fingerprints.
func (p *Provisioner) Status(ctx context.Context, _ *config.Config) (Status, error) {
	ctx = p.context(ctx)
	entries, err := p.store.List(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("read ledger: %w", err)
	}
	history, err := p.store.History(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("read ledger history: %w", err)
	}

	st := Status{Entries: make([]StatusEntry, 0, len(entries)), History: make([]StatusEvent, 0, len(history))}
	for _, e := range entries {
		st.Entries = append(st.Entries, StatusEntry{
			Kind: string(e.Kind), Key: e.Key, RunID: e.RunID, CreatedAt: e.CreatedAt, Params: e.Params,
		})
		if fp := e.Param(state.ParamSecretFingerprint); fp != "" {
			st.Secrets = append(st.Secrets, p.checkSecret(e, fp))
		}
	}
	for _, ev := range history {
		st.History = append(st.History, StatusEvent{
			Op: string(ev.Op), Ref: ev.Entry.Ref().String(), At: ev.At, Run: ev.Entry.RunID,
		})
	}
	sort.SliceStable(st.History, func(i, j int) bool { return st.History[i].At.Before(st.History[j].At) })
	return st, nil
}

func (p *Provisioner) checkSecret(e state.Entry, fingerprint string) SecretCheck {
	loc := e.Param(state.ParamSecretLocation)
	sc := SecretCheck{Ref: e.Ref().String(), Location: loc}
	data, err := util.ReadFile(p.deps.FS, loc)
	if err != nil {
		sc.Detail = "settings file unreadable: " + err.Error()
		return sc
	}
	pw, ok := settings.DatabasePassword(string(data))
	if !ok {
		sc.Detail = "no PASSWORD in the DATABASES block"
		return sc
	}
	sc.Matches = settings.Fingerprint(pw) == fingerprint
	if !sc.Matches {
		sc.Detail = "the settings file holds a different password than the one trunkprov set"
	}
	return sc
}

// PrintStatus writes st in the requested format.
func (p *Provisioner) PrintStatus(st Status, format string) error {
	if format == config.FormatJSON {
		enc := json.NewEncoder(p.out)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}

	fmt.Fprintln(p.out, p.styles.Title.Render("Provisioned resources"))
	if len(st.Entries) == 0 {
		fmt.Fprintln(p.out, "  none")
	}
	for _, e := range st.Entries {
		fmt.Fprintf(p.out, "  %-15s %-40s %s\n", e.Kind, e.Key, e.CreatedAt.Format(time.RFC3339))
	}
	if len(st.Secrets) > 0 {
		fmt.Fprintln(p.out, "\n"+p.styles.Heading.Render("Secrets"))
		for _, s := range st.Secrets {
			mark := p.styles.Success.Render("✓")
			if !s.Matches {
				mark = p.styles.Warning.Render("!")
			}
			line := fmt.Sprintf("  %s %s in %s", mark, s.Ref, s.Location)
			if s.Detail != "" {
				line += ": " + s.Detail
			}
			fmt.Fprintln(p.out, line)
		}
	}
	fmt.Fprintln(p.out, "\n"+p.styles.Heading.Render("History"))
	for _, ev := range st.History {
		fmt.Fprintf(p.out, "  %s %-6s %s\n", ev.At.Format(time.RFC3339), ev.Op, ev.Ref)
	}
	return nil
}
