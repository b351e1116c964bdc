package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/trunkplayer/trunkprov/internal/domain/execution"
)

// Theme colors.
var (
	colorPrimary = lipgloss.AdaptiveColor{Light: "#1e66f5", Dark: "#89b4fa"}
	colorSuccess = lipgloss.AdaptiveColor{Light: "#40a02b", Dark: "#a6e3a1"}
	colorWarning = lipgloss.AdaptiveColor{Light: "#df8e1d", Dark: "#f9e2af"}
	colorError   = lipgloss.AdaptiveColor{Light: "#d20f39", Dark: "#f38ba8"}
	colorMuted   = lipgloss.AdaptiveColor{Light: "#6c6f85", Dark: "#6c7086"}
)

// Styles holds the lipgloss styles used in text output.
type Styles struct {
	Title   lipgloss.Style
	Heading lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Muted   lipgloss.Style
}

// DefaultStyles returns the default styles.
func DefaultStyles() Styles {
	return Styles{
		Title:   lipgloss.NewStyle().Bold(true).Foreground(colorPrimary),
		Heading: lipgloss.NewStyle().Bold(true),
		Success: lipgloss.NewStyle().Foreground(colorSuccess),
		Warning: lipgloss.NewStyle().Foreground(colorWarning),
		Error:   lipgloss.NewStyle().Foreground(colorError),
		Muted:   lipgloss.NewStyle().Foreground(colorMuted),
	}
}

var title = cases.Title(language.English)

// JSON writes the summary as indented JSON.
func JSON(w io.Writer, s Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

// Text writes the styled summary.
func Text(w io.Writer, s Summary, st Styles) error {
	var b strings.Builder

	head := title.String(s.Kind) + " run " + s.RunID
	if s.DryRun {
		head += " (dry run)"
	}
	b.WriteString(st.Title.Render(head) + "\n\n")

	b.WriteString(st.Heading.Render("Goals") + "\n")
	for _, g := range s.Goals {
		fmt.Fprintf(&b, "  %s %-20s %s\n", goalIcon(g.Status, st), title.String(string(g.Goal)), g.Status)
	}

	if len(s.Fatal) > 0 {
		b.WriteString("\n" + st.Error.Render("Fatal failures") + "\n")
		writeIssues(&b, s.Fatal, st.Error)
	}
	if len(s.Warnings) > 0 {
		b.WriteString("\n" + st.Warning.Render("Warnings") + "\n")
		writeIssues(&b, s.Warnings, st.Warning)
	}
	writeList(&b, "Anomalies", s.Anomalies, st)
	if len(s.Kept) > 0 {
		b.WriteString("\n" + st.Heading.Render("Kept") + "\n")
		for _, k := range s.Kept {
			fmt.Fprintf(&b, "  %s %s (%s)\n", k.Kind, k.Key, k.Reason)
		}
	}
	writeList(&b, "Not attempted", s.NotAttempted, st)
	writeList(&b, "Notes", s.Notes, st)

	b.WriteString("\n" + st.Heading.Render("Steps") + "\n")
	for _, l := range s.Steps {
		line := fmt.Sprintf("  %s %-36s %s", outcomeIcon(l.Outcome, st), l.StepID, l.Outcome)
		if l.Reason != "" {
			line += st.Muted.Render(": " + l.Reason)
		}
		b.WriteString(line + "\n")
	}
	fmt.Fprintf(&b, "\n%s\n", st.Muted.Render("finished in "+s.Duration.Round(time.Millisecond).String()))

	_, err := io.WriteString(w, b.String())
	return err
}

func writeIssues(b *strings.Builder, issues []Issue, style lipgloss.Style) {
	for _, is := range issues {
		fmt.Fprintf(b, "  %s %s: %s\n", style.Render("✗"), is.StepID, is.Message)
		if is.Suggestion != "" {
			fmt.Fprintf(b, "    hint: %s\n", is.Suggestion)
		}
	}
}

func writeList(b *strings.Builder, heading string, items []string, st Styles) {
	if len(items) == 0 {
		return
	}
	b.WriteString("\n" + st.Heading.Render(heading) + "\n")
	for _, it := range items {
		b.WriteString("  - " + it + "\n")
	}
}

func goalIcon(s GoalStatus, st Styles) string {
	switch s {
	case GoalAchieved:
		return st.Success.Render("✓")
	case GoalNotAchieved:
		return st.Error.Render("✗")
	}
	return st.Muted.Render("·")
}

func outcomeIcon(o execution.Outcome, st Styles) string {
	switch o {
	case execution.OutcomeSucceeded:
		return st.Success.Render("✓")
	case execution.OutcomeFailed:
		return st.Error.Render("✗")
	case execution.OutcomePlanned:
		return st.Warning.Render("○")
	}
	return st.Muted.Render("-")
}

// Progress prints one line per step as the executor runs.
type Progress struct {
	mu     sync.Mutex
	w      io.Writer
	styles Styles
}

// NewProgress creates a Progress writing to w.
func NewProgress(w io.Writer, styles Styles) *Progress {
	return &Progress{w: w, styles: styles}
}

// StepStarted implements execution.Observer.
func (p *Progress) StepStarted(entry execution.PlanEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "%s %s\n", p.styles.Muted.Render("→"), entry.Step().Description())
}

// StepFinished implements execution.Observer.
func (p *Progress) StepFinished(rec execution.Record) {
	p.mu.Lock()
	defer p.mu.Unlock()
	line := fmt.Sprintf("%s %s %s", outcomeIcon(rec.Outcome, p.styles), rec.StepID, rec.Outcome)
	if rec.Reason != "" {
		line += ": " + rec.Reason
	}
	fmt.Fprintln(p.w, line)
}

var _ execution.Observer = (*Progress)(nil)
