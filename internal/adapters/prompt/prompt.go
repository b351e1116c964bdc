// Package prompt implements ports.Confirmer for terminals and for
// unattended runs.
package prompt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"

	"github.com/trunkplayer/trunkprov/internal/ports"
)

// ErrCancelled is returned when the operator dismisses a choice.
var ErrCancelled = errors.New("prompt cancelled")

// New returns a terminal confirmer when in is a terminal and prompting is
// allowed, otherwise one that answers with defaults.
func New(in *os.File, out io.Writer, nonInteractive bool) ports.Confirmer {
	if nonInteractive || in == nil || !IsTerminal(in.Fd()) {
		return Defaults{}
	}
	return NewTerminal(in, out)
}

// IsTerminal reports whether fd is an interactive terminal.
func IsTerminal(fd uintptr) bool {
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// Terminal asks questions with a bubbletea program.
type Terminal struct {
	in  io.Reader
	out io.Writer
	run func(ctx context.Context, m tea.Model) (tea.Model, error)
}

// NewTerminal creates a Terminal reading keys from in.
func NewTerminal(in io.Reader, out io.Writer) *Terminal {
	t := &Terminal{in: in, out: out}
	t.run = t.program
	return t
}

func (t *Terminal) program(ctx context.Context, m tea.Model) (tea.Model, error) {
	p := tea.NewProgram(m, tea.WithContext(ctx), tea.WithInput(t.in), tea.WithOutput(t.out))
	return p.Run()
}

func (t *Terminal) ask(ctx context.Context, m choiceModel) (choiceModel, error) {
	final, err := t.run(ctx, m)
	if err != nil {
		return m, fmt.Errorf("prompt failed: %w", err)
	}
	out, ok := final.(choiceModel)
	if !ok {
		return m, fmt.Errorf("unexpected model type %T", final)
	}
	return out, nil
}

// Confirm implements ports.Confirmer. Cancelling answers no.
func (t *Terminal) Confirm(ctx context.Context, prompt string, defaultYes bool) (bool, error) {
	m, err := t.ask(ctx, newConfirmModel(prompt, defaultYes))
	if err != nil {
		return false, err
	}
	return m.chosen == answerYes, nil
}

// Choose implements ports.Confirmer.
func (t *Terminal) Choose(ctx context.Context, prompt string, choices []ports.Choice, defaultValue string) (string, error) {
	m, err := t.ask(ctx, newChoiceModel(prompt, choices, defaultValue))
	if err != nil {
		return "", err
	}
	if m.cancelled {
		return "", ErrCancelled
	}
	return m.chosen, nil
}

// Interactive implements ports.Confirmer.
func (t *Terminal) Interactive() bool {
	return true
}

// Defaults answers every question with its default.
type Defaults struct{}

// Confirm implements ports.Confirmer.
func (Defaults) Confirm(_ context.Context, _ string, defaultYes bool) (bool, error) {
	return defaultYes, nil
}

// Choose implements ports.Confirmer.
func (Defaults) Choose(_ context.Context, _ string, _ []ports.Choice, defaultValue string) (string, error) {
	return defaultValue, nil
}

// Interactive implements ports.Confirmer.
func (Defaults) Interactive() bool {
	return false
}

var (
	_ ports.Confirmer = (*Terminal)(nil)
	_ ports.Confirmer = Defaults{}
)
