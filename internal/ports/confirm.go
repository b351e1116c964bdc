package ports

import "context"

// Choice is one selectable answer for Confirmer.Choose.
type Choice struct {
	Value string
	Label string
}

// Confirmer asks the operator to approve or pick between alternatives.
// Planners depend on this abstraction, never on a terminal.
type Confirmer interface {
	// Confirm asks a yes/no question. Non-interactive implementations return
	// defaultYes without prompting.
	Confirm(ctx context.Context, prompt string, defaultYes bool) (bool, error)

	// Choose asks the operator to pick one of choices and returns its Value.
	// Non-interactive implementations return defaultValue.
	Choose(ctx context.Context, prompt string, choices []Choice, defaultValue string) (string, error)

	// Interactive reports whether a human is answering.
	Interactive() bool
}
