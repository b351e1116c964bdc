package mocks

import (
	"context"
	"sync"

	"github.com/trunkplayer/trunkprov/internal/ports"
)

// Confirmer is a scripted ports.Confirmer. Answers are looked up by prompt;
// unknown prompts fall back to the caller's default.
type Confirmer struct {
	mu          sync.Mutex
	interactive bool
	confirms    map[string]bool
	choices     map[string]string
	asked       []string
}

// NewConfirmer creates a scripted confirmer.
func NewConfirmer(interactive bool) *Confirmer {
	return &Confirmer{
		interactive: interactive,
		confirms:    make(map[string]bool),
		choices:     make(map[string]string),
	}
}

// AnswerConfirm scripts the answer to a yes/no prompt.
func (c *Confirmer) AnswerConfirm(prompt string, yes bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.confirms[prompt] = yes
}

// AnswerChoose scripts the answer to a choice prompt.
func (c *Confirmer) AnswerChoose(prompt, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.choices[prompt] = value
}

// Confirm returns the scripted answer or defaultYes.
func (c *Confirmer) Confirm(_ context.Context, prompt string, defaultYes bool) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.asked = append(c.asked, prompt)
	if yes, ok := c.confirms[prompt]; ok {
		return yes, nil
	}
	return defaultYes, nil
}

// Choose returns the scripted answer or defaultValue.
func (c *Confirmer) Choose(_ context.Context, prompt string, _ []ports.Choice, defaultValue string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.asked = append(c.asked, prompt)
	if v, ok := c.choices[prompt]; ok {
		return v, nil
	}
	return defaultValue, nil
}

// Interactive reports the configured mode.
func (c *Confirmer) Interactive() bool {
	return c.interactive
}

// Asked returns every prompt seen so far.
func (c *Confirmer) Asked() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.asked...)
}

var _ ports.Confirmer = (*Confirmer)(nil)
