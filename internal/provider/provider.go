// Package provider holds what every concrete step shares: its metadata and
// the ports it talks to the host through.
package provider

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-git/go-billy/v5"

	"github.com/trunkplayer/trunkprov/internal/domain/compiler"
	"github.com/trunkplayer/trunkprov/internal/domain/platform"
	"github.com/trunkplayer/trunkprov/internal/ports"
)

// Deps are the host ports steps use.
type Deps struct {
	Runner   ports.CommandRunner
	Lookup   ports.PathLookup
	Dialer   ports.Dialer
	FS       billy.Filesystem
	Platform platform.Adapter
}

// Meta implements the descriptive half of compiler.Step. Concrete steps
// embed it and add Check and Apply.
type Meta struct {
	id       compiler.StepID
	desc     string
	goal     compiler.Goal
	requires []compiler.Resource
	provides []compiler.Resource
	policy   compiler.Policy
}

// NewMeta builds step metadata. It panics on a malformed id, which is a
// programming error.
func NewMeta(id, desc string, goal compiler.Goal, policy compiler.Policy) Meta {
	return Meta{
		id:     compiler.MustNewStepID(id),
		desc:   desc,
		goal:   goal,
		policy: policy,
	}
}

// Needs returns a copy with required resources set.
func (m Meta) Needs(rs ...compiler.Resource) Meta {
	m.requires = append([]compiler.Resource(nil), rs...)
	return m
}

// Gives returns a copy with provided resources set.
func (m Meta) Gives(rs ...compiler.Resource) Meta {
	m.provides = append([]compiler.Resource(nil), rs...)
	return m
}

// ID implements compiler.Step.
func (m Meta) ID() compiler.StepID { return m.id }

// Description implements compiler.Step.
func (m Meta) Description() string { return m.desc }

// Goal implements compiler.Step.
func (m Meta) Goal() compiler.Goal { return m.goal }

// Requires implements compiler.Step.
func (m Meta) Requires() []compiler.Resource { return m.requires }

// Provides implements compiler.Step.
func (m Meta) Provides() []compiler.Resource { return m.provides }

// Policy implements compiler.Step.
func (m Meta) Policy() compiler.Policy { return m.policy }

// Key returns the ledger key for a path: relative to the project when it
// lives inside it, absolute otherwise.
func Key(projectDir, p string) string {
	rel, err := filepath.Rel(projectDir, p)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return p
	}
	return filepath.ToSlash(rel)
}

// Exists reports whether p exists on fs.
func Exists(fs billy.Filesystem, p string) bool {
	_, err := fs.Lstat(p)
	return err == nil
}

// StepID joins an action and a free-form subject into a valid step id.
func StepID(action, subject string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '_', r == '@', r == '/', r == '-':
			return r
		}
		return '-'
	}, subject)
	clean = strings.TrimLeft(clean, "./_@-")
	if clean == "" {
		return action
	}
	return action + ":" + clean
}

// Changes is shared between a configure step and the reload step that
// follows it so the reload can be skipped when nothing was written.
type Changes struct {
	mu      sync.Mutex
	changed bool
}

// Mark records that a configuration file changed.
func (c *Changes) Mark() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.changed = true
}

// Any reports whether anything was marked.
func (c *Changes) Any() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.changed
}
