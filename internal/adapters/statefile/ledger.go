// Package statefile persists the idempotency ledger as an append-only YAML stream.
package statefile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/trunkplayer/trunkprov/internal/domain/state"
)

// DefaultDir is the ledger directory relative to the project root.
const DefaultDir = ".trunkprov"

// DefaultName is the ledger file name.
const DefaultName = "state.yaml"

// DefaultPath returns the ledger path for a project root.
func DefaultPath(projectDir string) string {
	return filepath.Join(projectDir, DefaultDir, DefaultName)
}

// eventDTO is the on-disk shape of one ledger document.
type eventDTO struct {
	Op        string            `yaml:"op"`
	Kind      string            `yaml:"kind"`
	Key       string            `yaml:"key"`
	RunID     string            `yaml:"run_id,omitempty"`
	CreatedAt time.Time         `yaml:"created_at,omitempty"`
	At        time.Time         `yaml:"at"`
	Params    map[string]string `yaml:"params,omitempty"`
}

func toDTO(ev state.Event) eventDTO {
	return eventDTO{
		Op:        string(ev.Op),
		Kind:      string(ev.Entry.Kind),
		Key:       ev.Entry.Key,
		RunID:     ev.Entry.RunID,
		CreatedAt: ev.Entry.CreatedAt,
		At:        ev.At,
		Params:    ev.Entry.Params,
	}
}

func fromDTO(dto eventDTO) (state.Event, error) {
	op := state.Op(dto.Op)
	if op != state.OpRecord && op != state.OpRemove {
		return state.Event{}, fmt.Errorf("unknown op %q", dto.Op)
	}
	kind, err := state.ParseKind(dto.Kind)
	if err != nil {
		return state.Event{}, err
	}
	if dto.Key == "" {
		return state.Event{}, state.ErrEmptyKey
	}
	return state.Event{
		Op: op,
		At: dto.At,
		Entry: state.Entry{
			Kind:      kind,
			Key:       dto.Key,
			RunID:     dto.RunID,
			CreatedAt: dto.CreatedAt,
			Params:    dto.Params,
		},
	}, nil
}

// Ledger implements state.Store on top of a single YAML file.
//
// Every mutation is one YAML document appended and fsynced before the call
// returns, so an interrupted run loses at most the in-flight document.
type Ledger struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// New creates a ledger at path. The file is created on first write.
func New(path string) *Ledger {
	return &Ledger{path: path, now: func() time.Time { return time.Now().UTC() }}
}

// Path returns the ledger file location.
func (l *Ledger) Path() string {
	return l.path
}

// Exists reports whether the ledger file is present.
func (l *Ledger) Exists() bool {
	_, err := os.Stat(l.path)
	return err == nil
}

// Record appends a record event for entry.
func (l *Ledger) Record(ctx context.Context, entry state.Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = l.now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.append(ctx, state.Event{Op: state.OpRecord, Entry: entry, At: l.now()})
}

// Remove appends a tombstone for ref. Removing an unknown ref is ErrNotFound.
func (l *Ledger) Remove(ctx context.Context, ref state.Ref) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	events, err := l.read()
	if err != nil {
		return err
	}
	if !state.Has(state.Fold(events), ref) {
		return fmt.Errorf("%w: %s", state.ErrNotFound, ref)
	}
	return l.append(ctx, state.Event{
		Op:    state.OpRemove,
		Entry: state.Entry{Kind: ref.Kind, Key: ref.Key},
		At:    l.now(),
	})
}

// List returns the active entries.
func (l *Ledger) List(_ context.Context) ([]state.Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	events, err := l.read()
	if err != nil {
		return nil, err
	}
	return state.Fold(events), nil
}

// History returns every event in write order.
func (l *Ledger) History(_ context.Context) ([]state.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.read()
}

func (l *Ledger) append(ctx context.Context, ev state.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := yaml.Marshal(toDTO(ev))
	if err != nil {
		return fmt.Errorf("%w: %w", state.ErrWriteFailed, err)
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o700); err != nil {
		return fmt.Errorf("%w: failed to create directory: %w", state.ErrWriteFailed, err)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("%w: %w", state.ErrWriteFailed, err)
	}

	buf := append([]byte("---\n"), data...)
	if _, err := f.Write(buf); err != nil {
		_ = f.Close()
		return fmt.Errorf("%w: %w", state.ErrWriteFailed, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("%w: %w", state.ErrWriteFailed, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: %w", state.ErrWriteFailed, err)
	}
	return nil
}

func (l *Ledger) read() ([]state.Event, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []state.Event{}, nil
		}
		return nil, fmt.Errorf("failed to read state ledger: %w", err)
	}
	defer func() { _ = f.Close() }()

	events := make([]state.Event, 0)
	dec := yaml.NewDecoder(f)
	for i := 0; ; i++ {
		var dto eventDTO
		err := dec.Decode(&dto)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: document %d: %w", state.ErrLedgerCorrupt, i, err)
		}
		ev, err := fromDTO(dto)
		if err != nil {
			return nil, fmt.Errorf("%w: document %d: %w", state.ErrLedgerCorrupt, i, err)
		}
		events = append(events, ev)
	}
	return events, nil
}

var _ state.Store = (*Ledger)(nil)
