// Package state models the idempotency ledger: the durable record of every
// resource this provisioner created, used to drive safe teardown.
package state

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// Kind identifies the type of a provisioned resource.
type Kind string

const (
	KindVenv          Kind = "venv"
	KindDatabase      Kind = "database"
	KindDBUser        Kind = "db_user"
	KindNginxSite     Kind = "nginx_site"
	KindSupervisorJob Kind = "supervisor_job"
	KindLogDir        Kind = "log_dir"
	KindAudioDir      Kind = "audio_dir"
	KindSystemPackage Kind = "system_package"
)

// Kinds lists every known kind.
func Kinds() []Kind {
	return []Kind{
		KindVenv, KindDatabase, KindDBUser, KindNginxSite,
		KindSupervisorJob, KindLogDir, KindAudioDir, KindSystemPackage,
	}
}

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds() {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown resource kind %q", s)
}

// Tier groups kinds by blast radius.
type Tier int

const (
	// TierProject covers artifacts that belong to this checkout only.
	TierProject Tier = iota
	// TierSystem covers host-wide resources other applications may share.
	TierSystem
)

// Tier returns the confirmation tier of the kind.
func (k Kind) Tier() Tier {
	if k == KindSystemPackage {
		return TierSystem
	}
	return TierProject
}

// Well-known Params keys.
const (
	ParamPath              = "path"
	ParamEngine            = "engine"
	ParamOwner             = "owner"
	ParamEnabledLink       = "enabled_link"
	ParamService           = "service"
	ParamPackage           = "package"
	ParamSecretLocation    = "secret_location"
	ParamSecretFingerprint = "secret_fingerprint"
)

// Ref identifies a ledger entry.
type Ref struct {
	Kind Kind   `yaml:"kind" json:"kind"`
	Key  string `yaml:"key" json:"key"`
}

// String returns "kind/key".
func (r Ref) String() string {
	return string(r.Kind) + "/" + r.Key
}

// Entry is a persisted record of a provisioned resource.
type Entry struct {
	Kind      Kind
	Key       string
	CreatedAt time.Time
	RunID     string
	Params    map[string]string
}

// NewEntry creates an entry stamped with the current time.
func NewEntry(kind Kind, key string, params map[string]string) Entry {
	p := make(map[string]string, len(params))
	for k, v := range params {
		p[k] = v
	}
	return Entry{
		Kind:      kind,
		Key:       key,
		CreatedAt: time.Now().UTC(),
		Params:    p,
	}
}

// Ref returns the entry's identifying reference.
func (e Entry) Ref() Ref {
	return Ref{Kind: e.Kind, Key: e.Key}
}

// Param returns a parameter value or "".
func (e Entry) Param(key string) string {
	if e.Params == nil {
		return ""
	}
	return e.Params[key]
}

// Validate checks the entry is addressable.
func (e Entry) Validate() error {
	if _, err := ParseKind(string(e.Kind)); err != nil {
		return err
	}
	if e.Key == "" {
		return ErrEmptyKey
	}
	return nil
}

// Op is the kind of a ledger event.
type Op string

const (
	OpRecord Op = "record"
	OpRemove Op = "remove"
)

// Event is one line of ledger history.
type Event struct {
	Op    Op
	Entry Entry
	At    time.Time
}

// Store errors.
var (
	ErrEmptyKey      = errors.New("state entry key cannot be empty")
	ErrNotFound      = errors.New("state entry not found")
	ErrLedgerCorrupt = errors.New("state ledger is corrupt")
	ErrWriteFailed   = errors.New("failed to write state ledger")
)

// Store is the port for the idempotency ledger.
//
// Record appends; Remove appends a tombstone so history stays auditable.
// Both must be durable before returning.
type Store interface {
	Record(ctx context.Context, entry Entry) error
	List(ctx context.Context) ([]Entry, error)
	Remove(ctx context.Context, ref Ref) error
	History(ctx context.Context) ([]Event, error)
}

// Fold replays history into the active entries, ordered by creation time.
func Fold(events []Event) []Entry {
	active := make(map[Ref]Entry)
	for _, ev := range events {
		switch ev.Op {
		case OpRecord:
			active[ev.Entry.Ref()] = ev.Entry
		case OpRemove:
			delete(active, ev.Entry.Ref())
		}
	}

	out := make([]Entry, 0, len(active))
	for _, e := range active {
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Ref().String() < out[j].Ref().String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Filter returns entries of the given kind.
func Filter(entries []Entry, kind Kind) []Entry {
	out := make([]Entry, 0)
	for _, e := range entries {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// Has reports whether an active entry with ref exists.
func Has(entries []Entry, ref Ref) bool {
	for _, e := range entries {
		if e.Ref() == ref {
			return true
		}
	}
	return false
}
