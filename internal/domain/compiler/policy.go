package compiler

import (
	"fmt"
	"time"
)

// Standard action timeouts.
const (
	TimeoutQuick = 10 * time.Second
	TimeoutSetup = 30 * time.Second
	TimeoutLong  = 300 * time.Second
)

// Readiness polling defaults: a freshly started service gets 10 polls 2s apart.
const (
	ReadinessAttempts = 10
	ReadinessBackoff  = 2 * time.Second
)

// Criticality decides whether a failure halts the run.
type Criticality string

const (
	CriticalityFatal Criticality = "fatal"
	CriticalityWarn  Criticality = "warn"
)

// Effect classifies what an action does to the host.
type Effect string

const (
	EffectReadOnly    Effect = "read-only"
	EffectMutating    Effect = "mutating"
	EffectDestructive Effect = "destructive"
)

// Retry bounds how an action is attempted.
type Retry struct {
	MaxAttempts int
	Backoff     time.Duration
	Timeout     time.Duration
}

// Policy groups retry, criticality and effect.
type Policy struct {
	Retry       Retry
	Criticality Criticality
	Effect      Effect
}

// Attempts returns how many times the executor may run the action.
// Only read-only actions are retried; everything else runs once.
func (p Policy) Attempts() int {
	if p.Effect != EffectReadOnly {
		return 1
	}
	if p.Retry.MaxAttempts < 1 {
		return 1
	}
	return p.Retry.MaxAttempts
}

// Fatal reports whether a failure halts the run.
func (p Policy) Fatal() bool {
	return p.Criticality != CriticalityWarn
}

// Validate checks the policy is usable.
func (p Policy) Validate() error {
	if p.Retry.Timeout <= 0 {
		return fmt.Errorf("policy timeout must be positive")
	}
	if p.Retry.Backoff < 0 {
		return fmt.Errorf("policy backoff cannot be negative")
	}
	switch p.Criticality {
	case CriticalityFatal, CriticalityWarn:
	default:
		return fmt.Errorf("unknown criticality %q", p.Criticality)
	}
	switch p.Effect {
	case EffectReadOnly, EffectMutating, EffectDestructive:
	default:
		return fmt.Errorf("unknown effect %q", p.Effect)
	}
	return nil
}

// WithCriticality returns a copy with criticality set.
func (p Policy) WithCriticality(c Criticality) Policy {
	p.Criticality = c
	return p
}

// ReadinessPolicy polls a service until it answers.
func ReadinessPolicy() Policy {
	return Policy{
		Retry:       Retry{MaxAttempts: ReadinessAttempts, Backoff: ReadinessBackoff, Timeout: TimeoutQuick},
		Criticality: CriticalityFatal,
		Effect:      EffectReadOnly,
	}
}

// MutatingPolicy runs a state-changing action once.
func MutatingPolicy(timeout time.Duration) Policy {
	return Policy{
		Retry:       Retry{MaxAttempts: 1, Timeout: timeout},
		Criticality: CriticalityFatal,
		Effect:      EffectMutating,
	}
}

// DestructivePolicy runs a removal once.
func DestructivePolicy(timeout time.Duration) Policy {
	return Policy{
		Retry:       Retry{MaxAttempts: 1, Timeout: timeout},
		Criticality: CriticalityFatal,
		Effect:      EffectDestructive,
	}
}
