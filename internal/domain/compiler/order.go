package compiler

import "fmt"

// ValidateOrder checks a totally ordered step list.
//
// Every required resource must be provided by an earlier step or already be
// available on the host. Step IDs must be unique and policies valid. Any
// violation is a builder defect.
func ValidateOrder(steps []Step, available ResourceSet) error {
	have := NewResourceSet()
	for r := range available {
		have.Add(r)
	}
	seen := make(map[string]struct{}, len(steps))

	for i, s := range steps {
		id := s.ID().String()
		if s.ID().IsZero() {
			return NewPlanInvariantError("", fmt.Sprintf("step at position %d has no ID", i))
		}
		if _, dup := seen[id]; dup {
			return NewPlanInvariantError(id, "duplicate step ID in plan")
		}
		seen[id] = struct{}{}

		if err := s.Policy().Validate(); err != nil {
			return NewPlanInvariantError(id, err.Error())
		}

		for _, r := range s.Requires() {
			if !have.Has(r) {
				return NewPlanInvariantError(id, fmt.Sprintf("requires %q before any step provides it", r))
			}
		}
		have.Add(s.Provides()...)
	}
	return nil
}
