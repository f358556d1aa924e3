package migration

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/chainwire/migrator/pkg/logger"
	"github.com/chainwire/migrator/reconcile"
)

// Deploy declares a unit deployed by a step.
type Deploy struct {
	// Unit is the name of the unit in the catalog.
	Unit string
	// Args are the constructor arguments. reconcile.UnitAddress values are replaced by the
	// referenced unit's current address when the step runs.
	Args []any
	// Overwrite forces or forbids a redeployment. Nil leaves the decision to the network policy.
	Overwrite *bool
}

// Relationship is a relationship reconciled by a step.
type Relationship struct {
	reconcile.Relationship

	// BestEffort relationships are logged and reported on failure without failing the step.
	BestEffort bool
}

// HookEnv is what a hook can use.
type HookEnv struct {
	Network string
	Lookup  reconcile.AddressLookup
	Logger  logger.Logger
}

// Hook is custom logic run inside a step. Hooks are retried like any other action and must be
// idempotent.
type Hook func(ctx context.Context, env HookEnv) error

// Hooks run before the step's deploys and after its relationships.
type Hooks struct {
	Before Hook
	After  Hook
}

// Step is a unit of the migration. Steps run strictly in ascending Key order.
type Step struct {
	Key  uint
	Name string
	// Requires lists units that must be deployed on the network before the step starts. The
	// scheduler does not compute dependencies; the step author declares them.
	Requires      []string
	Deploys       []Deploy
	Relationships []Relationship
	Hooks         Hooks
}

// Label returns "<key> (<name>)".
func (s Step) Label() string {
	return fmt.Sprintf("%d (%s)", s.Key, s.Name)
}

// Validate checks the step is complete.
func (s Step) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("step %d: name is required", s.Key)
	}

	var errs []error
	for i, d := range s.Deploys {
		if d.Unit == "" {
			errs = append(errs, fmt.Errorf("deploy %d: unit is required", i))
		}
	}
	for _, r := range s.Relationships {
		if err := r.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("step %s: %w", s.Label(), errors.Join(errs...))
	}

	return nil
}

// SortSteps validates steps and returns them in execution order. Keys must be unique.
func SortSteps(steps []Step) ([]Step, error) {
	sorted := slices.Clone(steps)
	slices.SortStableFunc(sorted, func(a, b Step) int {
		return cmp.Compare(a.Key, b.Key)
	})

	for i, s := range sorted {
		if i > 0 && sorted[i-1].Key == s.Key {
			return nil, fmt.Errorf("steps %q and %q share key %d", sorted[i-1].Name, s.Name, s.Key)
		}
		if err := s.Validate(); err != nil {
			return nil, err
		}
	}

	return sorted, nil
}
