package reconcile

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Kind declares how a relationship's field may be written.
type Kind string

const (
	// KindSetter fields can be written any number of times.
	KindSetter Kind = "idempotent-setter"
	// KindInitializer fields can be written once. A second write reverts on-chain.
	KindInitializer Kind = "one-time-initializer"
)

// Validate returns an error for unknown kinds.
func (k Kind) Validate() error {
	switch k {
	case KindSetter, KindInitializer:
		return nil
	default:
		return fmt.Errorf("unknown relationship kind %q", k)
	}
}

// AddressLookup resolves the current address of a deployed unit.
type AddressLookup interface {
	Address(ctx context.Context, unit string) (common.Address, error)
}

// DesiredFunc computes the desired value of a relationship's field at reconciliation time.
type DesiredFunc func(ctx context.Context, lookup AddressLookup) (any, error)

// Relationship declares that the on-chain field of a source unit must hold a desired value,
// usually the address of a target unit.
type Relationship struct {
	// Name identifies the relationship in logs and reports. Defaults to "<Source>.<Field>".
	Name string
	// Source is the unit whose state is reconciled.
	Source string
	// Field is the view method returning the current value.
	Field string
	// Setter is the method writing the value. It takes the desired value as its only argument.
	Setter string
	// Target is the unit whose current address is the desired value.
	Target string
	// Value is a literal desired value, used when Target is empty. Address references are
	// written as UnitAddress.
	Value any
	// Desired computes the desired value, used when Target and Value are empty.
	Desired DesiredFunc
	// Kind defaults to KindSetter.
	Kind Kind
	// Probe is the view method read to decide whether an initializer already ran. Defaults to
	// Field.
	Probe string
}

// ID returns the name of the relationship.
func (r Relationship) ID() string {
	if r.Name != "" {
		return r.Name
	}

	return r.Source + "." + r.Field
}

// KindOrDefault returns the declared kind or KindSetter.
func (r Relationship) KindOrDefault() Kind {
	if r.Kind == "" {
		return KindSetter
	}

	return r.Kind
}

// ProbeOrField returns the method probed for initialization.
func (r Relationship) ProbeOrField() string {
	if r.Probe == "" {
		return r.Field
	}

	return r.Probe
}

// Validate checks the relationship is complete.
func (r Relationship) Validate() error {
	switch {
	case r.Source == "":
		return fmt.Errorf("relationship %s: source is required", r.ID())
	case r.Field == "":
		return fmt.Errorf("relationship %s: field is required", r.ID())
	case r.Setter == "":
		return fmt.Errorf("relationship %s: setter is required", r.ID())
	}

	sources := 0
	if r.Target != "" {
		sources++
	}
	if r.Value != nil {
		sources++
	}
	if r.Desired != nil {
		sources++
	}
	if sources != 1 {
		return fmt.Errorf("relationship %s: exactly one of target, value or desired is required", r.ID())
	}

	if err := r.KindOrDefault().Validate(); err != nil {
		return fmt.Errorf("relationship %s: %w", r.ID(), err)
	}

	return nil
}

// UnitAddress is a reference to the current address of a unit, resolved when it is used.
type UnitAddress string

// ResolveArgs replaces every UnitAddress in args with the unit's current address.
func ResolveArgs(ctx context.Context, lookup AddressLookup, args []any) ([]any, error) {
	if len(args) == 0 {
		return args, nil
	}

	out := make([]any, len(args))
	for i, a := range args {
		ref, ok := a.(UnitAddress)
		if !ok {
			out[i] = a
			continue
		}

		addr, err := lookup.Address(ctx, string(ref))
		if err != nil {
			return nil, err
		}
		out[i] = addr
	}

	return out, nil
}
