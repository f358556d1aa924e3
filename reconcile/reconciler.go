// Package reconcile brings on-chain fields of deployed units to their desired values.
//
// Every relationship follows the same contract: read the current value, compare it with the
// desired value, and send a single correcting transaction only on mismatch. Applying a
// relationship twice with no state change in between sends nothing the second time.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/chainwire/migrator/chain"
	"github.com/chainwire/migrator/deployment"
	"github.com/chainwire/migrator/pkg/logger"
	"github.com/chainwire/migrator/registry"
)

// DefaultReadTimeout bounds a single read-only call.
const DefaultReadTimeout = 30 * time.Second

// UnitSource resolves unit definitions by name. artifact.Catalog implements it.
type UnitSource interface {
	Unit(name string) (deployment.Unit, bool)
}

// Result is the outcome of a reconciliation.
type Result struct {
	// Changed reports whether a correcting transaction was confirmed.
	Changed bool
	// AlreadyInitialized reports that an initializer was skipped because it already ran.
	AlreadyInitialized bool
	// TxHash is the hash of the correcting transaction, if any.
	TxHash common.Hash
	// Current is the value observed before any change.
	Current any
	// Desired is the value the field should hold.
	Desired any
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithReadTimeout bounds every read-only call.
func WithReadTimeout(timeout time.Duration) Option {
	return func(r *Reconciler) {
		r.readTimeout = timeout
	}
}

var _ AddressLookup = (*Reconciler)(nil)

// Reconciler reconciles relationships between units deployed on one network.
type Reconciler struct {
	chain       chain.Chain
	registry    registry.Registry
	units       UnitSource
	network     string
	lggr        logger.Logger
	readTimeout time.Duration
}

// New returns a Reconciler for the named network.
func New(
	c chain.Chain, reg registry.Registry, units UnitSource, network string, lggr logger.Logger, opts ...Option,
) *Reconciler {
	r := &Reconciler{
		chain:       c,
		registry:    reg,
		units:       units,
		network:     network,
		lggr:        lggr.Named("reconciler"),
		readTimeout: DefaultReadTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Address returns the current address of a deployed unit. A unit without a current record, or
// recorded at the zero address, fails with deployment.ErrMissingDependency.
func (r *Reconciler) Address(ctx context.Context, unit string) (common.Address, error) {
	rec, found, err := r.registry.Lookup(ctx, unit, r.network)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to look up %s: %w", unit, err)
	}
	if !found || rec.Address == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: unit %s is not deployed on %s",
			deployment.ErrMissingDependency, unit, r.network,
		)
	}

	return rec.Address, nil
}

// Reconcile brings the relationship's field to its desired value.
//
// Setters are read and written only on mismatch. Initializers are probed first: a non-zero probe
// means the initializer already ran and the call is a successful no-op, with a warning when the
// observed value differs from the desired one. The desired value is never the zero address; a
// relationship whose target is not deployed fails with deployment.ErrMissingDependency before
// anything is sent.
func (r *Reconciler) Reconcile(ctx context.Context, rel Relationship) (Result, error) {
	if err := rel.Validate(); err != nil {
		return Result{}, err
	}

	lggr := r.lggr.With("relationship", rel.ID(), "network", r.network)

	source, ok := r.units.Unit(rel.Source)
	if !ok {
		return Result{}, fmt.Errorf("relationship %s: unit %s is not defined", rel.ID(), rel.Source)
	}
	sourceAddr, err := r.Address(ctx, rel.Source)
	if err != nil {
		return Result{}, fmt.Errorf("relationship %s: %w", rel.ID(), err)
	}

	setter, ok := source.ABI.Methods[rel.Setter]
	if !ok {
		return Result{}, fmt.Errorf("relationship %s: unit %s has no method %s", rel.ID(), rel.Source, rel.Setter)
	}
	if len(setter.Inputs) != 1 {
		return Result{}, fmt.Errorf("relationship %s: setter %s must take exactly one argument, takes %d",
			rel.ID(), rel.Setter, len(setter.Inputs),
		)
	}

	desired, err := r.desired(ctx, rel, setter.Inputs[0].Type)
	if err != nil {
		return Result{}, fmt.Errorf("relationship %s: %w", rel.ID(), err)
	}

	if rel.KindOrDefault() == KindInitializer {
		return r.initialize(ctx, lggr, rel, source.ABI, sourceAddr, desired)
	}

	current, err := r.read(ctx, rel, source.ABI, sourceAddr, rel.Field)
	if err != nil {
		return Result{}, err
	}
	if Equal(current, desired) {
		lggr.Debugw("Relationship satisfied", "value", FormatValue(current))

		return Result{Current: current, Desired: desired}, nil
	}

	hash, err := r.apply(ctx, rel, source.ABI, sourceAddr, desired)
	if err != nil {
		return Result{}, err
	}

	lggr.Infow("Relationship reconciled",
		"from", FormatValue(current),
		"to", FormatValue(desired),
		"txHash", hash.Hex(),
	)

	return Result{Changed: true, TxHash: hash, Current: current, Desired: desired}, nil
}

func (r *Reconciler) initialize(
	ctx context.Context,
	lggr logger.Logger,
	rel Relationship,
	contractABI abi.ABI,
	address common.Address,
	desired any,
) (Result, error) {
	probe, err := r.read(ctx, rel, contractABI, address, rel.ProbeOrField())
	if err != nil {
		return Result{}, err
	}

	if !IsZero(probe) {
		current := probe
		if rel.ProbeOrField() != rel.Field {
			if current, err = r.read(ctx, rel, contractABI, address, rel.Field); err != nil {
				return Result{}, err
			}
		}
		if !Equal(current, desired) {
			lggr.Warnw("Already initialized with a different value, leaving it",
				"current", FormatValue(current),
				"desired", FormatValue(desired),
			)
		} else {
			lggr.Debugw("Already initialized", "value", FormatValue(current))
		}

		return Result{AlreadyInitialized: true, Current: current, Desired: desired}, nil
	}

	hash, err := r.apply(ctx, rel, contractABI, address, desired)
	if err != nil {
		return Result{}, err
	}

	lggr.Infow("Initialized", "value", FormatValue(desired), "txHash", hash.Hex())

	return Result{Changed: true, TxHash: hash, Current: probe, Desired: desired}, nil
}

// desired computes the desired value and converts it to the setter's argument type.
func (r *Reconciler) desired(ctx context.Context, rel Relationship, typ abi.Type) (any, error) {
	var (
		v   any
		err error
	)
	switch {
	case rel.Target != "":
		v, err = r.Address(ctx, rel.Target)
	case rel.Desired != nil:
		v, err = rel.Desired(ctx, r)
	default:
		v = rel.Value
	}
	if err != nil {
		return nil, err
	}

	if ref, ok := v.(UnitAddress); ok {
		if v, err = r.Address(ctx, string(ref)); err != nil {
			return nil, err
		}
	}

	v, err = Convert(v, typ)
	if err != nil {
		return nil, fmt.Errorf("desired value: %w", err)
	}

	if addr, ok := v.(common.Address); ok && addr == (common.Address{}) {
		return nil, fmt.Errorf("%w: desired value is the zero address", deployment.ErrMissingDependency)
	}

	return v, nil
}

// read calls a single-output view method. RPC failures and timeouts are transient.
func (r *Reconciler) read(
	ctx context.Context, rel Relationship, contractABI abi.ABI, address common.Address, method string,
) (any, error) {
	m, ok := contractABI.Methods[method]
	if !ok {
		return nil, fmt.Errorf("relationship %s: unit %s has no method %s", rel.ID(), rel.Source, method)
	}
	if len(m.Outputs) != 1 {
		return nil, fmt.Errorf("relationship %s: %s must return exactly one value", rel.ID(), method)
	}

	data, err := contractABI.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("relationship %s: failed to pack %s: %w", rel.ID(), method, err)
	}

	readCtx, cancel := context.WithTimeout(ctx, r.readTimeout)
	defer cancel()

	out, err := r.chain.Client.Call(readCtx, address, data)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		return nil, deployment.NewTransientError(
			fmt.Errorf("relationship %s: failed to read %s at %s: %w", rel.ID(), method, address.Hex(), err),
		)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: relationship %s: %s at %s returned no data, is the contract deployed?",
			deployment.ErrMissingDependency, rel.ID(), rel.Source, address.Hex(),
		)
	}

	values, err := contractABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("relationship %s: failed to unpack %s: %w", rel.ID(), method, err)
	}

	return values[0], nil
}

// apply sends the setter transaction and waits for it.
func (r *Reconciler) apply(
	ctx context.Context, rel Relationship, contractABI abi.ABI, address common.Address, desired any,
) (common.Hash, error) {
	data, err := contractABI.Pack(rel.Setter, desired)
	if err != nil {
		return common.Hash{}, fmt.Errorf("relationship %s: failed to pack %s: %w", rel.ID(), rel.Setter, err)
	}

	receipt, err := chain.SubmitAndConfirm(ctx, r.chain, chain.Transaction{To: &address, Data: data})
	if err != nil {
		if errors.Is(err, deployment.ErrTransactionReverted) {
			return common.Hash{}, fmt.Errorf("relationship %s: %s reverted: %w", rel.ID(), rel.Setter, err)
		}

		return common.Hash{}, fmt.Errorf("relationship %s: %w", rel.ID(), err)
	}

	return receipt.TxHash, nil
}
