// Package deployer deploys units to a network, reusing existing deployments whose code is
// unchanged.
package deployer

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chainwire/migrator/chain"
	"github.com/chainwire/migrator/deployment"
	"github.com/chainwire/migrator/linker"
	"github.com/chainwire/migrator/pkg/logger"
	"github.com/chainwire/migrator/registry"
)

// Result is the outcome of Deploy.
type Result struct {
	// Record is the current record of the unit after the call.
	Record registry.Record
	// Deployed reports whether a creation transaction was sent.
	Deployed bool
}

// Option configures a single Deploy call.
type Option func(*deployConfig)

type deployConfig struct {
	overwrite *bool
}

// WithOverwrite forces (true) or forbids (false) a redeployment regardless of the network's
// overwrite policy.
func WithOverwrite(overwrite bool) Option {
	return func(c *deployConfig) {
		c.overwrite = &overwrite
	}
}

// Deployer deploys units on one network.
type Deployer struct {
	chain    chain.Chain
	registry registry.Registry
	linker   *linker.Linker
	network  string
	policy   deployment.OverwritePolicy
	lggr     logger.Logger
	now      func() time.Time
}

// New returns a Deployer for the named network.
func New(
	c chain.Chain, reg registry.Registry, network string, policy deployment.OverwritePolicy, lggr logger.Logger,
) *Deployer {
	return &Deployer{
		chain:    c,
		registry: reg,
		linker:   linker.New(reg),
		network:  network,
		policy:   policy,
		lggr:     lggr.Named("deployer"),
		now:      time.Now,
	}
}

// Deploy ensures unit is deployed on the network.
//
// When overwriting is off and the current record has the unit's fingerprint, the record is
// returned without sending anything. Otherwise the unit is linked, its constructor arguments
// are packed, and the creation transaction is sent and confirmed before the new record is
// written; the previous record, if any, is retired.
//
// A reverted creation fails with deployment.ErrDeploymentFailed. A creation that is not
// confirmed in time fails with deployment.ErrConfirmationTimeout and nothing is recorded.
func (d *Deployer) Deploy(ctx context.Context, unit deployment.Unit, args []any, opts ...Option) (Result, error) {
	cfg := &deployConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	if err := unit.Validate(); err != nil {
		return Result{}, err
	}

	lggr := d.lggr.With("unit", unit.Name, "network", d.network)
	overwrite := deployment.ResolveOverwrite(cfg.overwrite, d.policy)
	fingerprint := unit.Fingerprint()

	current, found, err := d.registry.Lookup(ctx, unit.Name, d.network)
	if err != nil {
		return Result{}, fmt.Errorf("unit %s: failed to look up current record: %w", unit.Name, err)
	}

	if found && !overwrite && current.Fingerprint == fingerprint {
		live, err := d.hasCode(ctx, current)
		if err != nil {
			return Result{}, err
		}
		if live {
			stale, err := d.staleLibraries(ctx, current)
			if err != nil {
				return Result{}, err
			}
			if len(stale) > 0 {
				lggr.Warnw("Unit links libraries that were redeployed since, set overwrite to relink it",
					"address", current.Address.Hex(),
					"libraries", stale,
				)
			}
			lggr.Debugw("Unit unchanged, reusing deployment", "address", current.Address.Hex())

			return Result{Record: current}, nil
		}

		lggr.Warnw("Recorded address holds no code, redeploying", "address", current.Address.Hex())
	}

	if found && !overwrite && current.Fingerprint != fingerprint {
		lggr.Infow("Unit code changed, redeploying",
			"address", current.Address.Hex(),
			"recordedFingerprint", current.Fingerprint.Hex(),
			"fingerprint", fingerprint.Hex(),
		)
	}

	rec, err := d.deploy(ctx, unit, fingerprint, args)
	if err != nil {
		return Result{}, err
	}

	lggr.Infow("Deployed unit",
		"address", rec.Address.Hex(),
		"txHash", rec.TxHash.Hex(),
		"block", rec.BlockNumber,
	)

	return Result{Record: rec, Deployed: true}, nil
}

func (d *Deployer) deploy(
	ctx context.Context, unit deployment.Unit, fingerprint deployment.Fingerprint, args []any,
) (registry.Record, error) {
	linked, err := d.linker.Link(ctx, unit, d.network)
	if err != nil {
		return registry.Record{}, err
	}

	packed, err := unit.ABI.Pack("", args...)
	if err != nil {
		return registry.Record{}, fmt.Errorf("unit %s: failed to pack constructor arguments: %w", unit.Name, err)
	}

	data := make([]byte, 0, len(linked.Code)+len(packed))
	data = append(data, linked.Code...)
	data = append(data, packed...)

	receipt, err := chain.SubmitAndConfirm(ctx, d.chain, chain.Transaction{Data: data})
	if err != nil {
		if errors.Is(err, deployment.ErrTransactionReverted) {
			return registry.Record{}, fmt.Errorf("%w: unit %s: %w", deployment.ErrDeploymentFailed, unit.Name, err)
		}

		return registry.Record{}, fmt.Errorf("unit %s: %w", unit.Name, err)
	}
	if receipt.ContractAddress == (common.Address{}) {
		return registry.Record{}, fmt.Errorf("%w: unit %s: tx %s created no contract",
			deployment.ErrDeploymentFailed, unit.Name, receipt.TxHash.Hex(),
		)
	}

	rec := registry.Record{
		Name:        unit.Name,
		Network:     d.network,
		Address:     receipt.ContractAddress,
		Fingerprint: fingerprint,
		TxHash:      receipt.TxHash,
		BlockNumber: receipt.BlockNumber,
		Timestamp:   d.now().UTC(),
	}
	if unit.Version != nil {
		rec.Version = unit.Version.String()
	}
	if len(linked.Links) > 0 {
		rec.Libraries = linked.Links
	}

	if err = d.registry.Record(ctx, rec); err != nil {
		return registry.Record{}, fmt.Errorf("unit %s: deployed at %s but failed to record it: %w",
			unit.Name, rec.Address.Hex(), err,
		)
	}

	return rec, nil
}

// hasCode reports whether the recorded address still holds code. Clients that cannot read code
// are trusted.
func (d *Deployer) hasCode(ctx context.Context, rec registry.Record) (bool, error) {
	reader, ok := d.chain.Client.(chain.CodeReader)
	if !ok {
		return true, nil
	}

	code, err := reader.CodeAt(ctx, rec.Address)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}

		return false, deployment.NewTransientError(
			fmt.Errorf("unit %s: failed to read code at %s: %w", rec.Name, rec.Address.Hex(), err),
		)
	}

	return len(code) > 0, nil
}

// staleLibraries returns the sorted names of the libraries linked into rec whose current address
// on the network is a different one.
func (d *Deployer) staleLibraries(ctx context.Context, rec registry.Record) ([]string, error) {
	var stale []string
	for _, name := range slices.Sorted(maps.Keys(rec.Libraries)) {
		lib, found, err := d.registry.Lookup(ctx, name, d.network)
		if err != nil {
			return nil, fmt.Errorf("unit %s: failed to look up library %s: %w", rec.Name, name, err)
		}
		if found && lib.Address != rec.Libraries[name] {
			stale = append(stale, name)
		}
	}

	return stale, nil
}
