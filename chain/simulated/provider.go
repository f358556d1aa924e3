// Package simulated provides an in-process EVM network backed by go-ethereum's simulated backend.
// Every submitted transaction is mined immediately into its own block.
package simulated

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	"github.com/ethereum/go-ethereum/params"

	"github.com/chainwire/migrator/chain"
	"github.com/chainwire/migrator/chain/evm"
	"github.com/chainwire/migrator/pkg/logger"
)

var (
	// ChainID is the chain ID of every simulated network.
	ChainID = params.AllDevChainProtocolChanges.ChainID
	// prefundAmountWei is 1,000,000 Ether.
	prefundAmountWei = new(big.Int).Mul(big.NewInt(1_000_000), big.NewInt(params.Ether))
)

// BlockGasLimit of the simulated network.
const BlockGasLimit uint64 = 50_000_000

// Config holds the configuration of a simulated network.
type Config struct {
	// Optional: generator of the deployer key. A random key is generated when nil. The deployer
	// account is prefunded in the genesis block.
	DeployerTransactorGen evm.TransactorGenerator
	// Optional: bounded wait for receipts. Defaults to 10s since blocks are mined on submit.
	ConfirmTimeout time.Duration
	// Optional: defaults to a no-op logger.
	Logger logger.Logger
}

var _ chain.Provider = (*Provider)(nil)

// Provider manages a simulated network.
type Provider struct {
	selector uint64
	config   Config

	backend *simulated.Backend
	chain   *chain.Chain
}

// NewProvider returns a Provider for the chain selector. The selector is informational; the
// network always reports ChainID.
func NewProvider(selector uint64, config Config) *Provider {
	return &Provider{
		selector: selector,
		config:   config,
	}
}

// Initialize starts the simulated backend with a prefunded deployer account.
func (p *Provider) Initialize(ctx context.Context) (chain.Chain, error) {
	if p.chain != nil {
		return *p.chain, nil
	}

	lggr := p.config.Logger
	if lggr == nil {
		lggr = logger.Nop()
	}

	gen := p.config.DeployerTransactorGen
	if gen == nil {
		gen = evm.TransactorRandom()
	}
	deployerKey, err := gen.Generate(ctx, ChainID)
	if err != nil {
		return chain.Chain{}, fmt.Errorf("failed to generate deployer key: %w", err)
	}

	backend := simulated.NewBackend(types.GenesisAlloc{
		deployerKey.From: {Balance: prefundAmountWei},
	}, simulated.WithBlockGasLimit(BlockGasLimit))
	backend.Commit()

	client, err := evm.NewClient(ctx, backend.Client(), deployerKey,
		evm.WithLogger(lggr.Named("simulated")),
		evm.WithFallbackGasLimit(BlockGasLimit/2),
		evm.WithAfterSend(func() { backend.Commit() }),
	)
	if err != nil {
		return chain.Chain{}, errors.Join(err, backend.Close())
	}

	timeout := p.config.ConfirmTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	p.backend = backend
	p.chain = &chain.Chain{
		Selector: p.selector,
		From:     deployerKey.From,
		Client:   client,
		Confirmer: chain.NewConfirmer(client,
			chain.WithTickInterval(10*time.Millisecond),
			chain.WithTimeout(timeout),
		),
		Close: backend.Close,
	}

	return *p.chain, nil
}

// Backend returns the underlying simulated backend. Nil before Initialize.
func (p *Provider) Backend() *simulated.Backend {
	return p.backend
}

// Name returns the name of the Provider.
func (*Provider) Name() string {
	return "Simulated EVM Chain Provider"
}
