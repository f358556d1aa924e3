package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	chainsel "github.com/smartcontractkit/chain-selectors"

	"github.com/chainwire/migrator/chain"
	"github.com/chainwire/migrator/pkg/logger"
)

// RPCProviderConfig holds the configuration to initialize the RPCProvider.
type RPCProviderConfig struct {
	// Required: A generator for the deployer key. Use TransactorFromRaw for a private key or
	// TransactorFromKMS for a KMS key.
	DeployerTransactorGen TransactorGenerator
	// Required: RPC URLs tried in order until one answers.
	URLs []string
	// Optional: bounded wait for receipts. Defaults to chain.DefaultConfirmTimeout.
	ConfirmTimeout time.Duration
	// Optional: receipt polling interval. Defaults to chain.DefaultConfirmTick.
	ConfirmTick time.Duration
	// Optional: DialTimeout bounds each dial attempt. Defaults to 10s.
	DialTimeout time.Duration
	// Optional: Logger defaults to a production logger.
	Logger logger.Logger
}

func (c RPCProviderConfig) validate() error {
	if c.DeployerTransactorGen == nil {
		return errors.New("deployer transactor generator is required")
	}
	if len(c.URLs) == 0 {
		return errors.New("at least one RPC is required")
	}

	return nil
}

var _ chain.Provider = (*RPCProvider)(nil)

// RPCProvider provides a chain connected to an EVM node over JSON-RPC.
type RPCProvider struct {
	selector uint64
	config   RPCProviderConfig

	chain *chain.Chain
}

// NewRPCProvider returns an RPCProvider for the chain selector.
func NewRPCProvider(selector uint64, config RPCProviderConfig) *RPCProvider {
	return &RPCProvider{
		selector: selector,
		config:   config,
	}
}

// Initialize dials the first reachable RPC, checks its chain ID against the selector and returns
// the chain.
func (p *RPCProvider) Initialize(ctx context.Context) (chain.Chain, error) {
	if p.chain != nil {
		return *p.chain, nil
	}

	if p.config.Logger == nil {
		lggr, err := logger.New()
		if err != nil {
			return chain.Chain{}, fmt.Errorf("failed to create default logger: %w", err)
		}
		p.config.Logger = lggr
	}
	lggr := p.config.Logger.Named("evm")

	if err := p.config.validate(); err != nil {
		return chain.Chain{}, fmt.Errorf("failed to validate provider config: %w", err)
	}

	chainID, err := ChainIDFromSelector(p.selector)
	if err != nil {
		return chain.Chain{}, err
	}

	deployerKey, err := p.config.DeployerTransactorGen.Generate(ctx, chainID)
	if err != nil {
		return chain.Chain{}, fmt.Errorf("failed to generate deployer key: %w", err)
	}

	ec, err := p.dial(ctx, lggr)
	if err != nil {
		return chain.Chain{}, err
	}

	client, err := NewClient(ctx, ec, deployerKey, WithLogger(lggr))
	if err != nil {
		ec.Close()
		return chain.Chain{}, err
	}
	if client.ChainID().Cmp(chainID) != 0 {
		ec.Close()
		return chain.Chain{}, fmt.Errorf("RPC reports chain ID %s, selector %d expects %s",
			client.ChainID(), p.selector, chainID,
		)
	}

	var confirmOpts []chain.ConfirmerOption
	if p.config.ConfirmTimeout > 0 {
		confirmOpts = append(confirmOpts, chain.WithTimeout(p.config.ConfirmTimeout))
	}
	if p.config.ConfirmTick > 0 {
		confirmOpts = append(confirmOpts, chain.WithTickInterval(p.config.ConfirmTick))
	}

	p.chain = &chain.Chain{
		Selector:  p.selector,
		From:      deployerKey.From,
		Client:    client,
		Confirmer: chain.NewConfirmer(client, confirmOpts...),
		Close: func() error {
			ec.Close()
			return nil
		},
	}

	return *p.chain, nil
}

func (p *RPCProvider) dial(ctx context.Context, lggr logger.Logger) (*ethclient.Client, error) {
	timeout := p.config.DialTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	var errs error
	for _, url := range p.config.URLs {
		dialCtx, cancel := context.WithTimeout(ctx, timeout)
		ec, err := ethclient.DialContext(dialCtx, url)
		if err == nil {
			// DialContext is lazy for HTTP, make sure the endpoint answers.
			_, err = ec.ChainID(dialCtx)
			if err != nil {
				ec.Close()
			}
		}
		cancel()

		if err == nil {
			return ec, nil
		}

		lggr.Warnw("RPC unavailable, trying next", "url", url, "err", err)
		errs = errors.Join(errs, fmt.Errorf("%s: %w", url, err))
	}

	return nil, fmt.Errorf("no RPC reachable for selector %d: %w", p.selector, errs)
}

// Name returns the name of the RPCProvider.
func (*RPCProvider) Name() string {
	return "EVM RPC Chain Provider"
}

// ChainIDFromSelector resolves the EVM chain ID of a chain-selectors selector.
func ChainIDFromSelector(selector uint64) (*big.Int, error) {
	family, err := chainsel.GetSelectorFamily(selector)
	if err != nil {
		return nil, fmt.Errorf("failed to get family from selector %d: %w", selector, err)
	}
	if family != chainsel.FamilyEVM {
		return nil, fmt.Errorf("selector %d belongs to family %s, only %s is supported",
			selector, family, chainsel.FamilyEVM,
		)
	}

	chainIDStr, err := chainsel.GetChainIDFromSelector(selector)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain ID from selector %d: %w", selector, err)
	}

	chainID, ok := new(big.Int).SetString(chainIDStr, 10)
	if !ok {
		return nil, fmt.Errorf("failed to convert chain ID %s to big.Int", chainIDStr)
	}

	return chainID, nil
}
