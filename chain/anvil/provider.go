// Package anvil launches a foundry anvil node in a container for ephemeral environments. The node
// is discarded when the chain is closed, so every launch starts from an empty state.
package anvil

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/chainwire/migrator/chain"
	"github.com/chainwire/migrator/chain/evm"
	"github.com/chainwire/migrator/pkg/logger"
)

const (
	// DefaultImage is the foundry image providing anvil.
	DefaultImage = "ghcr.io/foundry-rs/foundry:stable"
	// DefaultChainID is the chain ID anvil is started with, matching the geth testnet selector.
	DefaultChainID = 1337
	// DefaultDeployerKey is the first of anvil's prefunded development accounts.
	DefaultDeployerKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

	rpcPort = "8545/tcp"
)

// Config holds the configuration of an anvil container.
type Config struct {
	// Optional: defaults to DefaultImage.
	Image string
	// Optional: defaults to DefaultChainID. Must match the chain ID of the selector.
	ChainID uint64
	// Optional: defaults to TransactorFromRaw(DefaultDeployerKey).
	DeployerTransactorGen evm.TransactorGenerator
	// Optional: automatic block time. Zero mines on every transaction.
	BlockTime time.Duration
	// Optional: bounded wait for receipts.
	ConfirmTimeout time.Duration
	// Optional: StartupTimeout bounds waiting for the RPC port. Defaults to 1m.
	StartupTimeout time.Duration
	// Optional: defaults to a no-op logger.
	Logger logger.Logger
}

var _ chain.Provider = (*Provider)(nil)

// Provider starts an anvil container and connects an RPC provider to it.
type Provider struct {
	selector uint64
	config   Config

	container testcontainers.Container
	chain     *chain.Chain
}

// NewProvider returns a Provider for the chain selector.
func NewProvider(selector uint64, config Config) *Provider {
	return &Provider{
		selector: selector,
		config:   config,
	}
}

// Initialize starts the container and returns a chain connected to it. Close terminates the
// container.
func (p *Provider) Initialize(ctx context.Context) (chain.Chain, error) {
	if p.chain != nil {
		return *p.chain, nil
	}

	cfg := p.config.withDefaults()
	lggr := cfg.Logger.Named("anvil")

	req := testcontainers.ContainerRequest{
		Image:        cfg.Image,
		ExposedPorts: []string{rpcPort},
		Entrypoint:   []string{"anvil"},
		Cmd:          cfg.command(),
		WaitingFor:   wait.ForListeningPort(rpcPort).WithStartupTimeout(cfg.StartupTimeout),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return chain.Chain{}, fmt.Errorf("failed to start anvil container: %w", err)
	}

	endpoint, err := container.PortEndpoint(ctx, rpcPort, "http")
	if err != nil {
		return chain.Chain{}, errors.Join(
			fmt.Errorf("failed to get anvil endpoint: %w", err),
			container.Terminate(context.Background()),
		)
	}
	lggr.Infow("Started anvil", "endpoint", endpoint, "image", cfg.Image)

	rpc := evm.NewRPCProvider(p.selector, evm.RPCProviderConfig{
		DeployerTransactorGen: cfg.DeployerTransactorGen,
		URLs:                  []string{endpoint},
		ConfirmTimeout:        cfg.ConfirmTimeout,
		ConfirmTick:           100 * time.Millisecond,
		Logger:                cfg.Logger,
	})
	c, err := rpc.Initialize(ctx)
	if err != nil {
		return chain.Chain{}, errors.Join(err, container.Terminate(context.Background()))
	}

	closeRPC := c.Close
	c.Close = func() error {
		return errors.Join(closeRPC(), container.Terminate(context.Background()))
	}

	p.container = container
	p.chain = &c

	return c, nil
}

// Name returns the name of the Provider.
func (*Provider) Name() string {
	return "Anvil Container Chain Provider"
}

func (c Config) withDefaults() Config {
	if c.Image == "" {
		c.Image = DefaultImage
	}
	if c.ChainID == 0 {
		c.ChainID = DefaultChainID
	}
	if c.DeployerTransactorGen == nil {
		c.DeployerTransactorGen = evm.TransactorFromRaw(DefaultDeployerKey)
	}
	if c.StartupTimeout == 0 {
		c.StartupTimeout = time.Minute
	}
	if c.Logger == nil {
		c.Logger = logger.Nop()
	}

	return c
}

func (c Config) command() []string {
	cmd := []string{"--host", "0.0.0.0", "--chain-id", fmt.Sprintf("%d", c.ChainID)}
	if c.BlockTime > 0 {
		cmd = append(cmd, "--block-time", fmt.Sprintf("%d", int(c.BlockTime.Seconds())))
	}

	return cmd
}
