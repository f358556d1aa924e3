// Package config resolves the active network context of a run: the environment selected by name
// from the manifest, its overwrite policy and the deployer signer taken from the secrets.
package config

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chainwire/migrator/chain"
	"github.com/chainwire/migrator/chain/anvil"
	"github.com/chainwire/migrator/chain/evm"
	"github.com/chainwire/migrator/chain/simulated"
	config_env "github.com/chainwire/migrator/config/env"
	config_network "github.com/chainwire/migrator/config/network"
	"github.com/chainwire/migrator/deployment"
	"github.com/chainwire/migrator/pkg/logger"
)

// SignerSource names where the deployer key comes from.
type SignerSource string

const (
	SignerKMS     SignerSource = "kms"
	SignerRaw     SignerSource = "raw"
	SignerDefault SignerSource = "launcher-default"
)

// Config aggregates the environments manifest and the secrets.
type Config struct {
	Networks *config_network.Config
	Env      *config_env.Config
}

// Load loads the manifests and the env config file.
func Load(manifestPaths []string, envFile string) (*Config, error) {
	networks, err := config_network.Load(manifestPaths)
	if err != nil {
		return nil, fmt.Errorf("failed to load networks: %w", err)
	}

	envCfg, err := config_env.Load(envFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load env config: %w", err)
	}
	if err = envCfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid env config: %w", err)
	}

	return &Config{
		Networks: networks,
		Env:      envCfg,
	}, nil
}

// Context is the active network context of a run. It is fixed for the run's duration.
type Context struct {
	Environment config_network.Environment
	Policy      deployment.OverwritePolicy
	Signer      SignerSource

	secrets *config_env.Config
}

// Resolve selects the environment called name. Unknown names fail with the list of known
// environments.
func (c *Config) Resolve(name string) (*Context, error) {
	return Resolve(name, c.Networks, c.Env)
}

// Resolve selects the environment called name from manifest and picks the deployer signer from
// secrets. KMS wins over a raw key. Local launchers fall back to their own prefunded key.
func Resolve(name string, manifest *config_network.Config, secrets *config_env.Config) (*Context, error) {
	if manifest == nil {
		return nil, errors.New("environments manifest is required")
	}
	if secrets == nil {
		secrets = &config_env.Config{}
	}

	env, err := manifest.EnvironmentByName(name)
	if err != nil {
		return nil, err
	}

	var source SignerSource
	switch {
	case secrets.Deployer.KMS.IsSet():
		source = SignerKMS
	case strings.TrimSpace(secrets.Deployer.Key) != "":
		source = SignerRaw
	case env.LauncherOrDefault().Local():
		source = SignerDefault
	default:
		return nil, fmt.Errorf("environment %q: no deployer key configured, set MIGRATOR_DEPLOYER_KEY or MIGRATOR_KMS_KEY_ID", name)
	}

	return &Context{
		Environment: env,
		Policy:      env.Policy(),
		Signer:      source,
		secrets:     secrets,
	}, nil
}

// TransactorGenerator returns the deployer key generator of the context. It is nil for
// SignerDefault, leaving the choice to the launcher.
func (c *Context) TransactorGenerator() (evm.TransactorGenerator, error) {
	switch c.Signer {
	case SignerKMS:
		kms := c.secrets.Deployer.KMS
		return evm.TransactorFromKMS(kms.KeyID, kms.KeyRegion, kms.AWSProfile)
	case SignerRaw:
		return evm.TransactorFromRaw(c.secrets.Deployer.Key), nil
	default:
		return nil, nil
	}
}

// Provider returns the chain provider for the environment's launcher.
func (c *Context) Provider(lggr logger.Logger) (chain.Provider, error) {
	gen, err := c.TransactorGenerator()
	if err != nil {
		return nil, err
	}

	env := c.Environment
	switch env.LauncherOrDefault() {
	case config_network.LauncherSimulated:
		return simulated.NewProvider(env.ChainSelector, simulated.Config{
			DeployerTransactorGen: gen,
			ConfirmTimeout:        env.ConfirmTimeout,
			Logger:                lggr,
		}), nil
	case config_network.LauncherAnvil:
		chainID, err := evm.ChainIDFromSelector(env.ChainSelector)
		if err != nil {
			return nil, err
		}

		return anvil.NewProvider(env.ChainSelector, anvil.Config{
			ChainID:               chainID.Uint64(),
			DeployerTransactorGen: gen,
			ConfirmTimeout:        env.ConfirmTimeout,
			Logger:                lggr,
		}), nil
	default:
		return evm.NewRPCProvider(env.ChainSelector, evm.RPCProviderConfig{
			DeployerTransactorGen: gen,
			URLs:                  env.Endpoints(),
			ConfirmTimeout:        env.ConfirmTimeout,
			ConfirmTick:           env.ConfirmTick,
			Logger:                lggr,
		}), nil
	}
}

// Connect initializes the chain of the environment. When the environment declares a default
// account the deployer key must control it.
func (c *Context) Connect(ctx context.Context, lggr logger.Logger) (chain.Chain, error) {
	p, err := c.Provider(lggr)
	if err != nil {
		return chain.Chain{}, err
	}

	ch, err := p.Initialize(ctx)
	if err != nil {
		return chain.Chain{}, fmt.Errorf("failed to initialize %s: %w", p.Name(), err)
	}

	if acct := c.Environment.DefaultAccount; acct != "" && common.HexToAddress(acct) != ch.From {
		var closeErr error
		if ch.Close != nil {
			closeErr = ch.Close()
		}

		return chain.Chain{}, errors.Join(
			fmt.Errorf("environment %q expects account %s, deployer key controls %s",
				c.Environment.Name, acct, ch.From.Hex(),
			),
			closeErr,
		)
	}

	return ch, nil
}
