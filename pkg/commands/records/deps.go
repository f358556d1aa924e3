package records

import (
	"context"
	"fmt"

	config_env "github.com/chainwire/migrator/config/env"
	"github.com/chainwire/migrator/registry"
)

// EnvLoaderFunc loads the env config file holding the registry settings.
type EnvLoaderFunc func(envFile string) (*config_env.Config, error)

// RegistryOpenerFunc opens the registry. The returned close function must not be nil.
type RegistryOpenerFunc func(ctx context.Context, dsn, dir string) (registry.Registry, func() error, error)

func defaultEnvLoader(envFile string) (*config_env.Config, error) {
	cfg, err := config_env.Load(envFile)
	if err != nil {
		return nil, err
	}
	if err = cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid env config: %w", err)
	}

	return cfg, nil
}

// Deps holds the injectable dependencies of the registry commands.
// All fields are optional; nil values will use production defaults.
type Deps struct {
	// EnvLoader loads the env config.
	// Default: env.Load
	EnvLoader EnvLoaderFunc

	// RegistryOpener opens the registry.
	// Default: registry.Open
	RegistryOpener RegistryOpenerFunc
}

// applyDefaults fills in nil dependencies with production defaults.
func (d *Deps) applyDefaults() {
	if d.EnvLoader == nil {
		d.EnvLoader = defaultEnvLoader
	}
	if d.RegistryOpener == nil {
		d.RegistryOpener = registry.Open
	}
}
