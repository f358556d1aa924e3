package migrate

import (
	"context"

	"github.com/chainwire/migrator/artifact"
	"github.com/chainwire/migrator/chain"
	"github.com/chainwire/migrator/config"
	"github.com/chainwire/migrator/pkg/logger"
	"github.com/chainwire/migrator/registry"
)

// ConfigLoaderFunc loads the environments manifests and the env config file.
type ConfigLoaderFunc func(manifestPaths []string, envFile string) (*config.Config, error)

// CatalogLoaderFunc loads the compiled artifacts of a build directory.
type CatalogLoaderFunc func(dir string) (*artifact.Catalog, error)

// RegistryOpenerFunc opens the registry. The returned close function must not be nil.
type RegistryOpenerFunc func(ctx context.Context, dsn, dir string) (registry.Registry, func() error, error)

// ConnectorFunc initializes the chain of the resolved network context.
type ConnectorFunc func(ctx context.Context, nctx *config.Context, lggr logger.Logger) (chain.Chain, error)

func defaultConnector(ctx context.Context, nctx *config.Context, lggr logger.Logger) (chain.Chain, error) {
	return nctx.Connect(ctx, lggr)
}

// Deps holds the injectable dependencies of the migrate command.
// All fields are optional; nil values will use production defaults.
type Deps struct {
	// ConfigLoader loads the configuration.
	// Default: config.Load
	ConfigLoader ConfigLoaderFunc

	// CatalogLoader loads the artifacts.
	// Default: artifact.LoadDir
	CatalogLoader CatalogLoaderFunc

	// RegistryOpener opens the registry.
	// Default: registry.Open
	RegistryOpener RegistryOpenerFunc

	// Connector initializes the chain.
	// Default: (*config.Context).Connect
	Connector ConnectorFunc
}

// applyDefaults fills in nil dependencies with production defaults.
func (d *Deps) applyDefaults() {
	if d.ConfigLoader == nil {
		d.ConfigLoader = config.Load
	}
	if d.CatalogLoader == nil {
		d.CatalogLoader = artifact.LoadDir
	}
	if d.RegistryOpener == nil {
		d.RegistryOpener = registry.Open
	}
	if d.Connector == nil {
		d.Connector = defaultConnector
	}
}
