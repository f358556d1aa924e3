// Package commands assembles the migrator CLI commands.
//
// There are two ways to use commands from this package:
//
// 1. Via the Commands factory (recommended for most use cases):
//
//	cmds := commands.New(lggr)
//	root.AddCommand(cmds.Migrate(), cmds.Registry(), cmds.Networks())
//
// 2. Via direct package imports, to inject dependencies in tests:
//
//	import "github.com/chainwire/migrator/pkg/commands/migrate"
//
//	cmd, err := migrate.NewCommand(migrate.Config{
//	    Logger: lggr,
//	    Deps:   migrate.Deps{Connector: myConnector},
//	})
package commands

import (
	"github.com/spf13/cobra"

	"github.com/chainwire/migrator/pkg/commands/migrate"
	"github.com/chainwire/migrator/pkg/commands/networks"
	"github.com/chainwire/migrator/pkg/commands/records"
	"github.com/chainwire/migrator/pkg/logger"
)

// Commands provides a factory for creating CLI commands with shared configuration.
// This allows setting the logger once and reusing it across all commands.
type Commands struct {
	lggr logger.Logger
}

// New creates a new Commands factory with the given logger.
func New(lggr logger.Logger) *Commands {
	return &Commands{lggr: lggr}
}

// Migrate creates the migrate command.
func (c *Commands) Migrate() (*cobra.Command, error) {
	return migrate.NewCommand(migrate.Config{Logger: c.lggr})
}

// Registry creates the registry command group.
func (c *Commands) Registry() (*cobra.Command, error) {
	return records.NewCommand(records.Config{Logger: c.lggr})
}

// Networks creates the networks command group.
func (c *Commands) Networks() (*cobra.Command, error) {
	return networks.NewCommand(networks.Config{Logger: c.lggr})
}

// All creates every command of the CLI.
func (c *Commands) All() ([]*cobra.Command, error) {
	var cmds []*cobra.Command
	for _, build := range []func() (*cobra.Command, error){c.Migrate, c.Registry, c.Networks} {
		cmd, err := build()
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, cmd)
	}

	return cmds, nil
}
