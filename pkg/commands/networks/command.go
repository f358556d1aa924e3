// Package networks provides the commands listing the environments of the manifests.
package networks

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	config_network "github.com/chainwire/migrator/config/network"
	"github.com/chainwire/migrator/pkg/commands/flags"
	"github.com/chainwire/migrator/pkg/logger"
)

// ManifestLoaderFunc loads and validates the environments manifests.
type ManifestLoaderFunc func(paths []string) (*config_network.Config, error)

func defaultManifestLoader(paths []string) (*config_network.Config, error) {
	return config_network.Load(paths)
}

// Deps holds the injectable dependencies of the networks commands.
type Deps struct {
	// ManifestLoader loads the manifests.
	// Default: network.Load
	ManifestLoader ManifestLoaderFunc
}

func (d *Deps) applyDefaults() {
	if d.ManifestLoader == nil {
		d.ManifestLoader = defaultManifestLoader
	}
}

// Config holds the configuration for the networks commands.
type Config struct {
	// Logger is the logger to use for command output. Required.
	Logger logger.Logger

	Deps Deps
}

// Validate checks that all required configuration fields are set.
func (c Config) Validate() error {
	if c.Logger == nil {
		return errors.New("networks.Config: missing required fields: Logger")
	}

	return nil
}

// NewCommand creates the networks command with its subcommands.
func NewCommand(cfg Config) (*cobra.Command, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg.Deps.applyDefaults()

	cmd := &cobra.Command{
		Use:   "networks",
		Short: "Inspect the configured environments",
	}
	flags.Manifests(cmd)

	cmd.AddCommand(newListCmd(cfg))

	return cmd, nil
}

func newListCmd(cfg Config) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the environments of the manifests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			paths := flags.MustStringSlice(cmd.Flags().GetStringSlice("networks"))

			manifest, err := cfg.Deps.ManifestLoader(paths)
			if err != nil {
				return err
			}

			envs := manifest.Environments()
			if len(envs) == 0 {
				cmd.Println("No environments configured")
				return nil
			}

			rows := make([][]string, 0, len(envs))
			for _, env := range envs {
				chainID, err := env.ChainID()
				if err != nil {
					return fmt.Errorf("environment %q: %w", env.Name, err)
				}
				rows = append(rows, []string{
					env.Name,
					string(env.Type),
					chainID,
					strconv.FormatUint(env.ChainSelector, 10),
					string(env.LauncherOrDefault()),
					string(env.Policy()),
				})
			}

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"Name", "Type", "Chain ID", "Selector", "Launcher", "Overwrite"})
			table.SetAutoFormatHeaders(false)
			table.SetAutoWrapText(false)
			table.SetBorders(tablewriter.Border{Left: false, Right: false, Top: false, Bottom: false})
			table.AppendBulk(rows)
			table.Render()

			return nil
		},
	}
}
