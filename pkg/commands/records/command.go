// Package records provides the commands inspecting the deployment registry.
package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/chainwire/migrator/pkg/commands/flags"
	"github.com/chainwire/migrator/pkg/commands/text"
	"github.com/chainwire/migrator/pkg/logger"
	"github.com/chainwire/migrator/registry"
)

var (
	registryShort = "Inspect deployment records"

	registryLong = text.LongDesc(`
		Commands reading the deployment registry.

		The registry holds one current record per unit and network, plus every record it
		superseded. Records are only read, never changed, by these commands.
	`)

	listExample = text.Examples(`
		# List the current records of the local network
		migrator registry list -n local

		# As JSON, from a postgres registry configured in the env file
		migrator registry list -n sepolia -o json --env-file .migrator.yaml
	`)

	historyExample = text.Examples(`
		# Show every deployment of the Vault unit on sepolia, oldest first
		migrator registry history Vault -n sepolia
	`)
)

// Config holds the configuration for the registry commands.
type Config struct {
	// Logger is the logger to use for command output. Required.
	Logger logger.Logger

	// Deps holds optional dependencies that can be overridden.
	// If fields are nil, production defaults are used.
	Deps Deps
}

// Validate checks that all required configuration fields are set.
func (c Config) Validate() error {
	if c.Logger == nil {
		return errors.New("records.Config: missing required fields: Logger")
	}

	return nil
}

// deps returns the Deps with defaults applied.
func (c *Config) deps() *Deps {
	c.Deps.applyDefaults()

	return &c.Deps
}

// NewCommand creates the registry command with its subcommands.
func NewCommand(cfg Config) (*cobra.Command, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg.deps()

	cmd := &cobra.Command{
		Use:   "registry",
		Short: registryShort,
		Long:  registryLong,
	}
	flags.EnvFile(cmd)

	cmd.AddCommand(newListCmd(cfg))
	cmd.AddCommand(newHistoryCmd(cfg))

	return cmd, nil
}

type readFlags struct {
	network     string
	registryDir string
	output      string
	envFile     string
}

func readFlagsOf(cmd *cobra.Command) readFlags {
	return readFlags{
		network:     flags.MustString(cmd.Flags().GetString("network")),
		registryDir: flags.MustString(cmd.Flags().GetString("registry")),
		output:      flags.MustString(cmd.Flags().GetString("output")),
		envFile:     flags.MustString(cmd.Flags().GetString("env-file")),
	}
}

func addReadFlags(cmd *cobra.Command) {
	flags.Network(cmd)
	flags.Registry(cmd)
	flags.Output(cmd)
}

func newListCmd(cfg Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list",
		Short:   "List the current records of a network",
		Example: listExample,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f := readFlagsOf(cmd)

			return withRegistry(cmd.Context(), cfg, f, func(reg registry.Registry) error {
				recs, err := reg.Records(cmd.Context(), f.network)
				if err != nil {
					return fmt.Errorf("failed to list records of %s: %w", f.network, err)
				}
				if len(recs) == 0 && f.output != "json" {
					cmd.Printf("No units deployed on %s\n", f.network)
					return nil
				}

				return write(cmd.OutOrStdout(), f.output, recs, false)
			})
		},
	}
	addReadFlags(cmd)

	return cmd
}

func newHistoryCmd(cfg Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "history <unit>",
		Short:   "Show every record of a unit, oldest first",
		Example: historyExample,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := readFlagsOf(cmd)
			unit := args[0]

			return withRegistry(cmd.Context(), cfg, f, func(reg registry.Registry) error {
				recs, err := reg.History(cmd.Context(), unit, f.network)
				if err != nil {
					return fmt.Errorf("failed to read history of %s on %s: %w", unit, f.network, err)
				}
				if len(recs) == 0 {
					return fmt.Errorf("unit %s was never deployed on %s", unit, f.network)
				}

				return write(cmd.OutOrStdout(), f.output, recs, true)
			})
		},
	}
	addReadFlags(cmd)

	return cmd
}

func withRegistry(ctx context.Context, cfg Config, f readFlags, fn func(registry.Registry) error) (err error) {
	deps := cfg.deps()

	envCfg, err := deps.EnvLoader(f.envFile)
	if err != nil {
		return err
	}

	regCfg := envCfg.Registry
	if f.registryDir != "" {
		regCfg.DSN = ""
		regCfg.Dir = f.registryDir
	}

	reg, closeRegistry, err := deps.RegistryOpener(ctx, regCfg.DSN, regCfg.Dir)
	if err != nil {
		return fmt.Errorf("failed to open registry: %w", err)
	}
	defer func() {
		err = errors.Join(err, closeRegistry())
	}()

	return fn(reg)
}

func write(w io.Writer, output string, recs []registry.Record, withStatus bool) error {
	switch output {
	case "json":
		b, err := json.MarshalIndent(recs, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(b))

		return err
	case "table", "":
		writeTable(w, recs, withStatus)
		return nil
	default:
		return fmt.Errorf("unknown output format %q, expected table or json", output)
	}
}

func writeTable(w io.Writer, recs []registry.Record, withStatus bool) {
	header := []string{"Unit", "Address", "Version", "Fingerprint", "Block", "Deployed"}
	if withStatus {
		header = append(header, "Status")
	}

	rows := make([][]string, 0, len(recs))
	for _, rec := range recs {
		row := []string{
			rec.Name,
			rec.Address.Hex(),
			rec.Version,
			shortHex(rec.Fingerprint.Hex()),
			strconv.FormatUint(rec.BlockNumber, 10),
			rec.Timestamp.UTC().Format(time.RFC3339),
		}
		if withStatus {
			status := "current"
			if rec.Retired() {
				status = "retired " + rec.RetiredAt.UTC().Format(time.RFC3339)
			}
			row = append(row, status)
		}
		rows = append(rows, row)
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetBorders(tablewriter.Border{Left: false, Right: false, Top: false, Bottom: false})
	table.AppendBulk(rows)
	table.Render()
}

func shortHex(s string) string {
	if len(s) <= 14 {
		return s
	}

	return s[:10] + "…" + s[len(s)-4:]
}
