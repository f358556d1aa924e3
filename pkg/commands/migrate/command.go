// Package migrate provides the command running a deployment plan against a network.
package migrate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chainwire/migrator/deployer"
	"github.com/chainwire/migrator/migration"
	"github.com/chainwire/migrator/pkg/commands/flags"
	"github.com/chainwire/migrator/pkg/commands/text"
	"github.com/chainwire/migrator/pkg/logger"
	"github.com/chainwire/migrator/plan"
	"github.com/chainwire/migrator/reconcile"
)

var (
	migrateShort = "Deploy and wire the units of a plan"

	migrateLong = text.LongDesc(`
		Runs the steps of a deployment plan against one network, in ascending key order.

		Units whose current registry record matches their compiled artifact are reused, and
		relationships already holding their desired value are left alone, so running the same
		plan twice sends no transactions the second time. A failed run stops at the failing step
		and is resumed by running the plan again.

		--overwrite forces redeployment of every unit, --overwrite=false reuses matching records
		even on ephemeral networks. The flag takes precedence over the overwrite setting of each
		deploy in the plan. Without the flag the plan's settings and then the network's overwrite
		policy apply.
	`)

	migrateExample = text.Examples(`
		# Deploy the plan to the local network
		migrator migrate -n local --plan deploy/plan.yaml --artifacts out

		# Redeploy everything on a testnet, keeping the registry in a custom directory
		migrator migrate -n sepolia --plan deploy/plan.toml --artifacts build/contracts --registry deployments --overwrite
	`)
)

// Config holds the configuration for the migrate command.
type Config struct {
	// Logger is the logger of the run. Required.
	Logger logger.Logger

	// Deps holds optional dependencies that can be overridden.
	// If fields are nil, production defaults are used.
	Deps Deps
}

// Validate checks that all required configuration fields are set.
func (c Config) Validate() error {
	var missing []string

	if c.Logger == nil {
		missing = append(missing, "Logger")
	}

	if len(missing) > 0 {
		return errors.New("migrate.Config: missing required fields: " + strings.Join(missing, ", "))
	}

	return nil
}

// deps returns the Deps with defaults applied.
func (c *Config) deps() *Deps {
	c.Deps.applyDefaults()

	return &c.Deps
}

type migrateFlags struct {
	network      string
	plan         string
	artifacts    string
	registryDir  string
	reportsDir   string
	overwrite    bool
	overwriteSet bool
	manifests    []string
	envFile      string
}

// NewCommand creates the migrate command.
func NewCommand(cfg Config) (*cobra.Command, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg.deps()

	cmd := &cobra.Command{
		Use:     "migrate",
		Short:   migrateShort,
		Long:    migrateLong,
		Example: migrateExample,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f := migrateFlags{
				network:      flags.MustString(cmd.Flags().GetString("network")),
				plan:         flags.MustString(cmd.Flags().GetString("plan")),
				artifacts:    flags.MustString(cmd.Flags().GetString("artifacts")),
				registryDir:  flags.MustString(cmd.Flags().GetString("registry")),
				reportsDir:   flags.MustString(cmd.Flags().GetString("reports")),
				overwrite:    flags.MustBool(cmd.Flags().GetBool("overwrite")),
				overwriteSet: cmd.Flags().Changed("overwrite"),
				manifests:    flags.MustStringSlice(cmd.Flags().GetStringSlice("networks")),
				envFile:      flags.MustString(cmd.Flags().GetString("env-file")),
			}

			return runMigrate(cmd, cfg, f)
		},
	}

	// Shared flags
	flags.Network(cmd)
	flags.Registry(cmd)
	flags.Manifests(cmd)
	flags.EnvFile(cmd)

	// Local flags specific to this command
	cmd.Flags().String("plan", "", "Deployment plan, .yaml or .toml (required)")
	cmd.Flags().String("artifacts", "", "Directory of compiled artifacts (required)")
	cmd.Flags().Bool("overwrite", false, "Redeploy units even when their current record matches")
	cmd.Flags().String("reports", "", "Directory of run reports, overrides the env config")
	_ = cmd.MarkFlagRequired("plan")
	_ = cmd.MarkFlagRequired("artifacts")

	return cmd, nil
}

// runMigrate executes the migrate command logic.
func runMigrate(cmd *cobra.Command, cfg Config, f migrateFlags) (err error) {
	ctx := cmd.Context()
	deps := cfg.deps()
	lggr := cfg.Logger

	c, err := deps.ConfigLoader(f.manifests, f.envFile)
	if err != nil {
		return err
	}

	nctx, err := c.Resolve(f.network)
	if err != nil {
		return err
	}
	network := nctx.Environment.Name

	catalog, err := deps.CatalogLoader(f.artifacts)
	if err != nil {
		return fmt.Errorf("failed to load artifacts from %s: %w", f.artifacts, err)
	}

	p, err := plan.Load(f.plan)
	if err != nil {
		return err
	}
	steps, err := p.Compile(catalog)
	if err != nil {
		return fmt.Errorf("plan %s: %w", f.plan, err)
	}

	regCfg := c.Env.Registry
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

	ch, err := deps.Connector(ctx, nctx, lggr)
	if err != nil {
		return err
	}
	if ch.Close != nil {
		defer func() {
			err = errors.Join(err, ch.Close())
		}()
	}

	lggr.Infow("Migrating", "network", network, "policy", nctx.Policy, "signer", nctx.Signer, "steps", len(steps))

	run := c.Env.Run
	retry := migration.DefaultRetryPolicy()
	retry.MaxAttempts = run.MaxAttempts
	if run.InitialBackoff > 0 {
		retry.InitialDelay = run.InitialBackoff
	}

	opts := []migration.Option{
		migration.WithRetryPolicy(retry),
		migration.WithConcurrency(run.Concurrency),
	}
	if f.overwriteSet {
		opts = append(opts, migration.WithOverwrite(f.overwrite))
	}

	s := migration.New(
		deployer.New(ch, reg, network, nctx.Policy, lggr),
		reconcile.New(ch, reg, catalog, network, lggr),
		catalog,
		reg,
		network,
		lggr,
		opts...,
	)

	report, runErr := s.Run(ctx, steps)
	if report == nil {
		return runErr
	}

	reportsDir := run.ReportsDir
	if f.reportsDir != "" {
		reportsDir = f.reportsDir
	}
	if reportsDir != "" {
		path, saveErr := migration.SaveReport(reportsDir, report)
		if saveErr != nil {
			return errors.Join(runErr, saveErr)
		}
		cmd.Printf("Report written to %s\n", path)
	}

	if runErr != nil {
		return runErr
	}

	for _, rr := range report.SkippedRelationships() {
		cmd.Printf("⚠️  Skipped best-effort relationship %s: %s\n", rr.Name, rr.Err)
	}
	cmd.Printf("✅ Run %s completed on %s: %d deployed, %d reconciled, %d transactions\n",
		report.ID, network, report.Deployments(), report.Reconciliations(), report.Transactions(),
	)

	return nil
}
