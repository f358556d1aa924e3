package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	config_env "github.com/chainwire/migrator/config/env"
	"github.com/chainwire/migrator/pkg/commands"
	"github.com/chainwire/migrator/pkg/commands/flags"
	"github.com/chainwire/migrator/pkg/commands/text"
	"github.com/chainwire/migrator/pkg/logger"
)

var rootLong = text.LongDesc(`
	migrator deploys the units of a deployment plan to a network, reusing the deployments recorded
	in its registry, and reconciles the references between units with the fewest transactions.

	Logging is configured by the log section of .migrator.yaml and the MIGRATOR_LOG_LEVEL and
	MIGRATOR_LOG_ENCODING environment variables.
`)

// newLogger builds the runtime logger from the default env file and the environment.
func newLogger() (logger.Logger, error) {
	cfg, err := config_env.Load(flags.DefaultEnvFile)
	if err != nil {
		return nil, err
	}

	level, err := zapcore.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	return logger.Config{Level: level, Encoding: cfg.Log.Encoding}.New()
}

func newRootCmd(lggr logger.Logger) (*cobra.Command, error) {
	root := &cobra.Command{
		Use:           "migrator",
		Short:         "Idempotent deployment of on-chain units",
		Long:          rootLong,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmds, err := commands.New(lggr).All()
	if err != nil {
		return nil, err
	}
	root.AddCommand(cmds...)

	return root, nil
}
