// Package flags provides the flags shared by migrator commands.
//
// Only flags used by more than one command belong here, so that their names and defaults stay
// the same across the CLI. Command specific flags are defined next to the command.
package flags

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const (
	// DefaultManifest is the environments manifest read when --networks is not set.
	DefaultManifest = "networks.yaml"
	// DefaultEnvFile is the secrets and run settings file read when --env-file is not set.
	DefaultEnvFile = ".migrator.yaml"
)

// MustString returns the string value, ignoring the error.
// Safe to use with registered flags where GetString cannot fail.
func MustString(s string, _ error) string { return s }

// MustBool returns the bool value, ignoring the error.
// Safe to use with registered flags where GetBool cannot fail.
func MustBool(b bool, _ error) bool { return b }

// MustStringSlice returns the slice value, ignoring the error.
func MustStringSlice(s []string, _ error) []string { return s }

// Network adds the required --network/-n flag selecting the environment of the run.
//
// Usage:
//
//	flags.Network(cmd)
//	// later in RunE:
//	network := flags.MustString(cmd.Flags().GetString("network"))
func Network(cmd *cobra.Command) {
	cmd.Flags().StringP("network", "n", "", "Target environment (required)")
	_ = cmd.MarkFlagRequired("network")
}

// Manifests adds the persistent --networks flag listing the environments manifests. Later
// manifests override environments of the same name.
func Manifests(cmd *cobra.Command) {
	cmd.PersistentFlags().StringSlice("networks", []string{DefaultManifest}, "Environments manifest files")
}

// EnvFile adds the persistent --env-file flag. A missing file is not an error: settings then
// come from MIGRATOR_* environment variables and defaults.
func EnvFile(cmd *cobra.Command) {
	cmd.PersistentFlags().String("env-file", DefaultEnvFile, "Secrets and run settings file")
}

// Registry adds the --registry flag overriding the directory of the file registry. The deprecated
// --registry-dir spelling is accepted silently.
//
// Usage:
//
//	flags.Registry(cmd)
//	// later in RunE:
//	dir := flags.MustString(cmd.Flags().GetString("registry"))
func Registry(cmd *cobra.Command) {
	cmd.Flags().String("registry", "", "Registry directory, overrides the env config")

	existingNormalize := cmd.Flags().GetNormalizeFunc()
	cmd.Flags().SetNormalizeFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		if name == "registry-dir" {
			return pflag.NormalizedName("registry")
		}
		if existingNormalize != nil {
			return existingNormalize(f, name)
		}

		return pflag.NormalizedName(name)
	})
}

// Output adds the --output/-o flag choosing between table and json output.
func Output(cmd *cobra.Command) {
	cmd.Flags().StringP("output", "o", "table", "Output format: table or json")
}
