// Package env loads the secrets and run settings of the migrator from an optional YAML file,
// overridden by environment variables.
package env

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"time"

	"github.com/spf13/viper"
)

// KMSConfig is the configuration of an AWS KMS deployer key.
//
// WARNING: This data type contains sensitive fields and should not be logged or set in file
// configuration.
type KMSConfig struct {
	KeyID      string `mapstructure:"key_id" yaml:"key_id"`           // Secret: AWS KMS Key ID
	KeyRegion  string `mapstructure:"key_region" yaml:"key_region"`   // Secret: AWS KMS Key Region (e.g. us-west-1)
	AWSProfile string `mapstructure:"aws_profile" yaml:"aws_profile"` // AWS profile, empty uses the environment credentials
}

// IsSet reports whether a KMS key is configured.
func (c KMSConfig) IsSet() bool {
	return c.KeyID != "" && c.KeyRegion != ""
}

// DeployerConfig configures the account transactions are sent from.
//
// WARNING: This data type contains sensitive fields and should not be logged or set in file
// configuration.
type DeployerConfig struct {
	Key string    `mapstructure:"key" yaml:"key"` // Secret: hex private key. Prefer KMS keys instead.
	KMS KMSConfig `mapstructure:"kms" yaml:"kms"`
}

// RegistryConfig selects the registry backend. A DSN selects the SQL registry, otherwise the
// JSON file registry in Dir is used.
type RegistryConfig struct {
	DSN string `mapstructure:"dsn" yaml:"dsn"` // Secret: postgres connection string
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// RunConfig tunes the scheduler.
type RunConfig struct {
	MaxAttempts    uint          `mapstructure:"max_attempts" yaml:"max_attempts"`
	Concurrency    int           `mapstructure:"concurrency" yaml:"concurrency"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff" yaml:"initial_backoff"`
	ReportsDir     string        `mapstructure:"reports_dir" yaml:"reports_dir"`
}

// LogConfig configures the runtime logger.
type LogConfig struct {
	Level    string `mapstructure:"level" yaml:"level"`
	Encoding string `mapstructure:"encoding" yaml:"encoding"`
}

// Config wraps the entire environment configuration of the migrator.
type Config struct {
	Deployer DeployerConfig `mapstructure:"deployer" yaml:"deployer"`
	Registry RegistryConfig `mapstructure:"registry" yaml:"registry"`
	Run      RunConfig      `mapstructure:"run" yaml:"run"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
}

// Validate checks the settings that have no usable zero value.
func (c *Config) Validate() error {
	if c.Run.MaxAttempts == 0 {
		return errors.New("run.max_attempts must be at least 1")
	}
	if c.Run.Concurrency < 1 {
		return errors.New("run.concurrency must be at least 1")
	}
	if c.Deployer.KMS.KeyID != "" && c.Deployer.KMS.KeyRegion == "" {
		return errors.New("deployer.kms.key_region is required with deployer.kms.key_id")
	}

	return nil
}

// Load loads the config from the file path, falling back to env vars if the file does not exist.
// If the file exists, any env vars that are set override the values loaded from the file.
func Load(filePath string) (*Config, error) {
	v := newViper()
	if err := bindEnvs(v); err != nil {
		return nil, err
	}

	if filePath != "" {
		v.SetConfigFile(filePath)
		if _, err := os.Stat(filePath); !errors.Is(err, fs.ErrNotExist) {
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config %s: %w", filePath, err)
			}
		}
	}

	return unmarshal(v)
}

// LoadEnv loads the config from the environment variables only.
func LoadEnv() (*Config, error) {
	return Load("")
}

// LoadFile loads the config from a file, ignoring the environment.
func LoadFile(filePath string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(filePath)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", filePath, err)
	}

	return unmarshal(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("registry.dir", ".migrator/registry")
	v.SetDefault("run.max_attempts", 3)
	v.SetDefault("run.concurrency", 4)
	v.SetDefault("run.initial_backoff", "1s")
	v.SetDefault("run.reports_dir", ".migrator/reports")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")

	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// envBindings maps config keys to the environment variables providing them. The first name is
// preferred; later names are legacy aliases kept for existing pipelines.
var envBindings = map[string][]string{
	"deployer.key":             {"MIGRATOR_DEPLOYER_KEY", "DEPLOYER_PRIVATE_KEY"},
	"deployer.kms.key_id":      {"MIGRATOR_KMS_KEY_ID", "KMS_DEPLOYER_KEY_ID"},
	"deployer.kms.key_region":  {"MIGRATOR_KMS_KEY_REGION", "KMS_DEPLOYER_KEY_REGION"},
	"deployer.kms.aws_profile": {"MIGRATOR_AWS_PROFILE"},
	"registry.dsn":             {"MIGRATOR_REGISTRY_DSN", "REGISTRY_DATABASE_URL"},
	"registry.dir":             {"MIGRATOR_REGISTRY_DIR"},
	"run.max_attempts":         {"MIGRATOR_MAX_ATTEMPTS"},
	"run.concurrency":          {"MIGRATOR_CONCURRENCY"},
	"run.initial_backoff":      {"MIGRATOR_INITIAL_BACKOFF"},
	"run.reports_dir":          {"MIGRATOR_REPORTS_DIR"},
	"log.level":                {"MIGRATOR_LOG_LEVEL"},
	"log.encoding":             {"MIGRATOR_LOG_ENCODING"},
}

// bindEnvs binds the environment variables to the viper instance.
func bindEnvs(v *viper.Viper) error {
	for key, envs := range envBindings {
		inputs := slices.Insert(slices.Clone(envs), 0, key)

		if err := v.BindEnv(inputs...); err != nil {
			return err
		}
	}

	return nil
}
