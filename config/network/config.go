package network

import (
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/chainwire/migrator/deployment"
)

// Manifest is the YAML representation of the environments manifest.
type Manifest struct {
	Environments []Environment `yaml:"environments"`
}

// Config is a collection of environments keyed by name, loaded from one or more manifests.
type Config struct {
	environments map[string]Environment
}

// NewConfig creates a new config from a slice of environments. Later entries with the same name
// overwrite earlier ones.
func NewConfig(envs []Environment) *Config {
	emap := make(map[string]Environment, len(envs))
	for _, env := range envs {
		emap[env.Name] = env
	}

	return &Config{
		environments: emap,
	}
}

// Validate ensures that all environments are valid.
func (c *Config) Validate() error {
	for _, env := range c.Environments() {
		if err := env.Validate(); err != nil {
			return fmt.Errorf("environment %q: %w", env.Name, err)
		}
	}

	return nil
}

// Environments returns all environments sorted by name.
func (c *Config) Environments() []Environment {
	envs := slices.Collect(maps.Values(c.environments))
	slices.SortFunc(envs, func(a, b Environment) int {
		return strings.Compare(a.Name, b.Name)
	})

	return envs
}

// Names returns the sorted environment names.
func (c *Config) Names() []string {
	return slices.Sorted(maps.Keys(c.environments))
}

// EnvironmentByName retrieves an environment by its name.
func (c *Config) EnvironmentByName(name string) (Environment, error) {
	env, ok := c.environments[name]
	if !ok {
		return Environment{}, fmt.Errorf("environment %q not found in configuration, known environments: [%s]",
			name, strings.Join(c.Names(), ", "),
		)
	}

	return env, nil
}

// Merge merges another config into the current config, overwriting environments with the same
// name.
func (c *Config) Merge(other *Config) {
	maps.Copy(c.environments, other.environments)
}

// MarshalYAML implements the yaml.Marshaler interface.
func (c *Config) MarshalYAML() (any, error) {
	return Manifest{Environments: c.Environments()}, nil
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	node := Manifest{}
	if err := value.Decode(&node); err != nil {
		return err
	}

	*c = *NewConfig(node.Environments)

	return nil
}

// EnvironmentFilter reports whether an environment should be kept.
type EnvironmentFilter func(Environment) bool

// FilterWith returns a new Config containing only environments that pass all filters.
func (c *Config) FilterWith(filters ...EnvironmentFilter) *Config {
	envs := c.Environments()
	for _, filter := range filters {
		envs = slices.DeleteFunc(envs, func(env Environment) bool {
			return !filter(env)
		})
	}

	return NewConfig(envs)
}

// TypesFilter matches environments with one of the network types.
func TypesFilter(types ...deployment.NetworkType) EnvironmentFilter {
	return func(env Environment) bool {
		return slices.Contains(types, env.Type)
	}
}

// ChainSelectorFilter matches environments on the chain selector.
func ChainSelectorFilter(selector uint64) EnvironmentFilter {
	return func(env Environment) bool {
		return env.ChainSelector == selector
	}
}

// LauncherFilter matches environments with one of the launchers.
func LauncherFilter(launchers ...Launcher) EnvironmentFilter {
	return func(env Environment) bool {
		return slices.Contains(launchers, env.LauncherOrDefault())
	}
}

// URLTransformer is a function that transforms a URL, e.g. to inject an API key.
type URLTransformer func(string) string

// LoadOption defines a function which modifies the load configuration.
type LoadOption func(*loadConfig)

type loadConfig struct {
	HTTPURLTransformer URLTransformer
	WSURLTransformer   URLTransformer
}

// WithHTTPURLTransformer transforms the HTTP URLs of the RPCs after loading.
func WithHTTPURLTransformer(t URLTransformer) LoadOption {
	return func(opts *loadConfig) {
		opts.HTTPURLTransformer = t
	}
}

// WithWSURLTransformer transforms the websocket URLs of the RPCs after loading.
func WithWSURLTransformer(t URLTransformer) LoadOption {
	return func(opts *loadConfig) {
		opts.WSURLTransformer = t
	}
}

func (c *Config) transformURLs(httpFn, wsFn URLTransformer) {
	for name, env := range c.environments {
		rpcs := slices.Clone(env.RPCs)
		for i, rpc := range rpcs {
			if httpFn != nil {
				rpc.HTTPURL = httpFn(rpc.HTTPURL)
			}
			if wsFn != nil {
				rpc.WSURL = wsFn(rpc.WSURL)
			}
			rpcs[i] = rpc
		}
		env.RPCs = rpcs
		c.environments[name] = env
	}
}

// Load loads the manifests at filePaths, merges them in order and validates the result.
func Load(filePaths []string, opts ...LoadOption) (*Config, error) {
	cfg := NewConfig(nil)

	loadCfg := &loadConfig{}
	for _, opt := range opts {
		opt(loadCfg)
	}

	for _, fp := range filePaths {
		data, err := os.ReadFile(fp)
		if err != nil {
			return nil, fmt.Errorf("failed to read environments file: %w", err)
		}

		var fileCfg Config
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal environments YAML %s: %w", fp, err)
		}

		cfg.Merge(&fileCfg)
	}

	if loadCfg.HTTPURLTransformer != nil || loadCfg.WSURLTransformer != nil {
		cfg.transformURLs(loadCfg.HTTPURLTransformer, loadCfg.WSURLTransformer)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate environments configuration: %w", err)
	}

	return cfg, nil
}
