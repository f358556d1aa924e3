package migrate

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainwire/migrator/artifact"
	"github.com/chainwire/migrator/chain"
	"github.com/chainwire/migrator/config"
	config_env "github.com/chainwire/migrator/config/env"
	config_network "github.com/chainwire/migrator/config/network"
	"github.com/chainwire/migrator/deployment"
	"github.com/chainwire/migrator/internal/testutils"
	"github.com/chainwire/migrator/pkg/logger"
	"github.com/chainwire/migrator/registry"
)

const testPlan = `
steps:
  - key: 1
    name: core
    deploy:
      - unit: MathLib
      - unit: Token
        args: ["0x00000000000000000000000000000000000000aa"]
        overwrite: false
      - unit: Vault
        args: ["@Token"]
  - key: 2
    name: wiring
    requires: [Vault]
    deploy:
      - unit: Registry
    relationships:
      - source: Registry
        field: vault
        setter: setVault
        target: Vault
      - source: Registry
        field: token
        setter: setToken
        target: Token
`

type testEnv struct {
	fake        *testutils.FakeChain
	registryDir string
	reportsDir  string
	planPath    string
	connects    int
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dir := t.TempDir()
	planPath := filepath.Join(dir, "plan.yaml")
	require.NoError(t, os.WriteFile(planPath, []byte(testPlan), 0o600))

	fake := testutils.NewFakeChain()
	fake.RegisterFixtures()

	return &testEnv{
		fake:        fake,
		registryDir: filepath.Join(dir, "registry"),
		reportsDir:  filepath.Join(dir, "reports"),
		planPath:    planPath,
	}
}

func (e *testEnv) deps() Deps {
	return Deps{
		ConfigLoader: func([]string, string) (*config.Config, error) {
			return &config.Config{
				Networks: config_network.NewConfig([]config_network.Environment{{
					Name:            "local",
					Type:            deployment.NetworkTypeEphemeral,
					ChainSelector:   testutils.DefaultSelector,
					Launcher:        config_network.LauncherSimulated,
					OverwritePolicy: deployment.OverwriteIfChanged,
				}}),
				Env: &config_env.Config{
					Registry: config_env.RegistryConfig{Dir: e.registryDir},
					Run: config_env.RunConfig{
						MaxAttempts:    3,
						Concurrency:    2,
						InitialBackoff: time.Millisecond,
						ReportsDir:     e.reportsDir,
					},
				},
			}, nil
		},
		CatalogLoader: func(string) (*artifact.Catalog, error) {
			return artifact.NewCatalog(testutils.Fixtures()...)
		},
		Connector: func(context.Context, *config.Context, logger.Logger) (chain.Chain, error) {
			e.connects++
			return e.fake.Chain(), nil
		},
	}
}

func (e *testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd, err := NewCommand(Config{Logger: logger.Test(t), Deps: e.deps()})
	require.NoError(t, err)

	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(append([]string{"-n", "local", "--plan", e.planPath, "--artifacts", "out"}, args...))
	cmd.SetContext(t.Context())

	return out.String(), cmd.Execute()
}

func (e *testEnv) reports(t *testing.T) []string {
	t.Helper()

	paths, err := filepath.Glob(filepath.Join(e.reportsDir, "*-local_run.json"))
	require.NoError(t, err)

	return paths
}

func TestNewCommand_Structure(t *testing.T) {
	t.Parallel()

	cmd, err := NewCommand(Config{Logger: logger.Nop()})
	require.NoError(t, err)

	assert.Equal(t, "migrate", cmd.Use)
	assert.Equal(t, migrateShort, cmd.Short)
	assert.NotEmpty(t, cmd.Long)
	assert.NotEmpty(t, cmd.Example)

	n := cmd.Flags().Lookup("network")
	require.NotNil(t, n)
	assert.Equal(t, "n", n.Shorthand)

	for _, name := range []string{"plan", "artifacts", "registry", "overwrite", "reports", "networks", "env-file"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), name)
	}
}

func TestNewCommand_RequiresLogger(t *testing.T) {
	t.Parallel()

	_, err := NewCommand(Config{})
	require.ErrorContains(t, err, "missing required fields: Logger")
}

func TestMigrate_MissingFlagsFail(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "network", args: []string{"--plan", "p.yaml", "--artifacts", "out"}, wantErr: `"network"`},
		{name: "plan", args: []string{"-n", "local", "--artifacts", "out"}, wantErr: `"plan"`},
		{name: "artifacts", args: []string{"-n", "local", "--plan", "p.yaml"}, wantErr: `"artifacts"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cmd, err := NewCommand(Config{Logger: logger.Nop()})
			require.NoError(t, err)
			cmd.SetOut(new(bytes.Buffer))
			cmd.SetErr(new(bytes.Buffer))
			cmd.SetArgs(tt.args)

			require.ErrorContains(t, cmd.Execute(), tt.wantErr)
		})
	}
}

func TestMigrate_FreshThenNoop(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	out, err := env.run(t)
	require.NoError(t, err)
	assert.Contains(t, out, "completed on local: 4 deployed, 2 reconciled, 6 transactions")
	assert.Equal(t, 4, env.fake.CreationCount())
	assert.FileExists(t, filepath.Join(env.registryDir, "local.json"))

	out, err = env.run(t)
	require.NoError(t, err)
	assert.Contains(t, out, "completed on local: 0 deployed, 0 reconciled, 0 transactions")
	assert.Equal(t, 6, env.fake.TxCount())
	assert.Len(t, env.reports(t), 2)
	assert.Equal(t, 2, env.connects)
}

func TestMigrate_OverwriteFlag(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	_, err := env.run(t)
	require.NoError(t, err)

	// the flag wins over the plan's overwrite: false on Token
	out, err := env.run(t, "--overwrite")
	require.NoError(t, err)
	assert.Contains(t, out, "4 deployed, 2 reconciled")
	assert.Equal(t, 8, env.fake.CreationCount())

	reg, err := registry.OpenFileRegistry(env.registryDir)
	require.NoError(t, err)
	for _, unit := range []string{"Vault", "Token"} {
		history, err := reg.History(t.Context(), unit, "local")
		require.NoError(t, err)
		assert.Len(t, history, 2, unit)
	}

	out, err = env.run(t, "--overwrite=false")
	require.NoError(t, err)
	assert.Contains(t, out, "0 deployed, 0 reconciled")
	assert.Equal(t, 8, env.fake.CreationCount())
}

func TestMigrate_RegistryFlagOverridesConfig(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	dir := filepath.Join(t.TempDir(), "custom")

	_, err := env.run(t, "--registry", dir)
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(dir, "local.json"))
	assert.NoFileExists(t, filepath.Join(env.registryDir, "local.json"))
}

func TestMigrate_FailedStep(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.fake.RevertNext(1)

	out, err := env.run(t)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step 1 (core) failed")
	assert.ErrorIs(t, err, deployment.ErrDeploymentFailed)
	assert.NotContains(t, out, "completed")

	// the failed run is reported and the rerun picks up from the start
	require.Len(t, env.reports(t), 1)
	_, err = env.run(t)
	require.NoError(t, err)
}

func TestMigrate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		args    []string
		mutate  func(d *Deps)
		wantErr string
	}{
		{
			name:    "unknown network",
			args:    []string{"-n", "mainnet"},
			wantErr: `environment "mainnet" not found`,
		},
		{
			name: "config load error",
			mutate: func(d *Deps) {
				d.ConfigLoader = func([]string, string) (*config.Config, error) {
					return nil, errors.New("bad manifest")
				}
			},
			wantErr: "bad manifest",
		},
		{
			name: "artifacts error",
			mutate: func(d *Deps) {
				d.CatalogLoader = func(string) (*artifact.Catalog, error) {
					return nil, errors.New("no such directory")
				}
			},
			wantErr: "failed to load artifacts from out: no such directory",
		},
		{
			name:    "missing plan",
			args:    []string{"--plan", "missing.yaml"},
			wantErr: "failed to read plan missing.yaml",
		},
		{
			name: "connect error",
			mutate: func(d *Deps) {
				d.Connector = func(context.Context, *config.Context, logger.Logger) (chain.Chain, error) {
					return chain.Chain{}, errors.New("dial failed")
				}
			},
			wantErr: "dial failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			env := newTestEnv(t)
			deps := env.deps()
			if tt.mutate != nil {
				tt.mutate(&deps)
			}

			cmd, err := NewCommand(Config{Logger: logger.Nop(), Deps: deps})
			require.NoError(t, err)
			cmd.SetOut(new(bytes.Buffer))
			cmd.SetErr(new(bytes.Buffer))
			cmd.SetArgs(append([]string{"-n", "local", "--plan", env.planPath, "--artifacts", "out"}, tt.args...))

			require.ErrorContains(t, cmd.Execute(), tt.wantErr)
			assert.Zero(t, env.fake.TxCount())
		})
	}
}
