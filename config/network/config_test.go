package network

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	chainsel "github.com/smartcontractkit/chain-selectors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/chainwire/migrator/deployment"
)

var (
	localSelector   = chainsel.GETH_TESTNET.Selector
	sepoliaSelector = chainsel.ETHEREUM_TESTNET_SEPOLIA.Selector
)

const testManifest = `
environments:
  - name: local
    type: ephemeral
    chain_selector: 3379446385462418246
    launcher: simulated
  - name: sepolia
    type: persistent
    chain_selector: 16015286601757825753
    confirm_timeout: 5m
    confirm_tick: 2s
    rpcs:
      - rpc_name: primary
        http_url: https://sepolia.example.org
        ws_url: wss://sepolia.example.org
      - rpc_name: fallback
        preferred_url_scheme: ws
        http_url: https://fallback.example.org
        ws_url: wss://fallback.example.org
`

func writeManifest(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "networks.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func Test_Load(t *testing.T) {
	t.Parallel()

	cfg, err := Load([]string{writeManifest(t, testManifest)})
	require.NoError(t, err)

	assert.Equal(t, []string{"local", "sepolia"}, cfg.Names())

	local, err := cfg.EnvironmentByName("local")
	require.NoError(t, err)
	assert.Equal(t, localSelector, local.ChainSelector)
	assert.Equal(t, LauncherSimulated, local.LauncherOrDefault())
	assert.Equal(t, deployment.OverwriteAlways, local.Policy())

	sepolia, err := cfg.EnvironmentByName("sepolia")
	require.NoError(t, err)
	assert.Equal(t, sepoliaSelector, sepolia.ChainSelector)
	assert.Equal(t, LauncherRPC, sepolia.LauncherOrDefault())
	assert.Equal(t, deployment.OverwriteIfChanged, sepolia.Policy())
	assert.Equal(t, 5*time.Minute, sepolia.ConfirmTimeout)
	assert.Equal(t, 2*time.Second, sepolia.ConfirmTick)
	assert.Equal(t, []string{"https://sepolia.example.org", "wss://fallback.example.org"}, sepolia.Endpoints())

	chainID, err := sepolia.ChainID()
	require.NoError(t, err)
	assert.Equal(t, "11155111", chainID)
}

func Test_Load_MergesInOrder(t *testing.T) {
	t.Parallel()

	override := `
environments:
  - name: local
    type: ephemeral
    chain_selector: 3379446385462418246
    launcher: anvil
    overwrite_policy: if-changed
`
	cfg, err := Load([]string{writeManifest(t, testManifest), writeManifest(t, override)})
	require.NoError(t, err)

	local, err := cfg.EnvironmentByName("local")
	require.NoError(t, err)
	assert.Equal(t, LauncherAnvil, local.Launcher)
	assert.Equal(t, deployment.OverwriteIfChanged, local.Policy())
}

func Test_Load_URLTransformers(t *testing.T) {
	t.Parallel()

	cfg, err := Load([]string{writeManifest(t, testManifest)},
		WithHTTPURLTransformer(func(u string) string { return u + "/key" }),
		WithWSURLTransformer(func(u string) string { return strings.Replace(u, "wss", "ws", 1) }),
	)
	require.NoError(t, err)

	sepolia, err := cfg.EnvironmentByName("sepolia")
	require.NoError(t, err)
	assert.Equal(t, "https://sepolia.example.org/key", sepolia.RPCs[0].HTTPURL)
	assert.Equal(t, "ws://fallback.example.org", sepolia.RPCs[1].WSURL)
}

func Test_Load_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		give    string
		wantErr string
	}{
		{
			name:    "invalid yaml",
			give:    "environments: [",
			wantErr: "failed to unmarshal environments YAML",
		},
		{
			name: "missing rpc",
			give: `
environments:
  - name: sepolia
    type: persistent
    chain_selector: 16015286601757825753
`,
			wantErr: `environment "sepolia": at least one RPC is required`,
		},
		{
			name: "unknown selector",
			give: `
environments:
  - name: mystery
    type: persistent
    chain_selector: 1
    rpcs: [{rpc_name: a, http_url: http://localhost:8545}]
`,
			wantErr: "unknown chain selector 1",
		},
		{
			name: "local launcher on persistent network",
			give: `
environments:
  - name: local
    type: persistent
    chain_selector: 3379446385462418246
    launcher: simulated
`,
			wantErr: "launcher simulated requires an ephemeral network",
		},
		{
			name: "unknown policy",
			give: `
environments:
  - name: local
    type: ephemeral
    chain_selector: 3379446385462418246
    launcher: simulated
    overwrite_policy: sometimes
`,
			wantErr: `unknown overwrite policy "sometimes"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := Load([]string{writeManifest(t, tt.give)})
			require.ErrorContains(t, err, tt.wantErr)
		})
	}

	_, err := Load([]string{filepath.Join(t.TempDir(), "missing.yaml")})
	require.ErrorContains(t, err, "failed to read environments file")
}

func Test_Config_EnvironmentByName_Unknown(t *testing.T) {
	t.Parallel()

	cfg := NewConfig([]Environment{{Name: "b"}, {Name: "a"}})

	_, err := cfg.EnvironmentByName("c")
	require.EqualError(t, err, `environment "c" not found in configuration, known environments: [a, b]`)
}

func Test_Config_FilterWith(t *testing.T) {
	t.Parallel()

	cfg := NewConfig([]Environment{
		{Name: "local", Type: deployment.NetworkTypeEphemeral, ChainSelector: localSelector, Launcher: LauncherSimulated},
		{Name: "anvil", Type: deployment.NetworkTypeEphemeral, ChainSelector: localSelector, Launcher: LauncherAnvil},
		{Name: "sepolia", Type: deployment.NetworkTypePersistent, ChainSelector: sepoliaSelector},
	})

	assert.Equal(t, []string{"anvil", "local"},
		cfg.FilterWith(TypesFilter(deployment.NetworkTypeEphemeral)).Names())
	assert.Equal(t, []string{"sepolia"},
		cfg.FilterWith(ChainSelectorFilter(sepoliaSelector)).Names())
	assert.Equal(t, []string{"local", "sepolia"},
		cfg.FilterWith(LauncherFilter(LauncherSimulated, LauncherRPC)).Names())
	assert.Empty(t,
		cfg.FilterWith(TypesFilter(deployment.NetworkTypePersistent), LauncherFilter(LauncherAnvil)).Names())
}

func Test_Config_MarshalYAML_RoundTrip(t *testing.T) {
	t.Parallel()

	cfg, err := Load([]string{writeManifest(t, testManifest)})
	require.NoError(t, err)

	out, err := yaml.Marshal(cfg)
	require.NoError(t, err)

	var got Config
	require.NoError(t, yaml.Unmarshal(out, &got))
	assert.Equal(t, cfg.Environments(), got.Environments())
}
