package artifact

import (
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainwire/migrator/deployment"
)

const (
	hardhatVault = `{
  "_format": "hh-sol-artifact-1",
  "contractName": "Vault",
  "sourceName": "contracts/Vault.sol",
  "abi": [
    {"type": "constructor", "inputs": [{"name": "owner", "type": "address"}]},
    {"type": "function", "name": "token", "inputs": [], "outputs": [{"name": "", "type": "address"}], "stateMutability": "view"}
  ],
  "bytecode": "0x6080__$0f1f2e9c3a1b0f1f2e9c3a1b0f1f2e9c3a$__6000",
  "linkReferences": {
    "contracts/lib/MathLib.sol": {"MathLib": [{"start": 2, "length": 20}]}
  }
}`

	truffleFactory = `{
  "contractName": "Factory",
  "abi": [],
  "bytecode": "0x6080__MathLib_________________________________Strings_______________________________6000"
}`

	foundryToken = `{
  "abi": [{"type": "function", "name": "owner", "inputs": [], "outputs": [{"name": "", "type": "address"}], "stateMutability": "view"}],
  "bytecode": {"object": "0x60806040", "linkReferences": {}},
  "deployedBytecode": {"object": "0x6080"}
}`

	hardhatInterface = `{
  "_format": "hh-sol-artifact-1",
  "contractName": "IVault",
  "sourceName": "contracts/IVault.sol",
  "abi": [],
  "bytecode": "0x",
  "linkReferences": {}
}`
)

func Test_Parse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		give         string
		fallback     string
		wantName     string
		wantFormat   Format
		wantLibs     []deployment.Library
		wantBytecode string
		wantErr      string
	}{
		{
			name:         "hardhat with link references",
			give:         hardhatVault,
			wantName:     "Vault",
			wantFormat:   FormatHardhat,
			wantLibs:     []deployment.Library{{Name: "MathLib", FullyQualifiedName: "contracts/lib/MathLib.sol:MathLib"}},
			wantBytecode: "0x6080__$0f1f2e9c3a1b0f1f2e9c3a1b0f1f2e9c3a$__6000",
		},
		{
			name:       "truffle with legacy placeholders",
			give:       truffleFactory,
			wantName:   "Factory",
			wantFormat: FormatTruffle,
			wantLibs:   []deployment.Library{{Name: "MathLib"}, {Name: "Strings"}},
		},
		{
			name:         "foundry takes the fallback name",
			give:         foundryToken,
			fallback:     "Token",
			wantName:     "Token",
			wantFormat:   FormatFoundry,
			wantBytecode: "0x60806040",
		},
		{
			name:    "interface without bytecode",
			give:    hardhatInterface,
			wantErr: "artifact IVault: artifact has no bytecode",
		},
		{
			name:    "bytecode of the wrong type",
			give:    `{"contractName": "X", "bytecode": 12}`,
			wantErr: "artifact bytecode must be a string or an object",
		},
		{
			name:    "invalid json",
			give:    `{`,
			wantErr: "failed to unmarshal artifact",
		},
		{
			name:    "invalid abi",
			give:    `{"contractName": "X", "abi": [{"type": "function", "name": "f", "inputs": [{"type": "nope"}]}], "bytecode": "0x60"}`,
			wantErr: "artifact X: failed to parse abi",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			u, format, err := Parse([]byte(tt.give), tt.fallback)
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantName, u.Name)
			assert.Equal(t, tt.wantFormat, format)
			assert.Equal(t, tt.wantLibs, u.Libraries)
			if tt.wantBytecode != "" {
				assert.Equal(t, tt.wantBytecode, u.Bytecode)
			}
		})
	}
}

func Test_Parse_ABI(t *testing.T) {
	t.Parallel()

	u, _, err := Parse([]byte(hardhatVault), "")
	require.NoError(t, err)

	require.Len(t, u.ABI.Constructor.Inputs, 1)
	assert.Equal(t, "owner", u.ABI.Constructor.Inputs[0].Name)
	assert.Contains(t, u.ABI.Methods, "token")
}

func Test_LoadFromFS(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"out/Token.sol/Token.json": {Data: []byte(foundryToken)},
	}

	u, format, err := LoadFromFS(fsys, "out/Token.sol/Token.json")
	require.NoError(t, err)
	assert.Equal(t, "Token", u.Name)
	assert.Equal(t, FormatFoundry, format)

	_, _, err = LoadFromFS(fsys, "out/Missing.json")
	require.ErrorContains(t, err, "failed to read out/Missing.json")
}

func Test_LoadDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	files := map[string]string{
		"contracts/Vault.sol/Vault.json":     hardhatVault,
		"contracts/Vault.sol/Vault.dbg.json": `{"buildInfo": "../../build-info/abc.json"}`,
		"contracts/IVault.sol/IVault.json":   hardhatInterface,
		"build-info/abc.json":                `{"id": "abc"}`,
		"Factory.json":                       truffleFactory,
		"Token.sol/Token.json":               foundryToken,
		"README.md":                          "not an artifact",
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	}

	c, err := LoadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"Factory", "Token", "Vault"}, c.Names())
	assert.Equal(t, 3, c.Len())

	u, ok := c.Unit("Vault")
	require.True(t, ok)
	assert.Equal(t, []string{"MathLib"}, u.LibraryNames())

	_, ok = c.Unit("IVault")
	assert.False(t, ok)
}

func Test_LoadDir_Duplicate(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.json"), []byte(truffleFactory), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.json"), []byte(truffleFactory), 0o600))

	_, err := LoadDir(dir)
	require.ErrorContains(t, err, "unit Factory already exists in the catalog")
}

func Test_Catalog_SetVersion(t *testing.T) {
	t.Parallel()

	c, err := NewCatalog(deployment.Unit{Name: "Vault", Bytecode: "0x60"})
	require.NoError(t, err)

	require.NoError(t, c.SetVersion("Vault", "1.2.0"))
	u, ok := c.Unit("Vault")
	require.True(t, ok)
	assert.Equal(t, "1.2.0", u.Version.String())

	require.ErrorContains(t, c.SetVersion("Vault", "one"), `invalid version "one"`)
	require.ErrorContains(t, c.SetVersion("Factory", "1.0.0"), "unit Factory not found in catalog")

	_, err = NewCatalog(deployment.Unit{Name: "Vault"})
	require.ErrorContains(t, err, "bytecode is required")
}
