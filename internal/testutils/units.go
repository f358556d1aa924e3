package testutils

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/chainwire/migrator/deployment"
)

// MustParseABI parses a JSON ABI and panics on error.
func MustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}

	return parsed
}

// mathLibPlaceholder is the legacy placeholder of MathLib in the Vault fixture.
const mathLibPlaceholder = "__MathLib_______________________________"

// MathLib is a library fixture without constructor.
func MathLib() deployment.Unit {
	return deployment.Unit{
		Name:     "MathLib",
		Bytecode: "0x60016000",
		ABI:      MustParseABI(`[]`),
	}
}

// Token is a fixture taking its owner in the constructor.
func Token() deployment.Unit {
	return deployment.Unit{
		Name:     "Token",
		Bytecode: "0x60026000",
		ABI: MustParseABI(`[
			{"type": "constructor", "inputs": [{"name": "_owner", "type": "address"}]},
			{"type": "function", "name": "owner", "stateMutability": "view", "inputs": [], "outputs": [{"name": "", "type": "address"}]}
		]`),
	}
}

// Vault is a fixture linked against MathLib, taking the token in its constructor and pointing at
// a registry through a setter.
func Vault() deployment.Unit {
	return deployment.Unit{
		Name:     "Vault",
		Bytecode: "0x6003" + mathLibPlaceholder + "00",
		ABI: MustParseABI(`[
			{"type": "constructor", "inputs": [{"name": "_token", "type": "address"}]},
			{"type": "function", "name": "token", "stateMutability": "view", "inputs": [], "outputs": [{"name": "", "type": "address"}]},
			{"type": "function", "name": "registry", "stateMutability": "view", "inputs": [], "outputs": [{"name": "", "type": "address"}]},
			{"type": "function", "name": "setRegistry", "stateMutability": "nonpayable", "inputs": [{"name": "_registry", "type": "address"}], "outputs": []}
		]`),
		Libraries: []deployment.Library{{Name: "MathLib"}},
	}
}

// Registry is a fixture with address, uint256, uint24 and int24 setters.
func Registry() deployment.Unit {
	return deployment.Unit{
		Name:     "Registry",
		Bytecode: "0x60046000",
		ABI: MustParseABI(`[
			{"type": "function", "name": "vault", "stateMutability": "view", "inputs": [], "outputs": [{"name": "", "type": "address"}]},
			{"type": "function", "name": "setVault", "stateMutability": "nonpayable", "inputs": [{"name": "_vault", "type": "address"}], "outputs": []},
			{"type": "function", "name": "token", "stateMutability": "view", "inputs": [], "outputs": [{"name": "", "type": "address"}]},
			{"type": "function", "name": "setToken", "stateMutability": "nonpayable", "inputs": [{"name": "_token", "type": "address"}], "outputs": []},
			{"type": "function", "name": "fee", "stateMutability": "view", "inputs": [], "outputs": [{"name": "", "type": "uint256"}]},
			{"type": "function", "name": "setFee", "stateMutability": "nonpayable", "inputs": [{"name": "_fee", "type": "uint256"}], "outputs": []},
			{"type": "function", "name": "poolFee", "stateMutability": "view", "inputs": [], "outputs": [{"name": "", "type": "uint24"}]},
			{"type": "function", "name": "setPoolFee", "stateMutability": "nonpayable", "inputs": [{"name": "_fee", "type": "uint24"}], "outputs": []},
			{"type": "function", "name": "tickSpacing", "stateMutability": "view", "inputs": [], "outputs": [{"name": "", "type": "int24"}]},
			{"type": "function", "name": "setTickSpacing", "stateMutability": "nonpayable", "inputs": [{"name": "_spacing", "type": "int24"}], "outputs": []}
		]`),
	}
}

// Proxy is a fixture with a one-time initializer setting its admin.
func Proxy() deployment.Unit {
	return deployment.Unit{
		Name:     "Proxy",
		Bytecode: "0x60056000",
		ABI: MustParseABI(`[
			{"type": "function", "name": "admin", "stateMutability": "view", "inputs": [], "outputs": [{"name": "", "type": "address"}]},
			{"type": "function", "name": "initialize", "stateMutability": "nonpayable", "inputs": [{"name": "_admin", "type": "address"}], "outputs": []}
		]`),
	}
}

// Changed returns unit with different creation code, as a recompiled unit would have.
func Changed(unit deployment.Unit) deployment.Unit {
	unit.Bytecode += "fe"

	return unit
}

// Models returns the execution models of the fixtures by unit name.
func Models() map[string]Model {
	return map[string]Model{
		"MathLib": {},
		"Token":   {},
		"Vault": {
			Setters: map[string]string{"setRegistry": "registry"},
		},
		"Registry": {
			Setters: map[string]string{
				"setVault":       "vault",
				"setToken":       "token",
				"setFee":         "fee",
				"setPoolFee":     "poolFee",
				"setTickSpacing": "tickSpacing",
			},
		},
		"Proxy": {
			Initializers: map[string][]string{"initialize": {"admin"}},
		},
	}
}

// Fixtures returns all fixtures.
func Fixtures() []deployment.Unit {
	return []deployment.Unit{MathLib(), Token(), Vault(), Registry(), Proxy()}
}

// RegisterFixtures registers the fixtures and their changed variants with the fake chain.
func (f *FakeChain) RegisterFixtures() {
	models := Models()
	for _, u := range Fixtures() {
		f.Register(u, models[u.Name])
		f.Register(Changed(u), models[u.Name])
	}
}
