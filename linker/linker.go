// Package linker substitutes deployed library addresses into unit bytecode.
//
// Two placeholder forms emitted by solc are recognised, both 40 hex characters wide:
//
//	__$<first 34 hex chars of keccak256(fully qualified name)>$__
//	__<fully qualified or plain name, truncated to 36 chars, padded with _>__
//
// Linking is pure: it reads library addresses from the registry and never writes to it or to
// the network.
package linker

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/chainwire/migrator/deployment"
	"github.com/chainwire/migrator/registry"
)

// LinkedBytecode is the deployable creation code of a unit together with the library addresses
// substituted into it.
type LinkedBytecode struct {
	Code  []byte
	Links map[string]common.Address
}

// Linker resolves library addresses through a registry.
type Linker struct {
	registry registry.Registry
}

// New returns a Linker reading library addresses from reg.
func New(reg registry.Registry) *Linker {
	return &Linker{registry: reg}
}

// Link returns the creation code of unit with every library placeholder replaced by the current
// address of the library on network. A library without a current record, or a placeholder that
// matches no declared library, fails with deployment.ErrUnresolvedDependency.
func (l *Linker) Link(ctx context.Context, unit deployment.Unit, network string) (LinkedBytecode, error) {
	addresses := make(map[string]common.Address, len(unit.Libraries))
	for _, lib := range unit.Libraries {
		rec, found, err := l.registry.Lookup(ctx, lib.Name, network)
		if err != nil {
			return LinkedBytecode{}, fmt.Errorf("unit %s: failed to look up library %s: %w", unit.Name, lib.Name, err)
		}
		if !found {
			return LinkedBytecode{}, fmt.Errorf("%w: unit %s links library %s, which is not deployed on %s",
				deployment.ErrUnresolvedDependency, unit.Name, lib.Name, network,
			)
		}
		addresses[lib.Name] = rec.Address
	}

	code, err := Resolve(unit, addresses)
	if err != nil {
		return LinkedBytecode{}, err
	}

	return LinkedBytecode{Code: code, Links: addresses}, nil
}

// Resolve replaces the placeholders of unit's libraries with the given addresses, keyed by
// library name, and decodes the result.
func Resolve(unit deployment.Unit, addresses map[string]common.Address) ([]byte, error) {
	code := deployment.TrimBytecode(unit.Bytecode)

	for _, lib := range unit.Libraries {
		addr, ok := addresses[lib.Name]
		if !ok {
			return nil, fmt.Errorf("%w: unit %s: no address for library %s",
				deployment.ErrUnresolvedDependency, unit.Name, lib.Name,
			)
		}
		replacement := strings.ToLower(hex.EncodeToString(addr.Bytes()))
		for _, p := range Placeholders(lib) {
			code = strings.ReplaceAll(code, p, replacement)
		}
	}

	if i := strings.Index(code, "__"); i >= 0 {
		end := min(i+deployment.PlaceholderLength, len(code))
		return nil, fmt.Errorf("%w: unit %s: unlinked placeholder %s",
			deployment.ErrUnresolvedDependency, unit.Name, code[i:end],
		)
	}

	b, err := hex.DecodeString(code)
	if err != nil {
		return nil, fmt.Errorf("unit %s: invalid bytecode: %w", unit.Name, err)
	}

	return b, nil
}

// Placeholders returns the placeholders that may stand for lib in unlinked bytecode.
func Placeholders(lib deployment.Library) []string {
	var out []string
	if lib.FullyQualifiedName != "" {
		out = append(out, HashedPlaceholder(lib.FullyQualifiedName), LegacyPlaceholder(lib.FullyQualifiedName))
	}

	return append(out, LegacyPlaceholder(lib.Name))
}

// HashedPlaceholder returns the placeholder solc >= 0.5 emits for a fully qualified library name.
func HashedPlaceholder(fullyQualifiedName string) string {
	h := crypto.Keccak256([]byte(fullyQualifiedName))

	return "__$" + hex.EncodeToString(h)[:34] + "$__"
}

// LegacyPlaceholder returns the placeholder older compilers and Truffle emit for ref.
func LegacyPlaceholder(ref string) string {
	const width = deployment.PlaceholderLength - 4
	if len(ref) > width {
		ref = ref[:width]
	}

	return "__" + ref + strings.Repeat("_", deployment.PlaceholderLength-2-len(ref))
}
