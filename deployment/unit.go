package deployment

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Fingerprint is the keccak256 hash of a unit's unlinked creation bytecode. Two deployments
// with the same fingerprint were built from the same code.
type Fingerprint common.Hash

// Hex returns the 0x prefixed hex encoding of the fingerprint.
func (f Fingerprint) Hex() string { return common.Hash(f).Hex() }

// String implements fmt.Stringer.
func (f Fingerprint) String() string { return f.Hex() }

// IsZero reports whether the fingerprint is unset.
func (f Fingerprint) IsZero() bool { return f == Fingerprint{} }

// MarshalText implements encoding.TextMarshaler.
func (f Fingerprint) MarshalText() ([]byte, error) {
	return common.Hash(f).MarshalText()
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Fingerprint) UnmarshalText(input []byte) error {
	return (*common.Hash)(f).UnmarshalText(input)
}

// FingerprintOf computes the fingerprint of hex encoded creation bytecode. The bytecode is
// normalised (lower case, no 0x prefix, surrounding whitespace trimmed) so that cosmetic
// differences between artifact formats do not force a redeployment.
func FingerprintOf(bytecode string) Fingerprint {
	return Fingerprint(crypto.Keccak256Hash([]byte(NormalizeBytecode(bytecode))))
}

// NormalizeBytecode trims whitespace and the 0x prefix and lower cases the result.
func NormalizeBytecode(bytecode string) string {
	return strings.ToLower(TrimBytecode(bytecode))
}

// TrimBytecode trims whitespace and the 0x prefix but keeps the case of library placeholders.
func TrimBytecode(bytecode string) string {
	b := strings.TrimSpace(bytecode)

	return strings.TrimPrefix(strings.TrimPrefix(b, "0x"), "0X")
}

// PlaceholderLength is the length in hex characters of a library placeholder, the size of the
// 20 byte address that replaces it.
const PlaceholderLength = 40

// Library identifies a shared library whose deployed address must be linked into a unit's
// bytecode before deployment.
type Library struct {
	// Name is the unit name of the library, used to look up its deployed address.
	Name string `json:"name"`
	// FullyQualifiedName is "<source path>:<Name>" as emitted by solc. It determines the hashed
	// placeholder. When empty only the legacy placeholder form is linked.
	FullyQualifiedName string `json:"fullyQualifiedName,omitempty"`
}

// Unit is a named deployable on-chain component.
type Unit struct {
	Name      string
	Version   *semver.Version
	Bytecode  string
	ABI       abi.ABI
	Libraries []Library
}

// Fingerprint returns the fingerprint of the unit's unlinked bytecode.
func (u Unit) Fingerprint() Fingerprint {
	return FingerprintOf(u.Bytecode)
}

// LibraryNames returns the names of the libraries the unit must be linked against.
func (u Unit) LibraryNames() []string {
	names := make([]string, 0, len(u.Libraries))
	for _, l := range u.Libraries {
		names = append(names, l.Name)
	}

	return names
}

// Validate checks the unit has a name and creation code.
func (u Unit) Validate() error {
	if u.Name == "" {
		return errors.New("unit name is required")
	}
	if NormalizeBytecode(u.Bytecode) == "" {
		return fmt.Errorf("unit %s: bytecode is required", u.Name)
	}
	for _, l := range u.Libraries {
		if l.Name == "" {
			return fmt.Errorf("unit %s: library name is required", u.Name)
		}
		if l.Name == u.Name {
			return fmt.Errorf("unit %s: cannot link against itself", u.Name)
		}
	}

	return nil
}

// String returns "<name>" or "<name> <version>".
func (u Unit) String() string {
	if u.Version == nil {
		return u.Name
	}

	return fmt.Sprintf("%s %s", u.Name, u.Version.String())
}

// ParseABI parses a JSON ABI definition.
func ParseABI(raw json.RawMessage) (abi.ABI, error) {
	if len(raw) == 0 {
		return abi.ABI{}, nil
	}

	return abi.JSON(strings.NewReader(string(raw)))
}
