// Package artifact loads compiled contract artifacts into deployable units.
//
// Three artifact layouts are understood:
//
//   - Hardhat: "contractName", "sourceName", "abi", "bytecode" (hex string) and "linkReferences".
//   - Truffle: "contractName", "abi" and "bytecode" with legacy "__Name____" placeholders.
//   - Foundry: "abi" and a "bytecode" object holding "object" and "linkReferences". The contract
//     name is taken from the file name.
package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"strings"

	"github.com/chainwire/migrator/deployment"
	"github.com/chainwire/migrator/internal/jsonutils"
)

// ErrNoBytecode is returned for artifacts of interfaces and abstract contracts.
var ErrNoBytecode = errors.New("artifact has no bytecode")

// Format is the layout of an artifact file.
type Format string

const (
	FormatHardhat Format = "hardhat"
	FormatTruffle Format = "truffle"
	FormatFoundry Format = "foundry"
)

// linkReferences maps source file -> library name -> placeholder offsets. Only the keys are
// used; the placeholders themselves are located in the bytecode by the linker.
type linkReferences map[string]map[string]json.RawMessage

type foundryBytecode struct {
	Object         string         `json:"object"`
	LinkReferences linkReferences `json:"linkReferences"`
}

// rawArtifact is the union of the supported layouts.
type rawArtifact struct {
	Format         string          `json:"_format"`
	ContractName   string          `json:"contractName"`
	SourceName     string          `json:"sourceName"`
	ABI            json.RawMessage `json:"abi"`
	Bytecode       json.RawMessage `json:"bytecode"`
	LinkReferences linkReferences  `json:"linkReferences"`
}

// Parse converts artifact JSON into a unit. fallbackName is used when the artifact does not carry
// a contract name, as Foundry artifacts do not.
func Parse(data []byte, fallbackName string) (deployment.Unit, Format, error) {
	var raw rawArtifact
	if err := json.Unmarshal(data, &raw); err != nil {
		return deployment.Unit{}, "", fmt.Errorf("failed to unmarshal artifact: %w", err)
	}

	return raw.unit(fallbackName)
}

// LoadFile loads the artifact at path.
func LoadFile(path string) (deployment.Unit, Format, error) {
	raw, err := jsonutils.LoadFile[rawArtifact](path)
	if err != nil {
		return deployment.Unit{}, "", err
	}

	return raw.unit(nameFromPath(path))
}

// LoadFromFS loads the artifact at path in fsys.
func LoadFromFS(fsys fs.ReadFileFS, path string) (deployment.Unit, Format, error) {
	raw, err := jsonutils.LoadFromFS[rawArtifact](fsys, path)
	if err != nil {
		return deployment.Unit{}, "", err
	}

	return raw.unit(nameFromPath(path))
}

func (a rawArtifact) unit(fallbackName string) (deployment.Unit, Format, error) {
	if len(a.Bytecode) == 0 || string(a.Bytecode) == "null" {
		return deployment.Unit{}, "", ErrNoBytecode
	}

	var (
		format   Format
		bytecode string
		refs     linkReferences
	)
	switch a.Bytecode[0] {
	case '{':
		var fb foundryBytecode
		if err := json.Unmarshal(a.Bytecode, &fb); err != nil {
			return deployment.Unit{}, "", fmt.Errorf("failed to unmarshal bytecode object: %w", err)
		}
		format, bytecode, refs = FormatFoundry, fb.Object, fb.LinkReferences
	case '"':
		if err := json.Unmarshal(a.Bytecode, &bytecode); err != nil {
			return deployment.Unit{}, "", fmt.Errorf("failed to unmarshal bytecode: %w", err)
		}
		format, refs = FormatTruffle, a.LinkReferences
		if a.SourceName != "" || strings.HasPrefix(a.Format, "hh-") {
			format = FormatHardhat
		}
	default:
		return deployment.Unit{}, "", errors.New("artifact bytecode must be a string or an object")
	}

	name := a.ContractName
	if name == "" {
		name = fallbackName
	}
	if deployment.NormalizeBytecode(bytecode) == "" {
		return deployment.Unit{}, format, fmt.Errorf("artifact %s: %w", name, ErrNoBytecode)
	}

	contractABI, err := deployment.ParseABI(a.ABI)
	if err != nil {
		return deployment.Unit{}, "", fmt.Errorf("artifact %s: failed to parse abi: %w", name, err)
	}

	libs := librariesFromReferences(refs)
	if len(libs) == 0 {
		libs = librariesFromPlaceholders(bytecode)
	}

	u := deployment.Unit{
		Name:      name,
		Bytecode:  bytecode,
		ABI:       contractABI,
		Libraries: libs,
	}
	if err = u.Validate(); err != nil {
		return deployment.Unit{}, "", fmt.Errorf("artifact %s: %w", name, err)
	}

	return u, format, nil
}

func librariesFromReferences(refs linkReferences) []deployment.Library {
	var libs []deployment.Library
	for source, byName := range refs {
		for name := range byName {
			libs = append(libs, deployment.Library{
				Name:               name,
				FullyQualifiedName: source + ":" + name,
			})
		}
	}
	sortLibraries(libs)

	return libs
}

// librariesFromPlaceholders recovers the libraries of an artifact without link references from
// its legacy placeholders. Hashed placeholders cannot be reversed and are left to the linker to
// report.
func librariesFromPlaceholders(bytecode string) []deployment.Library {
	code := deployment.TrimBytecode(bytecode)

	seen := map[string]bool{}
	var libs []deployment.Library
	for i := strings.Index(code, "__"); i >= 0; {
		end := min(i+deployment.PlaceholderLength, len(code))
		placeholder := code[i:end]
		if !strings.HasPrefix(placeholder, "__$") {
			ref := strings.Trim(placeholder, "_")
			name := ref
			if j := strings.LastIndex(ref, ":"); j >= 0 {
				name = ref[j+1:]
			}
			if name != "" && !seen[name] {
				seen[name] = true
				libs = append(libs, deployment.Library{Name: name})
			}
		}

		next := strings.Index(code[end:], "__")
		if next < 0 {
			break
		}
		i = end + next
	}
	sortLibraries(libs)

	return libs
}

func sortLibraries(libs []deployment.Library) {
	slices.SortFunc(libs, func(a, b deployment.Library) int {
		return strings.Compare(a.Name, b.Name)
	})
}

func nameFromPath(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}
