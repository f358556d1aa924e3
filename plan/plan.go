// Package plan loads declarative deployment plans and compiles them into migration steps.
//
// A plan lists the units to deploy, with optional artifact aliases and versions, and the ordered
// steps deploying and wiring them. Plans are written in YAML or TOML:
//
//	units:
//	  - name: Vault
//	    version: 1.2.0
//	steps:
//	  - key: 1
//	    name: core
//	    deploy:
//	      - unit: Vault
//	        args: ["@Token"]
//	    relationships:
//	      - source: Registry
//	        field: vault
//	        setter: setVault
//	        target: Vault
//
// Arguments are converted according to the ABI of the unit. A string starting with "@" refers to
// the current address of the named unit and is resolved when the step runs.
package plan

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/chainwire/migrator/artifact"
	"github.com/chainwire/migrator/migration"
	"github.com/chainwire/migrator/reconcile"
)

// Format is the encoding of a plan file.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatOf returns the format of a plan file by its extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return "", fmt.Errorf("unsupported plan file %s, expected .yaml, .yml or .toml", path)
	}
}

// UnitSpec declares a unit of the plan.
type UnitSpec struct {
	Name string `yaml:"name" toml:"name"`
	// Artifact is the catalog name of the compiled artifact. Defaults to Name. Setting it deploys
	// the same artifact under another name.
	Artifact string `yaml:"artifact,omitempty" toml:"artifact,omitempty"`
	Version  string `yaml:"version,omitempty" toml:"version,omitempty"`
}

// DeploySpec declares a deployment of a step.
type DeploySpec struct {
	Unit      string `yaml:"unit" toml:"unit"`
	Args      []any  `yaml:"args,omitempty" toml:"args,omitempty"`
	Overwrite *bool  `yaml:"overwrite,omitempty" toml:"overwrite,omitempty"`
}

// RelationshipSpec declares a relationship of a step.
type RelationshipSpec struct {
	Name       string `yaml:"name,omitempty" toml:"name,omitempty"`
	Source     string `yaml:"source" toml:"source"`
	Field      string `yaml:"field" toml:"field"`
	Setter     string `yaml:"setter" toml:"setter"`
	Target     string `yaml:"target,omitempty" toml:"target,omitempty"`
	Value      any    `yaml:"value,omitempty" toml:"value,omitempty"`
	Kind       string `yaml:"kind,omitempty" toml:"kind,omitempty"`
	Probe      string `yaml:"probe,omitempty" toml:"probe,omitempty"`
	BestEffort bool   `yaml:"best_effort,omitempty" toml:"best_effort,omitempty"`
}

// StepSpec declares a step.
type StepSpec struct {
	Key           uint               `yaml:"key" toml:"key"`
	Name          string             `yaml:"name" toml:"name"`
	Requires      []string           `yaml:"requires,omitempty" toml:"requires,omitempty"`
	Deploys       []DeploySpec       `yaml:"deploy,omitempty" toml:"deploy,omitempty"`
	Relationships []RelationshipSpec `yaml:"relationships,omitempty" toml:"relationships,omitempty"`
}

// Plan is a deployment plan.
type Plan struct {
	Units []UnitSpec `yaml:"units,omitempty" toml:"units,omitempty"`
	Steps []StepSpec `yaml:"steps" toml:"steps"`
}

// Load reads the plan file at path. The format is chosen by extension.
func Load(path string) (*Plan, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan %s: %w", path, err)
	}

	p, err := Parse(b, format)
	if err != nil {
		return nil, fmt.Errorf("plan %s: %w", path, err)
	}

	return p, nil
}

// Parse decodes a plan. Unknown fields are rejected. Unquoted YAML integers beyond 64 bits keep
// their precision.
func Parse(data []byte, format Format) (*Plan, error) {
	var p Plan

	switch format {
	case FormatYAML:
		var root yaml.Node
		if err := yaml.Unmarshal(data, &root); err != nil {
			return nil, fmt.Errorf("failed to unmarshal plan: %w", err)
		}
		if root.Kind == 0 {
			return nil, errors.New("plan is empty")
		}
		if quoteBigInts(&root) {
			b, err := yaml.Marshal(&root)
			if err != nil {
				return nil, fmt.Errorf("failed to unmarshal plan: %w", err)
			}
			data = b
		}

		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal plan: %w", err)
		}
	case FormatTOML:
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal plan: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown plan format %q", format)
	}

	return &p, nil
}

// Compile registers the plan's units in catalog and returns the steps. Constructor arguments and
// relationship values are converted according to the units' ABIs, so that type errors surface
// before anything is sent.
func (p *Plan) Compile(catalog *artifact.Catalog) ([]migration.Step, error) {
	if err := p.applyUnits(catalog); err != nil {
		return nil, err
	}

	steps := make([]migration.Step, 0, len(p.Steps))
	var errs []error
	for _, spec := range p.Steps {
		step, err := compileStep(catalog, spec)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		steps = append(steps, step)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	// fails on duplicate keys and incomplete steps
	if _, err := migration.SortSteps(steps); err != nil {
		return nil, err
	}

	return steps, nil
}

func (p *Plan) applyUnits(catalog *artifact.Catalog) error {
	for _, u := range p.Units {
		if u.Name == "" {
			return errors.New("unit name is required")
		}

		if u.Artifact != "" && u.Artifact != u.Name {
			if _, exists := catalog.Unit(u.Name); !exists {
				src, ok := catalog.Unit(u.Artifact)
				if !ok {
					return fmt.Errorf("unit %s: artifact %s not found in catalog", u.Name, u.Artifact)
				}
				src.Name = u.Name
				if err := catalog.Add(src); err != nil {
					return err
				}
			}
		} else if _, ok := catalog.Unit(u.Name); !ok {
			return fmt.Errorf("unit %s: artifact not found in catalog", u.Name)
		}

		if u.Version != "" {
			if err := catalog.SetVersion(u.Name, u.Version); err != nil {
				return err
			}
		}
	}

	return nil
}

func compileStep(catalog *artifact.Catalog, spec StepSpec) (migration.Step, error) {
	step := migration.Step{
		Key:      spec.Key,
		Name:     spec.Name,
		Requires: spec.Requires,
	}

	for _, d := range spec.Deploys {
		args, err := constructorArgs(catalog, d)
		if err != nil {
			return migration.Step{}, fmt.Errorf("step %d (%s): %w", spec.Key, spec.Name, err)
		}
		step.Deploys = append(step.Deploys, migration.Deploy{
			Unit:      d.Unit,
			Args:      args,
			Overwrite: d.Overwrite,
		})
	}

	for _, r := range spec.Relationships {
		rel, err := relationship(catalog, r)
		if err != nil {
			return migration.Step{}, fmt.Errorf("step %d (%s): %w", spec.Key, spec.Name, err)
		}
		step.Relationships = append(step.Relationships, rel)
	}

	return step, nil
}

func constructorArgs(catalog *artifact.Catalog, d DeploySpec) ([]any, error) {
	unit, ok := catalog.Unit(d.Unit)
	if !ok {
		return nil, fmt.Errorf("unit %s not found in catalog", d.Unit)
	}

	inputs := unit.ABI.Constructor.Inputs
	if len(d.Args) != len(inputs) {
		return nil, fmt.Errorf("unit %s: constructor takes %d arguments, got %d", d.Unit, len(inputs), len(d.Args))
	}

	args := make([]any, len(d.Args))
	for i, a := range d.Args {
		v, err := reconcile.Convert(unitRef(a), inputs[i].Type)
		if err != nil {
			return nil, fmt.Errorf("unit %s: constructor argument %d (%s): %w", d.Unit, i, inputs[i].Name, err)
		}
		args[i] = v
	}

	return args, nil
}

func relationship(catalog *artifact.Catalog, spec RelationshipSpec) (migration.Relationship, error) {
	rel := migration.Relationship{
		Relationship: reconcile.Relationship{
			Name:   spec.Name,
			Source: spec.Source,
			Field:  spec.Field,
			Setter: spec.Setter,
			Target: spec.Target,
			Kind:   reconcile.Kind(spec.Kind),
			Probe:  spec.Probe,
		},
		BestEffort: spec.BestEffort,
	}

	if spec.Value != nil {
		source, ok := catalog.Unit(spec.Source)
		if !ok {
			return migration.Relationship{}, fmt.Errorf("relationship %s: unit %s not found in catalog", rel.ID(), spec.Source)
		}
		setter, ok := source.ABI.Methods[spec.Setter]
		if !ok || len(setter.Inputs) != 1 {
			return migration.Relationship{}, fmt.Errorf("relationship %s: unit %s has no single-argument method %s",
				rel.ID(), spec.Source, spec.Setter,
			)
		}

		v, err := reconcile.Convert(unitRef(spec.Value), setter.Inputs[0].Type)
		if err != nil {
			return migration.Relationship{}, fmt.Errorf("relationship %s: value: %w", rel.ID(), err)
		}
		rel.Value = v
	}

	if err := rel.Validate(); err != nil {
		return migration.Relationship{}, err
	}

	return rel, nil
}

// unitRef turns "@Name" into a reference to the unit's address.
func unitRef(v any) any {
	if s, ok := v.(string); ok && strings.HasPrefix(s, "@") && len(s) > 1 {
		return reconcile.UnitAddress(s[1:])
	}

	return v
}
