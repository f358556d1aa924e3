package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"

	"github.com/chainwire/migrator/deployment"
)

// Catalog is the set of units a run may deploy, keyed by unit name.
type Catalog struct {
	mu    sync.RWMutex
	units map[string]deployment.Unit
}

// NewCatalog returns a catalog holding units.
func NewCatalog(units ...deployment.Unit) (*Catalog, error) {
	c := &Catalog{units: make(map[string]deployment.Unit, len(units))}
	for _, u := range units {
		if err := c.Add(u); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// LoadDir walks dir and loads every artifact file. Debug files and build info written next to the
// artifacts are skipped, as are artifacts without bytecode.
func LoadDir(dir string) (*Catalog, error) {
	c, _ := NewCatalog()

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "build-info" {
				return filepath.SkipDir
			}

			return nil
		}
		if filepath.Ext(path) != ".json" || strings.HasSuffix(path, ".dbg.json") {
			return nil
		}

		u, _, err := LoadFile(path)
		if errors.Is(err, ErrNoBytecode) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to load artifact %s: %w", path, err)
		}

		return c.Add(u)
	})
	if err != nil {
		return nil, err
	}

	return c, nil
}

// Add adds a unit. Unit names must be unique.
func (c *Catalog) Add(u deployment.Unit) error {
	if err := u.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.units[u.Name]; ok {
		return fmt.Errorf("unit %s already exists in the catalog", u.Name)
	}
	c.units[u.Name] = u

	return nil
}

// Unit returns the unit with the given name.
func (c *Catalog) Unit(name string) (deployment.Unit, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	u, ok := c.units[name]

	return u, ok
}

// SetVersion tags a unit with a semantic version.
func (c *Catalog) SetVersion(name, version string) error {
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("unit %s: invalid version %q: %w", name, version, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	u, ok := c.units[name]
	if !ok {
		return fmt.Errorf("unit %s not found in catalog", name)
	}
	u.Version = v
	c.units[name] = u

	return nil
}

// Names returns the sorted unit names.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return slices.Sorted(maps.Keys(c.units))
}

// Len returns the number of units.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.units)
}
