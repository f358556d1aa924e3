package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/chainwire/migrator/internal/jsonutils"
)

// networkFile is the on-disk format of one network: the current record of each unit and its
// retired predecessors. Keys are written sorted and indented so that the file diffs cleanly.
type networkFile struct {
	Network string                `json:"network"`
	Units   map[string]*unitEntry `json:"units"`
}

var _ Registry = (*FileRegistry)(nil)

// FileRegistry is a Registry persisted as one JSON file per network in a directory. Every
// successful Record rewrites the network's file atomically.
type FileRegistry struct {
	dir string
	mem *MemoryRegistry
}

// OpenFileRegistry loads every <network>.json file in dir, creating dir if needed.
func OpenFileRegistry(dir string) (*FileRegistry, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create registry directory %s: %w", dir, err)
	}

	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to list registry files: %w", err)
	}

	mem := NewMemoryRegistry()
	for _, path := range paths {
		nf, err := jsonutils.LoadFile[networkFile](path)
		if err != nil {
			return nil, err
		}

		want := strings.TrimSuffix(filepath.Base(path), ".json")
		if nf.Network != want {
			return nil, fmt.Errorf("registry file %s holds network %q, expected %q", path, nf.Network, want)
		}

		for name, e := range nf.Units {
			if e == nil {
				continue
			}
			if e.Current != nil && (e.Current.Name != name || e.Current.Network != want) {
				return nil, fmt.Errorf("registry file %s: current record of %s is keyed as %s on %s",
					path, name, e.Current.Name, e.Current.Network,
				)
			}
		}

		mem.restore(nf.Network, nf.Units)
	}

	return &FileRegistry{dir: dir, mem: mem}, nil
}

// Dir returns the directory of the registry.
func (f *FileRegistry) Dir() string { return f.dir }

// Path returns the file holding the records of network.
func (f *FileRegistry) Path(network string) string {
	return filepath.Join(f.dir, network+".json")
}

// Lookup returns the current record of the unit on the network.
func (f *FileRegistry) Lookup(ctx context.Context, name, network string) (Record, bool, error) {
	return f.mem.Lookup(ctx, name, network)
}

// History returns every record of the unit on the network, oldest first.
func (f *FileRegistry) History(ctx context.Context, name, network string) ([]Record, error) {
	return f.mem.History(ctx, name, network)
}

// Records returns the current records on the network sorted by unit name.
func (f *FileRegistry) Records(ctx context.Context, network string) ([]Record, error) {
	return f.mem.Records(ctx, network)
}

// Networks returns the networks with records.
func (f *FileRegistry) Networks() []string {
	return f.mem.Networks()
}

// Record stores rec and rewrites the network file. If the file cannot be written the in-memory
// state is rolled back.
func (f *FileRegistry) Record(_ context.Context, rec Record) error {
	if strings.ContainsAny(rec.Network, `/\`) || rec.Network == "." || rec.Network == ".." {
		return fmt.Errorf("%w: network name %q cannot be used as a file name", ErrInvalidRecord, rec.Network)
	}

	f.mem.mtx.Lock()
	defer f.mem.mtx.Unlock()

	before := f.mem.snapshot(rec.Network)

	changed, err := f.mem.record(rec)
	if err != nil || !changed {
		return err
	}

	nf := networkFile{
		Network: rec.Network,
		Units:   f.mem.snapshot(rec.Network),
	}
	if err = jsonutils.WriteFile(f.Path(rec.Network), nf); err != nil {
		f.mem.restore(rec.Network, before)

		return fmt.Errorf("failed to persist registry for %s: %w", rec.Network, err)
	}

	return nil
}
