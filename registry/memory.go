package registry

import (
	"context"
	"sync"
	"time"

	"github.com/emirpasic/gods/maps/treemap"
)

// unitEntry is the current record of a unit and its retired predecessors, oldest first.
type unitEntry struct {
	Current *Record  `json:"current"`
	History []Record `json:"history"`
}

func (e *unitEntry) records() []Record {
	out := make([]Record, 0, len(e.History)+1)
	for _, r := range e.History {
		out = append(out, r.Clone())
	}
	if e.Current != nil {
		out = append(out, e.Current.Clone())
	}

	return out
}

var _ Registry = (*MemoryRegistry)(nil)

// MemoryRegistry is a thread-safe in-memory Registry. Networks and units are kept in tree maps so
// that listings come out sorted.
type MemoryRegistry struct {
	// map[string]*treemap.Map[string]*unitEntry
	networks *treemap.Map
	mtx      sync.RWMutex
	now      func() time.Time
}

// NewMemoryRegistry returns an empty MemoryRegistry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		networks: treemap.NewWithStringComparator(),
		now:      time.Now,
	}
}

// Lookup returns the current record of the unit on the network.
func (m *MemoryRegistry) Lookup(_ context.Context, name, network string) (Record, bool, error) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()

	e := m.entry(name, network)
	if e == nil || e.Current == nil {
		return Record{}, false, nil
	}

	return e.Current.Clone(), true, nil
}

// Record makes rec the current record of its unit, retiring the previous one. Recording the
// current deployment again is a no-op.
func (m *MemoryRegistry) Record(_ context.Context, rec Record) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	_, err := m.record(rec)

	return err
}

// record stores rec and reports whether anything changed. Callers hold the write lock.
func (m *MemoryRegistry) record(rec Record) (bool, error) {
	rec, err := prepare(rec, m.now)
	if err != nil {
		return false, err
	}

	units, ok := m.networks.Get(rec.Network)
	if !ok {
		units = treemap.NewWithStringComparator()
		m.networks.Put(rec.Network, units)
	}
	unitMap := units.(*treemap.Map)

	v, ok := unitMap.Get(rec.Name)
	if !ok {
		v = &unitEntry{}
		unitMap.Put(rec.Name, v)
	}
	e := v.(*unitEntry)

	if e.Current != nil {
		if sameDeployment(*e.Current, rec) {
			return false, nil
		}

		retired := e.Current.Clone()
		retiredAt := rec.Timestamp
		retired.RetiredAt = &retiredAt
		e.History = append(e.History, retired)
	}
	e.Current = &rec

	return true, nil
}

// History returns every record of the unit on the network, oldest first.
func (m *MemoryRegistry) History(_ context.Context, name, network string) ([]Record, error) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()

	e := m.entry(name, network)
	if e == nil {
		return []Record{}, nil
	}

	return e.records(), nil
}

// Records returns the current records on the network sorted by unit name.
func (m *MemoryRegistry) Records(_ context.Context, network string) ([]Record, error) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()

	out := []Record{}
	units, ok := m.networks.Get(network)
	if !ok {
		return out, nil
	}

	it := units.(*treemap.Map).Iterator()
	for it.Next() {
		e := it.Value().(*unitEntry)
		if e.Current != nil {
			out = append(out, e.Current.Clone())
		}
	}

	return out, nil
}

// Networks returns the sorted names of networks with at least one record.
func (m *MemoryRegistry) Networks() []string {
	m.mtx.RLock()
	defer m.mtx.RUnlock()

	out := make([]string, 0, m.networks.Size())
	for _, k := range m.networks.Keys() {
		out = append(out, k.(string))
	}

	return out
}

func (m *MemoryRegistry) entry(name, network string) *unitEntry {
	units, ok := m.networks.Get(network)
	if !ok {
		return nil
	}
	v, ok := units.(*treemap.Map).Get(name)
	if !ok {
		return nil
	}

	return v.(*unitEntry)
}

// snapshot returns a deep copy of the entries of a network keyed by unit name.
func (m *MemoryRegistry) snapshot(network string) map[string]*unitEntry {
	out := make(map[string]*unitEntry)

	units, ok := m.networks.Get(network)
	if !ok {
		return out
	}

	it := units.(*treemap.Map).Iterator()
	for it.Next() {
		e := it.Value().(*unitEntry)
		cp := &unitEntry{History: make([]Record, 0, len(e.History))}
		for _, r := range e.History {
			cp.History = append(cp.History, r.Clone())
		}
		if e.Current != nil {
			cur := e.Current.Clone()
			cp.Current = &cur
		}
		out[it.Key().(string)] = cp
	}

	return out
}

// restore replaces the entries of a network. Callers hold the write lock.
func (m *MemoryRegistry) restore(network string, entries map[string]*unitEntry) {
	units := treemap.NewWithStringComparator()
	for name, e := range entries {
		if e == nil {
			continue
		}
		if e.History == nil {
			e.History = []Record{}
		}
		units.Put(name, e)
	}
	m.networks.Put(network, units)
}
