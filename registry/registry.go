// Package registry records which address each named unit is deployed at on each network.
//
// A registry holds at most one current record per (name, network). Recording a new deployment of
// the same unit retires the previous record, which stays in the unit's history. Lookups are local
// and never touch the network; records are written only after a deployment was confirmed.
package registry

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chainwire/migrator/deployment"
)

var (
	// ErrUnconfirmedRecord is returned when a record lacks the address or transaction hash of a
	// confirmed deployment.
	ErrUnconfirmedRecord = errors.New("record is not a confirmed deployment")
	// ErrInvalidRecord is returned when a record misses its identity.
	ErrInvalidRecord = errors.New("invalid record")
)

// Record is the registry entry of one deployment of a unit on a network.
type Record struct {
	Name        string                    `json:"name"`
	Network     string                    `json:"network"`
	Address     common.Address            `json:"address"`
	Fingerprint deployment.Fingerprint    `json:"fingerprint"`
	Version     string                    `json:"version,omitempty"`
	TxHash      common.Hash               `json:"txHash"`
	BlockNumber uint64                    `json:"blockNumber"`
	Libraries   map[string]common.Address `json:"libraries,omitempty"`
	Timestamp   time.Time                 `json:"timestamp"`
	RetiredAt   *time.Time                `json:"retiredAt,omitempty"`
}

// Validate checks the identity of the record and that it describes a confirmed deployment.
func (r Record) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRecord)
	}
	if r.Network == "" {
		return fmt.Errorf("%w: unit %s: network is required", ErrInvalidRecord, r.Name)
	}
	if r.Address == (common.Address{}) {
		return fmt.Errorf("%w: unit %s on %s has no address", ErrUnconfirmedRecord, r.Name, r.Network)
	}
	if r.TxHash == (common.Hash{}) {
		return fmt.Errorf("%w: unit %s on %s has no transaction hash", ErrUnconfirmedRecord, r.Name, r.Network)
	}

	return nil
}

// Retired reports whether the record was superseded.
func (r Record) Retired() bool {
	return r.RetiredAt != nil
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	c := r
	if r.Libraries != nil {
		c.Libraries = maps.Clone(r.Libraries)
	}
	if r.RetiredAt != nil {
		t := *r.RetiredAt
		c.RetiredAt = &t
	}

	return c
}

// Registry is the persisted mapping from (unit name, network) to deployment records.
type Registry interface {
	// Lookup returns the current record of the unit on the network.
	Lookup(ctx context.Context, name, network string) (Record, bool, error)
	// Record makes rec the current record of its unit, retiring the previous one.
	Record(ctx context.Context, rec Record) error
	// History returns every record of the unit on the network, oldest first. The last entry is
	// the current record unless the history is empty.
	History(ctx context.Context, name, network string) ([]Record, error)
	// Records returns the current records of all units on the network sorted by name.
	Records(ctx context.Context, network string) ([]Record, error)
}

// prepare validates rec and fills its timestamp. It returns a copy.
func prepare(rec Record, now func() time.Time) (Record, error) {
	if err := rec.Validate(); err != nil {
		return Record{}, err
	}

	rec = rec.Clone()
	rec.RetiredAt = nil
	if rec.Timestamp.IsZero() {
		rec.Timestamp = now().UTC()
	}

	return rec, nil
}

// sameDeployment reports whether a and b describe the same deployment transaction.
func sameDeployment(a, b Record) bool {
	return a.Address == b.Address && a.TxHash == b.TxHash
}
