package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/lib/pq"
)

// Dialect names the SQL database behind an SQLRegistry.
type Dialect string

const (
	// DialectPostgres is used for shared persistent environments.
	DialectPostgres Dialect = "postgres"
	// DialectRamSQL is the in-memory ramsql driver used in tests.
	DialectRamSQL Dialect = "ramsql"
)

const (
	sCHEMA_DEPLOYMENT_RECORDS = `
		CREATE TABLE IF NOT EXISTS deployment_records (
			network_name  TEXT NOT NULL,
			unit_name     TEXT NOT NULL,
			seq           BIGINT NOT NULL,
			address       TEXT NOT NULL,
			fingerprint   TEXT NOT NULL,
			unit_version  TEXT NOT NULL,
			tx_hash       TEXT NOT NULL,
			block_number  BIGINT NOT NULL,
			libraries     TEXT NOT NULL,
			created_at    BIGINT NOT NULL,
			retired_at    BIGINT NOT NULL
		);`

	sINDEX_DEPLOYMENT_RECORDS = `
		CREATE UNIQUE INDEX IF NOT EXISTS deployment_records_unit_seq
		ON deployment_records (network_name, unit_name, seq);`

	sSELECT_UNIT = `
		SELECT unit_name, network_name, seq, address, fingerprint, unit_version, tx_hash,
			block_number, libraries, created_at, retired_at
		FROM deployment_records
		WHERE network_name = $1 AND unit_name = $2`

	sSELECT_NETWORK_CURRENT = `
		SELECT unit_name, network_name, seq, address, fingerprint, unit_version, tx_hash,
			block_number, libraries, created_at, retired_at
		FROM deployment_records
		WHERE network_name = $1 AND retired_at = $2`

	sRETIRE_CURRENT = `
		UPDATE deployment_records SET retired_at = $1
		WHERE network_name = $2 AND unit_name = $3 AND retired_at = $4`

	sINSERT_RECORD = `
		INSERT INTO deployment_records (network_name, unit_name, seq, address, fingerprint,
			unit_version, tx_hash, block_number, libraries, created_at, retired_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
)

// notRetired is the retired_at value of current records.
const notRetired int64 = 0

var _ Registry = (*SQLRegistry)(nil)

// SQLRegistry is a Registry stored in a SQL database, one append-only row per deployment.
// Superseding a record only stamps retired_at on the previous row.
type SQLRegistry struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLRegistry opens the database and prepares the schema.
func OpenSQLRegistry(ctx context.Context, dialect Dialect, dsn string) (*SQLRegistry, error) {
	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s registry: %w", dialect, err)
	}

	r, err := NewSQLRegistry(ctx, db, dialect)
	if err != nil {
		return nil, errors.Join(err, db.Close())
	}

	return r, nil
}

// NewSQLRegistry prepares the schema on an open database.
func NewSQLRegistry(ctx context.Context, db *sql.DB, dialect Dialect) (*SQLRegistry, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}

	if _, err := db.ExecContext(ctx, sCHEMA_DEPLOYMENT_RECORDS); err != nil {
		return nil, fmt.Errorf("failed to create deployment_records schema: %w", err)
	}
	if dialect == DialectPostgres {
		if _, err := db.ExecContext(ctx, sINDEX_DEPLOYMENT_RECORDS); err != nil {
			return nil, fmt.Errorf("failed to create deployment_records index: %w", err)
		}
	}

	return &SQLRegistry{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *SQLRegistry) Close() error {
	return s.db.Close()
}

// Lookup returns the current record of the unit on the network.
func (s *SQLRegistry) Lookup(ctx context.Context, name, network string) (Record, bool, error) {
	rows, err := s.unitRows(ctx, s.db, name, network)
	if err != nil {
		return Record{}, false, err
	}

	for _, r := range rows {
		if !r.Retired() {
			return r.Record, true, nil
		}
	}

	return Record{}, false, nil
}

// History returns every record of the unit on the network, oldest first.
func (s *SQLRegistry) History(ctx context.Context, name, network string) ([]Record, error) {
	rows, err := s.unitRows(ctx, s.db, name, network)
	if err != nil {
		return nil, err
	}

	out := make([]Record, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Record)
	}

	return out, nil
}

// Records returns the current records on the network sorted by unit name.
func (s *SQLRegistry) Records(ctx context.Context, network string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, sSELECT_NETWORK_CURRENT, network, notRetired)
	if err != nil {
		return nil, fmt.Errorf("failed to query records of %s: %w", network, err)
	}

	recs, err := scanRows(rows)
	if err != nil {
		return nil, err
	}

	out := make([]Record, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Record)
	}
	slices.SortFunc(out, func(a, b Record) int {
		return strings.Compare(a.Name, b.Name)
	})

	return out, nil
}

// Record inserts rec as the current record of its unit, retiring the previous one in the same
// transaction.
func (s *SQLRegistry) Record(ctx context.Context, rec Record) error {
	rec, err := prepare(rec, s.now)
	if err != nil {
		return err
	}

	libs, err := json.Marshal(rec.Libraries)
	if err != nil {
		return fmt.Errorf("failed to encode libraries of %s: %w", rec.Name, err)
	}
	if rec.Libraries == nil {
		libs = []byte("{}")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	existing, err := s.unitRows(ctx, tx, rec.Name, rec.Network)
	if err != nil {
		return err
	}

	var seq int64
	for _, r := range existing {
		seq = max(seq, r.seq)
		if !r.Retired() && sameDeployment(r.Record, rec) {
			return nil
		}
	}

	if _, err = tx.ExecContext(ctx, sRETIRE_CURRENT,
		rec.Timestamp.UnixNano(), rec.Network, rec.Name, notRetired,
	); err != nil {
		return fmt.Errorf("failed to retire current record of %s: %w", rec.Name, err)
	}

	if _, err = tx.ExecContext(ctx, sINSERT_RECORD,
		rec.Network,
		rec.Name,
		seq+1,
		rec.Address.Hex(),
		rec.Fingerprint.Hex(),
		rec.Version,
		rec.TxHash.Hex(),
		int64(rec.BlockNumber), //nolint:gosec // block numbers fit in int64
		string(libs),
		rec.Timestamp.UnixNano(),
		notRetired,
	); err != nil {
		return fmt.Errorf("failed to insert record of %s: %w", rec.Name, err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit record of %s: %w", rec.Name, err)
	}

	return nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type seqRecord struct {
	Record
	seq int64
}

// unitRows returns the rows of a unit ordered by sequence.
func (s *SQLRegistry) unitRows(ctx context.Context, q queryer, name, network string) ([]seqRecord, error) {
	rows, err := q.QueryContext(ctx, sSELECT_UNIT, network, name)
	if err != nil {
		return nil, fmt.Errorf("failed to query records of %s on %s: %w", name, network, err)
	}

	recs, err := scanRows(rows)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(recs, func(a, b seqRecord) int {
		return int(a.seq - b.seq)
	})

	return recs, nil
}

func scanRows(rows *sql.Rows) ([]seqRecord, error) {
	defer rows.Close()

	var out []seqRecord
	for rows.Next() {
		var (
			r                                      seqRecord
			address, fingerprint, txHash, libs     string
			blockNumber, createdAt, retiredAt, seq int64
		)
		if err := rows.Scan(
			&r.Name, &r.Network, &seq, &address, &fingerprint, &r.Version, &txHash,
			&blockNumber, &libs, &createdAt, &retiredAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}

		r.seq = seq
		r.Address = common.HexToAddress(address)
		r.TxHash = common.HexToHash(txHash)
		r.BlockNumber = uint64(blockNumber) //nolint:gosec // stored from a uint64
		r.Timestamp = time.Unix(0, createdAt).UTC()
		if retiredAt != notRetired {
			t := time.Unix(0, retiredAt).UTC()
			r.RetiredAt = &t
		}
		if err := r.Fingerprint.UnmarshalText([]byte(fingerprint)); err != nil {
			return nil, fmt.Errorf("record %s: %w", r.Name, err)
		}
		if libs != "" && libs != "{}" && libs != "null" {
			if err := json.Unmarshal([]byte(libs), &r.Libraries); err != nil {
				return nil, fmt.Errorf("record %s: failed to decode libraries: %w", r.Name, err)
			}
		}

		out = append(out, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}

	return out, nil
}
