// Package history implements the schema-history table protocol: a
// Flyway-compatible ledger of applied migrations, extended with a
// reversal_sql column for automatic undo.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"

	"github.com/pseudomuto/waypoint/pkg/postgres"
)

// Migration type strings recorded in the history table. TypeUndo rows are
// written as SQL_UNDO; the legacy UNDO_SQL spelling is still understood
// when reading.
const (
	TypeVersioned  = "SQL"
	TypeRepeatable = "SQL_REPEATABLE"
	TypeUndo       = "SQL_UNDO"
	TypeBaseline   = "BASELINE"

	legacyTypeUndo = "UNDO_SQL"
)

// Querier is the subset of pgx used by the store. Both *pgx.Conn and
// pgx.Tx satisfy it, so every store operation can run standalone or
// inside the transaction that applied the migration.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Row is one entry of the schema history table.
type Row struct {
	// InstalledRank is the monotonically increasing insertion order.
	InstalledRank int32

	// Version is the migration version, nil for repeatable migrations.
	Version *string

	// Description is the human-readable migration description.
	Description string

	// Type is one of the Type* constants.
	Type string

	// Script is the migration filename.
	Script string

	// Checksum is the CRC32 of the migration body, nil for baselines.
	Checksum *int32

	// InstalledBy identifies who applied the migration.
	InstalledBy string

	// InstalledOn is when the migration was applied.
	InstalledOn time.Time

	// ExecutionTimeMs is how long the migration took.
	ExecutionTimeMs int32

	// Success reports whether the migration completed.
	Success bool

	// ReversalSQL is auto-generated reverse DDL, when captured.
	ReversalSQL *string
}

// IsUndo reports whether the row records an undo operation, accepting
// both the current and legacy type spellings.
func (r *Row) IsUndo() bool {
	return r.Type == TypeUndo || r.Type == legacyTypeUndo
}

// Store performs history table operations for one (schema, table) pair.
type Store struct {
	schema string
	table  string
}

// NewStore creates a Store for the given schema and table.
func NewStore(schema, table string) *Store {
	return &Store{schema: schema, table: table}
}

func (s *Store) fq() string {
	return postgres.QuoteQualified(s.schema, s.table)
}

// EnsureTable creates the history table and its indexes if they do not
// exist, and upgrades pre-reversal tables by adding the reversal_sql
// column. Idempotent.
func (s *Store) EnsureTable(ctx context.Context, q Querier) error {
	fq := s.fq()
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    installed_rank INTEGER PRIMARY KEY,
    version        VARCHAR(50),
    description    VARCHAR(200) NOT NULL,
    type           VARCHAR(20) NOT NULL,
    script         VARCHAR(1000) NOT NULL,
    checksum       INTEGER,
    installed_by   VARCHAR(100) NOT NULL,
    installed_on   TIMESTAMPTZ NOT NULL DEFAULT now(),
    execution_time INTEGER NOT NULL,
    success        BOOLEAN NOT NULL,
    reversal_sql   TEXT
)`, fq)

	if _, err := q.Exec(ctx, ddl); err != nil {
		return errors.Wrap(err, "failed to create history table")
	}

	for _, idx := range []struct{ name, column string }{
		{s.table + "_s_idx", "success"},
		{s.table + "_v_idx", "version"},
	} {
		sql := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
			postgres.QuoteIdent(idx.name), fq, idx.column)
		if _, err := q.Exec(ctx, sql); err != nil {
			return errors.Wrap(err, "failed to create history index")
		}
	}

	// Upgrade tables created before reversal capture existed.
	upgrade := fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS reversal_sql TEXT", fq)
	if _, err := q.Exec(ctx, upgrade); err != nil {
		return errors.Wrap(err, "failed to upgrade history table")
	}

	return nil
}

// Exists reports whether the history table exists.
func (s *Store) Exists(ctx context.Context, q Querier) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT FROM information_schema.tables
			WHERE table_schema = $1 AND table_name = $2
		)`, s.schema, s.table).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "failed to check for history table")
	}
	return exists, nil
}

// HasEntries reports whether the history table contains any rows.
func (s *Store) HasEntries(ctx context.Context, q Querier) (bool, error) {
	var has bool
	sql := fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s)", s.fq())
	if err := q.QueryRow(ctx, sql).Scan(&has); err != nil {
		return false, errors.Wrap(err, "failed to check history entries")
	}
	return has, nil
}

// LatestRank returns the highest installed_rank, or zero for an empty
// table.
func (s *Store) LatestRank(ctx context.Context, q Querier) (int32, error) {
	var rank int32
	sql := fmt.Sprintf("SELECT COALESCE(MAX(installed_rank), 0) FROM %s", s.fq())
	if err := q.QueryRow(ctx, sql).Scan(&rank); err != nil {
		return 0, errors.Wrap(err, "failed to query latest rank")
	}
	return rank, nil
}

// FetchAll returns every history row ordered by installed_rank.
func (s *Store) FetchAll(ctx context.Context, q Querier) ([]*Row, error) {
	sql := fmt.Sprintf(`
		SELECT installed_rank, version, description, type, script, checksum,
		       installed_by, installed_on, execution_time, success, reversal_sql
		FROM %s ORDER BY installed_rank`, s.fq())

	rows, err := q.Query(ctx, sql)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load history")
	}
	defer rows.Close()

	var out []*Row
	for rows.Next() {
		r := &Row{}
		if err := rows.Scan(
			&r.InstalledRank, &r.Version, &r.Description, &r.Type, &r.Script,
			&r.Checksum, &r.InstalledBy, &r.InstalledOn, &r.ExecutionTimeMs,
			&r.Success, &r.ReversalSQL,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan history row")
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate history rows")
	}

	return out, nil
}

// Insert writes a new history row. The installed_rank is assigned
// atomically inside the INSERT so concurrent writers cannot race the
// read of the previous maximum. Call this on the transaction that
// applied the migration so the record commits with its effects.
func (s *Store) Insert(ctx context.Context, q Querier, row *Row) error {
	fq := s.fq()
	sql := fmt.Sprintf(`
		INSERT INTO %s
		  (installed_rank, version, description, type, script, checksum,
		   installed_by, execution_time, success, reversal_sql)
		VALUES
		  ((SELECT COALESCE(MAX(installed_rank), 0) + 1 FROM %s),
		   $1, $2, $3, $4, $5, $6, $7, $8, $9)`, fq, fq)

	_, err := q.Exec(ctx, sql,
		row.Version, row.Description, row.Type, row.Script, row.Checksum,
		row.InstalledBy, row.ExecutionTimeMs, row.Success, row.ReversalSQL)
	return errors.Wrapf(err, "failed to record %s in history", row.Script)
}

// DeleteFailed removes all rows with success = false. Used by repair.
func (s *Store) DeleteFailed(ctx context.Context, q Querier) (int64, error) {
	sql := fmt.Sprintf("DELETE FROM %s WHERE success = FALSE", s.fq())
	tag, err := q.Exec(ctx, sql)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete failed history rows")
	}
	return tag.RowsAffected(), nil
}

// Delete removes the row with the given rank.
func (s *Store) Delete(ctx context.Context, q Querier, rank int32) error {
	sql := fmt.Sprintf("DELETE FROM %s WHERE installed_rank = $1", s.fq())
	_, err := q.Exec(ctx, sql, rank)
	return errors.Wrapf(err, "failed to delete history rank %d", rank)
}

// UpdateChecksum repairs the checksum of the row with the given rank.
func (s *Store) UpdateChecksum(ctx context.Context, q Querier, rank int32, checksum int32) error {
	sql := fmt.Sprintf("UPDATE %s SET checksum = $1 WHERE installed_rank = $2", s.fq())
	_, err := q.Exec(ctx, sql, checksum, rank)
	return errors.Wrapf(err, "failed to update checksum for rank %d", rank)
}

// MarkUndone flips the success flag of a forward migration row to false
// after its inverse has been applied.
func (s *Store) MarkUndone(ctx context.Context, q Querier, rank int32) error {
	sql := fmt.Sprintf("UPDATE %s SET success = FALSE WHERE installed_rank = $1", s.fq())
	_, err := q.Exec(ctx, sql, rank)
	return errors.Wrapf(err, "failed to mark rank %d undone", rank)
}

// StoreReversal attaches generated reversal SQL to the most recent
// successful row for a version.
func (s *Store) StoreReversal(ctx context.Context, q Querier, version, reversalSQL string) error {
	fq := s.fq()
	sql := fmt.Sprintf(`
		UPDATE %s SET reversal_sql = $1
		WHERE version = $2 AND success = TRUE
		  AND installed_rank = (
		    SELECT MAX(installed_rank) FROM %s WHERE version = $2 AND success = TRUE
		  )`, fq, fq)
	_, err := q.Exec(ctx, sql, reversalSQL, version)
	return errors.Wrapf(err, "failed to store reversal for version %s", version)
}

// Reversal fetches the stored reversal SQL for a version, or nil when
// none was captured.
func (s *Store) Reversal(ctx context.Context, q Querier, version string) (*string, error) {
	sql := fmt.Sprintf(`
		SELECT reversal_sql FROM %s
		WHERE version = $1 AND success = TRUE
		ORDER BY installed_rank DESC LIMIT 1`, s.fq())

	var reversal *string
	err := q.QueryRow(ctx, sql, version).Scan(&reversal)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load reversal for version %s", version)
	}
	return reversal, nil
}
