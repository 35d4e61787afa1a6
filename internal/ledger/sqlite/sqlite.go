// Package sqlite persists ledger records in a SQLite database file using the
// pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/aqasim81/migration-ledger/internal/database"
	"github.com/aqasim81/migration-ledger/internal/ledger"
)

// Backend is a ledger.Backend over a single SQLite table.
type Backend struct {
	db    *sql.DB
	table string
}

var _ ledger.Backend = (*Backend)(nil)

// Open opens (creating if needed) the database at path and applies the
// connection pragmas. SQLite allows one writer, so the pool holds a single
// connection.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %w", ledger.ErrStoreUnavailable, path, err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()

			return nil, fmt.Errorf("%w: executing %q: %w", ledger.ErrStoreUnavailable, p, err)
		}
	}

	return db, nil
}

// New creates a Backend storing records in table.
func New(db *sql.DB, table string) (*Backend, error) {
	if err := database.ValidateTableName(table); err != nil {
		return nil, err
	}

	return &Backend{db: db, table: table}, nil
}

// DB returns the underlying connection pool.
func (b *Backend) DB() *sql.DB {
	return b.db
}

// Table returns the ledger table name.
func (b *Backend) Table() string {
	return b.table
}

// EnsureTable creates the ledger table if it does not exist.
func (b *Backend) EnsureTable(ctx context.Context) error {
	for _, ddl := range []string{createTableSQL, createIndexSQL} {
		if _, err := b.db.ExecContext(ctx, fmt.Sprintf(ddl, b.table)); err != nil {
			return fmt.Errorf("%w: creating %s: %w", ledger.ErrStoreUnavailable, b.table, err)
		}
	}

	return nil
}

// Insert writes a complete record in one statement.
func (b *Backend) Insert(ctx context.Context, rec ledger.MigrationRecord) error {
	_, err := b.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, migration_name, script, checksum, started_at)
		 VALUES (?, ?, ?, ?, ?)`, b.table),
		rec.ID, rec.MigrationName, rec.Script, rec.Checksum, rec.StartedAt.UnixMicro(),
	)
	if err != nil {
		return fmt.Errorf("%w: inserting record %s: %w", ledger.ErrStoreUnavailable, rec.ID, err)
	}

	return nil
}

// AppendStep appends the fragment in a single UPDATE so the log, counter,
// and last digest change together.
func (b *Backend) AppendStep(ctx context.Context, id string, step ledger.StepUpdate) error {
	res, err := b.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET
		     logs = logs || ?,
		     applied_steps_count = applied_steps_count + ?,
		     last_fragment_digest = ?
		 WHERE id = ? AND NOT (? AND last_fragment_digest = ?)`, b.table),
		step.Fragment, boolInt(step.Increment), step.FragmentDigest,
		id, boolInt(step.SuppressRepeat), step.FragmentDigest,
	)
	if err != nil {
		return fmt.Errorf("%w: appending step to %s: %w", ledger.ErrStoreUnavailable, id, err)
	}

	return b.checkAffected(ctx, res, id)
}

// MarkFinished sets finished_at if it is still NULL.
func (b *Backend) MarkFinished(ctx context.Context, id string, at time.Time) error {
	micros := at.UnixMicro()

	res, err := b.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET finished_at = MAX(?, started_at)
		 WHERE id = ? AND finished_at IS NULL`, b.table),
		micros, id,
	)
	if err != nil {
		return fmt.Errorf("%w: finishing %s: %w", ledger.ErrStoreUnavailable, id, err)
	}

	return b.checkAffected(ctx, res, id)
}

// List reads every record ordered by started_at, then insertion sequence.
func (b *Backend) List(ctx context.Context) ([]ledger.MigrationRecord, error) {
	rows, err := b.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT seq, id, migration_name, script, checksum, started_at,
		        applied_steps_count, logs, finished_at, rolled_back_at
		 FROM %s
		 ORDER BY started_at, seq`, b.table),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: querying records: %w", ledger.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	records := []ledger.MigrationRecord{}

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}

		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading records: %w", ledger.ErrStoreUnavailable, err)
	}

	return records, nil
}

// checkAffected distinguishes an unknown id from an update that matched no
// row because it was a suppressed repeat or an already finished record.
func (b *Backend) checkAffected(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %w", ledger.ErrStoreUnavailable, err)
	}

	if n > 0 {
		return nil
	}

	var one int

	err = b.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT 1 FROM %s WHERE id = ?`, b.table), id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("record %s: %w", id, ledger.ErrNotFound)
	}

	if err != nil {
		return fmt.Errorf("%w: looking up %s: %w", ledger.ErrStoreUnavailable, id, err)
	}

	return nil
}

func scanRecord(rows *sql.Rows) (ledger.MigrationRecord, error) {
	var (
		rec        ledger.MigrationRecord
		seq        int64
		startedAt  int64
		steps      int64
		finished   sql.NullInt64
		rolledBack sql.NullInt64
	)

	if err := rows.Scan(&seq, &rec.ID, &rec.MigrationName, &rec.Script, &rec.Checksum,
		&startedAt, &steps, &rec.Logs, &finished, &rolledBack); err != nil {
		return rec, fmt.Errorf("%w: row %d: %w", ledger.ErrSerialization, seq, err)
	}

	if steps < 0 || steps > math.MaxUint32 {
		return rec, fmt.Errorf("%w: record %s: applied_steps_count %d out of range",
			ledger.ErrSerialization, rec.ID, steps)
	}

	rec.AppliedStepsCount = uint32(steps)
	rec.StartedAt = fromMicros(startedAt)
	rec.FinishedAt = nullTime(finished)
	rec.RolledBackAt = nullTime(rolledBack)

	return rec, nil
}

func fromMicros(v int64) time.Time {
	return time.UnixMicro(v).UTC()
}

func nullTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}

	t := fromMicros(v.Int64)

	return &t
}

func boolInt(b bool) int {
	if b {
		return 1
	}

	return 0
}
