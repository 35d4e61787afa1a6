// Package postgres persists ledger records in a PostgreSQL table through a
// pgx connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aqasim81/migration-ledger/internal/database"
	"github.com/aqasim81/migration-ledger/internal/ledger"
)

// Backend is a ledger.Backend over a PostgreSQL table.
type Backend struct {
	pool  *pgxpool.Pool
	table string // sanitized identifier
	index string
}

var _ ledger.Backend = (*Backend)(nil)

// New creates a Backend storing records in table.
func New(pool *pgxpool.Pool, table string) (*Backend, error) {
	if err := database.ValidateTableName(table); err != nil {
		return nil, err
	}

	return &Backend{
		pool:  pool,
		table: pgx.Identifier{table}.Sanitize(),
		index: pgx.Identifier{table + "_started_at_idx"}.Sanitize(),
	}, nil
}

// Table returns the quoted table identifier.
func (b *Backend) Table() string {
	return b.table
}

// EnsureTable creates the ledger table if it does not exist.
func (b *Backend) EnsureTable(ctx context.Context) error {
	for _, ddl := range []string{createTableSQL, createIndexSQL} {
		if _, err := b.pool.Exec(ctx, fmt.Sprintf(ddl, b.table, b.index)); err != nil {
			return fmt.Errorf("%w: creating %s: %w", ledger.ErrStoreUnavailable, b.table, err)
		}
	}

	return nil
}

// Insert writes a complete record in one statement.
func (b *Backend) Insert(ctx context.Context, rec ledger.MigrationRecord) error {
	_, err := b.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, migration_name, script, checksum, started_at)
		 VALUES ($1, $2, $3, $4, $5)`, b.table),
		rec.ID, rec.MigrationName, rec.Script, rec.Checksum, rec.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: inserting record %s: %w", ledger.ErrStoreUnavailable, rec.ID, err)
	}

	return nil
}

// AppendStep appends the fragment and bumps the counter in one UPDATE.
func (b *Backend) AppendStep(ctx context.Context, id string, step ledger.StepUpdate) error {
	var inc int64
	if step.Increment {
		inc = 1
	}

	tag, err := b.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET
		     logs = logs || $1,
		     applied_steps_count = applied_steps_count + $2,
		     last_fragment_digest = $3
		 WHERE id = $4 AND NOT ($5 AND last_fragment_digest = $3)`, b.table),
		step.Fragment, inc, step.FragmentDigest, id, step.SuppressRepeat,
	)
	if err != nil {
		return fmt.Errorf("%w: appending step to %s: %w", ledger.ErrStoreUnavailable, id, err)
	}

	return b.checkAffected(ctx, tag, id)
}

// MarkFinished sets finished_at if it is still NULL.
func (b *Backend) MarkFinished(ctx context.Context, id string, at time.Time) error {
	tag, err := b.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET finished_at = GREATEST($1::timestamptz, started_at)
		 WHERE id = $2 AND finished_at IS NULL`, b.table),
		at, id,
	)
	if err != nil {
		return fmt.Errorf("%w: finishing %s: %w", ledger.ErrStoreUnavailable, id, err)
	}

	return b.checkAffected(ctx, tag, id)
}

// List returns all records ordered by started_at, then insertion sequence.
func (b *Backend) List(ctx context.Context) ([]ledger.MigrationRecord, error) {
	rows, err := b.pool.Query(ctx,
		fmt.Sprintf(`SELECT id, migration_name, script, checksum, started_at,
		        applied_steps_count, logs, finished_at, rolled_back_at
		 FROM %s
		 ORDER BY started_at, seq`, b.table),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: querying records: %w", ledger.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	records, err := pgx.CollectRows(rows, scanRecord)
	if err != nil {
		if errors.Is(err, ledger.ErrSerialization) {
			return nil, err
		}

		return nil, fmt.Errorf("%w: reading records: %w", ledger.ErrStoreUnavailable, err)
	}

	return records, nil
}

func (b *Backend) checkAffected(ctx context.Context, tag pgconn.CommandTag, id string) error {
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool

	err := b.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE id = $1)`, b.table), id,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("%w: looking up %s: %w", ledger.ErrStoreUnavailable, id, err)
	}

	if !exists {
		return fmt.Errorf("record %s: %w", id, ledger.ErrNotFound)
	}

	return nil
}

func scanRecord(row pgx.CollectableRow) (ledger.MigrationRecord, error) {
	var (
		rec        ledger.MigrationRecord
		steps      int64
		finished   *time.Time
		rolledBack *time.Time
	)

	if err := row.Scan(&rec.ID, &rec.MigrationName, &rec.Script, &rec.Checksum, &rec.StartedAt,
		&steps, &rec.Logs, &finished, &rolledBack); err != nil {
		return rec, fmt.Errorf("%w: scanning row: %w", ledger.ErrSerialization, err)
	}

	if steps < 0 || steps > math.MaxUint32 {
		return rec, fmt.Errorf("%w: record %s: applied_steps_count %d out of range",
			ledger.ErrSerialization, rec.ID, steps)
	}

	rec.AppliedStepsCount = uint32(steps)
	rec.StartedAt = rec.StartedAt.UTC()
	rec.FinishedAt = utc(finished)
	rec.RolledBackAt = utc(rolledBack)

	return rec, nil
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}

	u := t.UTC()

	return &u
}
