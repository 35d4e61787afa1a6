//go:build integration

package integration

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqasim81/migration-ledger/internal/ledger"
	"github.com/aqasim81/migration-ledger/internal/ledger/ledgertest"
	"github.com/aqasim81/migration-ledger/internal/ledger/postgres"
)

// pgRollbackBackend writes rolled_back_at with plain SQL, as an external
// tool would.
type pgRollbackBackend struct {
	*postgres.Backend
	pool *pgxpool.Pool
}

func (r pgRollbackBackend) SetRolledBack(ctx context.Context, id string, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		fmt.Sprintf("UPDATE %s SET rolled_back_at = $1 WHERE id = $2", r.Table()),
		at, id,
	)

	return err
}

func newPostgresBackend(t *testing.T, pool *pgxpool.Pool) *postgres.Backend {
	t.Helper()

	b, err := postgres.New(pool, uniqueName("ledger"))
	require.NoError(t, err)
	require.NoError(t, b.EnsureTable(context.Background()))

	return b
}

func TestPostgres_conformance(t *testing.T) {
	t.Parallel()

	pool := SetupPostgres(t)

	ledgertest.Run(t, func(t *testing.T) ledger.Backend {
		return pgRollbackBackend{Backend: newPostgresBackend(t, pool), pool: pool}
	})
}

func TestPostgres_ensureTableIsIdempotent(t *testing.T) {
	t.Parallel()

	pool := SetupPostgres(t)
	b := newPostgresBackend(t, pool)

	require.NoError(t, b.EnsureTable(context.Background()))
	require.NoError(t, b.EnsureTable(context.Background()))
}

func TestPostgres_timestampsRoundTripAtMicrosecondPrecision(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	pool := SetupPostgres(t)
	b := newPostgresBackend(t, pool)

	start := time.Date(2024, 3, 10, 8, 0, 0, 123456789, time.FixedZone("CET", 3600))
	l := ledger.New(b, ledger.WithClock(ledgertest.NewFakeClock(start)))

	id, err := l.Begin(ctx, "0001_init", "SELECT 1;")
	require.NoError(t, err)
	require.NoError(t, l.RecordMigrationFinished(ctx, id))

	records, err := l.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)

	assert.Equal(t, time.UTC, records[0].StartedAt.Location())
	assert.True(t, records[0].StartedAt.Equal(ledger.Timestamp(start)))
	require.NotNil(t, records[0].FinishedAt)
	assert.False(t, records[0].FinishedAt.Before(records[0].StartedAt))
}

func TestPostgres_corruptRow_failsList(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	pool := SetupPostgres(t)
	b := newPostgresBackend(t, pool)

	l := ledger.New(b)
	_, err := l.Begin(ctx, "0001_init", "SELECT 1;")
	require.NoError(t, err)

	_, err = pool.Exec(ctx, fmt.Sprintf("UPDATE %s SET applied_steps_count = -1", b.Table()))
	require.NoError(t, err)

	_, err = l.List(ctx)
	require.ErrorIs(t, err, ledger.ErrSerialization)
}

func TestPostgres_closedPool_isUnavailable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	pool := SetupPostgres(t)
	b := newPostgresBackend(t, pool)

	pool.Close()

	_, err := ledger.New(b).Begin(ctx, "0001_init", "SELECT 1;")
	require.ErrorIs(t, err, ledger.ErrStoreUnavailable)
}
