package redis_test

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqasim81/migration-ledger/internal/ledger"
	"github.com/aqasim81/migration-ledger/internal/ledger/ledgertest"
	ledgerredis "github.com/aqasim81/migration-ledger/internal/ledger/redis"
)

// rollbackBackend sets rolled_back_at on the hash directly, as an external
// tool sharing the keyspace would.
type rollbackBackend struct {
	*ledgerredis.Backend
	client *goredis.Client
}

func (r rollbackBackend) SetRolledBack(ctx context.Context, id string, at time.Time) error {
	return r.client.HSet(ctx, r.RecordKey(id), "rolled_back_at", strconv.FormatInt(at.UnixMicro(), 10)).Err()
}

func newClient(t *testing.T) *goredis.Client {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1})

	t.Cleanup(func() { client.Close() })

	return client
}

func TestBackend_conformance(t *testing.T) {
	t.Parallel()

	ledgertest.Run(t, func(t *testing.T) ledger.Backend {
		client := newClient(t)

		return rollbackBackend{Backend: ledgerredis.New(client, ""), client: client}
	})
}

func TestNew_defaultPrefix(t *testing.T) {
	t.Parallel()

	b := ledgerredis.New(nil, "")
	assert.Equal(t, ledgerredis.DefaultPrefix+"record:abc", b.RecordKey("abc"))

	b = ledgerredis.New(nil, "app1:")
	assert.Equal(t, "app1:record:abc", b.RecordKey("abc"))
}

func TestPrefixes_isolateLedgers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := newClient(t)

	a := ledger.New(ledgerredis.New(client, "a:"))
	b := ledger.New(ledgerredis.New(client, "b:"))

	_, err := a.Begin(ctx, "0001_init", "SELECT 1;")
	require.NoError(t, err)

	records, err := b.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)

	records, err = a.List(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestList_corruptCounter_returnsSerializationError(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := newClient(t)
	b := ledgerredis.New(client, "")

	id, err := ledger.New(b).Begin(ctx, "0001_init", "SELECT 1;")
	require.NoError(t, err)

	require.NoError(t, client.HSet(ctx, b.RecordKey(id), "applied_steps_count", "-1").Err())

	_, err = b.List(ctx)
	require.ErrorIs(t, err, ledger.ErrSerialization)
	assert.Contains(t, err.Error(), id)
}

func TestList_indexedButMissingHash_returnsSerializationError(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := newClient(t)
	b := ledgerredis.New(client, "")

	id, err := ledger.New(b).Begin(ctx, "0001_init", "SELECT 1;")
	require.NoError(t, err)

	require.NoError(t, client.Del(ctx, b.RecordKey(id)).Err())

	_, err = b.List(ctx)
	require.ErrorIs(t, err, ledger.ErrSerialization)
}

func TestOperations_serverDown_returnStoreUnavailable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })

	l := ledger.New(ledgerredis.New(client, ""))

	mr.Close()

	_, err = l.Begin(ctx, "0001_init", "SELECT 1;")
	require.ErrorIs(t, err, ledger.ErrStoreUnavailable)

	require.ErrorIs(t, l.RecordSuccessfulStep(ctx, "id", "x"), ledger.ErrStoreUnavailable)
	require.ErrorIs(t, l.RecordMigrationFinished(ctx, "id"), ledger.ErrStoreUnavailable)

	_, err = l.List(ctx)
	require.ErrorIs(t, err, ledger.ErrStoreUnavailable)
}
