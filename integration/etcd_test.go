//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/aqasim81/migration-ledger/internal/ledger"
	ledgeretcd "github.com/aqasim81/migration-ledger/internal/ledger/etcd"
	"github.com/aqasim81/migration-ledger/internal/ledger/ledgertest"
)

// etcdRollbackBackend rewrites rolled_back_at in the stored JSON, as an
// external tool would.
type etcdRollbackBackend struct {
	*ledgeretcd.Backend
	client *clientv3.Client
}

func (r etcdRollbackBackend) SetRolledBack(ctx context.Context, id string, at time.Time) error {
	key := r.RecordKey(id)

	resp, err := r.client.Get(ctx, key)
	if err != nil {
		return err
	}

	if len(resp.Kvs) == 0 {
		return ledger.ErrNotFound
	}

	var doc map[string]any
	if err := json.Unmarshal(resp.Kvs[0].Value, &doc); err != nil {
		return err
	}

	doc["rolled_back_at"] = at.UTC().Format(time.RFC3339Nano)

	value, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	_, err = r.client.Put(ctx, key, string(value))

	return err
}

func TestEtcd_conformance(t *testing.T) {
	t.Parallel()

	client := SetupEtcd(t)

	ledgertest.Run(t, func(t *testing.T) ledger.Backend {
		return etcdRollbackBackend{
			Backend: ledgeretcd.New(client, "/"+uniqueName("ledger")+"/"),
			client:  client,
		}
	})
}

func TestEtcd_concurrentAppendsAreNotLost(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := SetupEtcd(t)
	l := ledger.New(ledgeretcd.New(client, "/"+uniqueName("ledger")+"/"))

	id, err := l.Begin(ctx, "0001_init", "SELECT 1;")
	require.NoError(t, err)

	const writers = 8

	errs := make(chan error, writers)
	for range writers {
		go func() { errs <- l.RecordSuccessfulStep(ctx, id, "x") }()
	}

	for range writers {
		require.NoError(t, <-errs)
	}

	records, err := l.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, uint32(writers), records[0].AppliedStepsCount)
	assert.Len(t, records[0].Logs, writers)
}

func TestEtcd_corruptValue_failsList(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := SetupEtcd(t)
	b := ledgeretcd.New(client, "/"+uniqueName("ledger")+"/")

	_, err := client.Put(ctx, b.RecordKey("broken"), "{not json")
	require.NoError(t, err)

	_, err = ledger.New(b).List(ctx)
	require.ErrorIs(t, err, ledger.ErrSerialization)
}

func TestEtcd_prefixesAreIsolated(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := SetupEtcd(t)

	first := ledger.New(ledgeretcd.New(client, "/"+uniqueName("ledger")+"/"))
	second := ledger.New(ledgeretcd.New(client, "/"+uniqueName("ledger")+"/"))

	_, err := first.Begin(ctx, "0001_init", "SELECT 1;")
	require.NoError(t, err)

	records, err := second.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)
}
