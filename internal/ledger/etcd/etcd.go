// Package etcd persists ledger records as JSON values in etcd. Creation
// order comes from each key's create revision; updates run in an STM so
// concurrent writers to the same key cannot lose an append.
package etcd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"

	"github.com/aqasim81/migration-ledger/internal/ledger"
)

// DefaultPrefix namespaces all ledger keys.
const DefaultPrefix = "/migration-ledger/"

// errDuplicateID is returned when Insert finds the key already present.
var errDuplicateID = errors.New("duplicate record id")

// document is the stored JSON value.
type document struct {
	ledger.MigrationRecord
	LastFragmentDigest string `json:"last_fragment_digest"`
}

// Backend is a ledger.Backend over an etcd key prefix.
type Backend struct {
	client *clientv3.Client
	prefix string
}

var _ ledger.Backend = (*Backend)(nil)

// New creates a Backend storing keys under prefix.
func New(client *clientv3.Client, prefix string) *Backend {
	if prefix == "" {
		prefix = DefaultPrefix
	}

	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	return &Backend{client: client, prefix: prefix}
}

// RecordKey returns the key holding the record with the given id.
func (b *Backend) RecordKey(id string) string {
	return b.recordsPrefix() + id
}

func (b *Backend) recordsPrefix() string {
	return b.prefix + "records/"
}

// Insert writes the record only if its key has never existed.
func (b *Backend) Insert(ctx context.Context, rec ledger.MigrationRecord) error {
	value, err := json.Marshal(document{MigrationRecord: rec})
	if err != nil {
		return fmt.Errorf("encoding record %s: %w", rec.ID, err)
	}

	key := b.RecordKey(rec.ID)

	resp, err := b.client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(clientv3.OpPut(key, string(value))).
		Commit()
	if err != nil {
		return fmt.Errorf("%w: inserting record %s: %w", ledger.ErrStoreUnavailable, rec.ID, err)
	}

	if !resp.Succeeded {
		return fmt.Errorf("%w: %w: %s", ledger.ErrStoreUnavailable, errDuplicateID, rec.ID)
	}

	return nil
}

// AppendStep appends a fragment and optionally bumps the step counter.
func (b *Backend) AppendStep(ctx context.Context, id string, step ledger.StepUpdate) error {
	return b.update(ctx, id, func(doc *document) bool {
		if step.SuppressRepeat && doc.LastFragmentDigest == step.FragmentDigest {
			return false
		}

		doc.Logs += step.Fragment
		if step.Increment {
			doc.AppliedStepsCount++
		}

		doc.LastFragmentDigest = step.FragmentDigest

		return true
	})
}

// MarkFinished sets finished_at once.
func (b *Backend) MarkFinished(ctx context.Context, id string, at time.Time) error {
	return b.update(ctx, id, func(doc *document) bool {
		if doc.FinishedAt != nil {
			return false
		}

		t := ledger.FinishTime(doc.StartedAt, at)
		doc.FinishedAt = &t

		return true
	})
}

// update applies mutate to one record inside a serializable STM. mutate
// returns false to leave the record untouched.
func (b *Backend) update(ctx context.Context, id string, mutate func(*document) bool) error {
	key := b.RecordKey(id)

	_, err := concurrency.NewSTM(b.client, func(stm concurrency.STM) error {
		raw := stm.Get(key)
		if raw == "" {
			return fmt.Errorf("record %s: %w", id, ledger.ErrNotFound)
		}

		var doc document
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return fmt.Errorf("%w: record %s: %w", ledger.ErrSerialization, id, err)
		}

		if !mutate(&doc) {
			return nil
		}

		value, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("encoding record %s: %w", id, err)
		}

		stm.Put(key, string(value))

		return nil
	}, concurrency.WithAbortContext(ctx))
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) || errors.Is(err, ledger.ErrSerialization) {
			return err
		}

		return fmt.Errorf("%w: updating %s: %w", ledger.ErrStoreUnavailable, id, err)
	}

	return nil
}

// List reads every record at a single revision.
func (b *Backend) List(ctx context.Context) ([]ledger.MigrationRecord, error) {
	resp, err := b.client.Get(ctx, b.recordsPrefix(), clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("%w: reading records: %w", ledger.ErrStoreUnavailable, err)
	}

	return decodeAll(resp.Kvs)
}

// decodeAll decodes kvs and orders them by started_at, then create revision.
func decodeAll(kvs []*mvccpb.KeyValue) ([]ledger.MigrationRecord, error) {
	type entry struct {
		rec ledger.MigrationRecord
		rev int64
	}

	entries := make([]entry, 0, len(kvs))

	for _, kv := range kvs {
		var doc document
		if err := json.Unmarshal(kv.Value, &doc); err != nil {
			return nil, fmt.Errorf("%w: key %s: %w", ledger.ErrSerialization, kv.Key, err)
		}

		rec := doc.MigrationRecord
		rec.StartedAt = rec.StartedAt.UTC()
		entries = append(entries, entry{rec: rec, rev: kv.CreateRevision})
	}

	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].rec.StartedAt.Equal(entries[j].rec.StartedAt) {
			return entries[i].rec.StartedAt.Before(entries[j].rec.StartedAt)
		}

		return entries[i].rev < entries[j].rev
	})

	records := make([]ledger.MigrationRecord, len(entries))
	for i := range entries {
		records[i] = entries[i].rec
	}

	return records, nil
}
