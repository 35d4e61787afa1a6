// Package redis persists ledger records as Redis hashes. Each mutation runs
// as a Lua script so a record's fields change atomically.
package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/aqasim81/migration-ledger/internal/ledger"
)

// DefaultPrefix namespaces all ledger keys.
const DefaultPrefix = "migration_ledger:"

// Backend is a ledger.Backend over a Redis keyspace.
type Backend struct {
	client goredis.UniversalClient
	prefix string
}

var _ ledger.Backend = (*Backend)(nil)

// New creates a Backend storing keys under prefix.
func New(client goredis.UniversalClient, prefix string) *Backend {
	if prefix == "" {
		prefix = DefaultPrefix
	}

	return &Backend{client: client, prefix: prefix}
}

// RecordKey returns the hash key holding the record with the given id.
func (b *Backend) RecordKey(id string) string {
	return b.prefix + "record:" + id
}

func (b *Backend) indexKey() string {
	return b.prefix + "records"
}

func (b *Backend) seqKey() string {
	return b.prefix + "seq"
}

// Insert creates the record hash and indexes it by creation sequence.
func (b *Backend) Insert(ctx context.Context, rec ledger.MigrationRecord) error {
	err := insertScript.Run(ctx, b.client,
		[]string{b.RecordKey(rec.ID), b.indexKey(), b.seqKey()},
		rec.ID, rec.MigrationName, rec.Script, rec.Checksum, micros(rec.StartedAt),
	).Err()
	if err != nil {
		return fmt.Errorf("%w: inserting record %s: %w", ledger.ErrStoreUnavailable, rec.ID, err)
	}

	return nil
}

// AppendStep appends a fragment and optionally bumps the step counter.
func (b *Backend) AppendStep(ctx context.Context, id string, step ledger.StepUpdate) error {
	n, err := appendScript.Run(ctx, b.client,
		[]string{b.RecordKey(id)},
		step.Fragment, step.FragmentDigest, flag(step.Increment), flag(step.SuppressRepeat),
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: appending step to %s: %w", ledger.ErrStoreUnavailable, id, err)
	}

	if n == 0 {
		return fmt.Errorf("record %s: %w", id, ledger.ErrNotFound)
	}

	return nil
}

// MarkFinished sets finished_at once.
func (b *Backend) MarkFinished(ctx context.Context, id string, at time.Time) error {
	n, err := finishScript.Run(ctx, b.client, []string{b.RecordKey(id)}, micros(at)).Int64()
	if err != nil {
		return fmt.Errorf("%w: finishing %s: %w", ledger.ErrStoreUnavailable, id, err)
	}

	if n == 0 {
		return fmt.Errorf("record %s: %w", id, ledger.ErrNotFound)
	}

	return nil
}

// List reads all records inside MULTI/EXEC, ordered by started_at then
// creation sequence.
func (b *Backend) List(ctx context.Context) ([]ledger.MigrationRecord, error) {
	ids, err := b.client.ZRange(ctx, b.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: reading index: %w", ledger.ErrStoreUnavailable, err)
	}

	cmds := make([]*goredis.MapStringStringCmd, len(ids))

	_, err = b.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, b.RecordKey(id))
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: reading records: %w", ledger.ErrStoreUnavailable, err)
	}

	records := make([]ledger.MigrationRecord, 0, len(ids))

	for i, cmd := range cmds {
		rec, err := decode(ids[i], cmd.Val())
		if err != nil {
			return nil, err
		}

		records = append(records, rec)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].StartedAt.Before(records[j].StartedAt)
	})

	return records, nil
}

func decode(id string, fields map[string]string) (ledger.MigrationRecord, error) {
	if len(fields) == 0 {
		return ledger.MigrationRecord{}, fmt.Errorf("%w: record %s is indexed but has no data",
			ledger.ErrSerialization, id)
	}

	rec := ledger.MigrationRecord{
		ID:            fields["id"],
		MigrationName: fields["migration_name"],
		Script:        fields["script"],
		Checksum:      fields["checksum"],
		Logs:          fields["logs"],
	}

	started, err := parseMicros(fields["started_at"])
	if err != nil {
		return rec, fmt.Errorf("%w: record %s: started_at: %w", ledger.ErrSerialization, id, err)
	}

	rec.StartedAt = started

	steps, err := strconv.ParseUint(fields["applied_steps_count"], 10, 32)
	if err != nil {
		return rec, fmt.Errorf("%w: record %s: applied_steps_count: %w", ledger.ErrSerialization, id, err)
	}

	rec.AppliedStepsCount = uint32(steps)

	if rec.FinishedAt, err = optionalMicros(fields, "finished_at"); err != nil {
		return rec, fmt.Errorf("%w: record %s: %w", ledger.ErrSerialization, id, err)
	}

	if rec.RolledBackAt, err = optionalMicros(fields, "rolled_back_at"); err != nil {
		return rec, fmt.Errorf("%w: record %s: %w", ledger.ErrSerialization, id, err)
	}

	return rec, nil
}

func optionalMicros(fields map[string]string, name string) (*time.Time, error) {
	raw, ok := fields[name]
	if !ok || raw == "" {
		return nil, nil //nolint:nilnil // absent field means unset timestamp
	}

	t, err := parseMicros(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	return &t, nil
}

func parseMicros(raw string) (time.Time, error) {
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}

	return time.UnixMicro(v).UTC(), nil
}

func micros(t time.Time) string {
	return strconv.FormatInt(t.UnixMicro(), 10)
}

func flag(b bool) string {
	if b {
		return "1"
	}

	return "0"
}
