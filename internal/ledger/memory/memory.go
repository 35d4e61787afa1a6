// Package memory keeps ledger records in process memory. Records do not
// survive a restart; it backs tests and throwaway runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aqasim81/migration-ledger/internal/ledger"
)

type entry struct {
	rec        ledger.MigrationRecord
	lastDigest string
}

// Backend is a ledger.Backend over a mutex-guarded slice.
type Backend struct {
	mu      sync.RWMutex
	entries []*entry // creation order
	byID    map[string]*entry
}

var _ ledger.Backend = (*Backend)(nil)

// New returns an empty Backend.
func New() *Backend {
	return &Backend{byID: make(map[string]*entry)}
}

// Insert stores a new record.
func (b *Backend) Insert(_ context.Context, rec ledger.MigrationRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.byID[rec.ID]; ok {
		return fmt.Errorf("%w: duplicate record id %s", ledger.ErrStoreUnavailable, rec.ID)
	}

	e := &entry{rec: copyRecord(rec)}
	b.entries = append(b.entries, e)
	b.byID[rec.ID] = e

	return nil
}

// AppendStep applies a step notification to one record.
func (b *Backend) AppendStep(_ context.Context, id string, step ledger.StepUpdate) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.byID[id]
	if !ok {
		return fmt.Errorf("record %s: %w", id, ledger.ErrNotFound)
	}

	if step.SuppressRepeat && e.lastDigest == step.FragmentDigest {
		return nil
	}

	e.rec.Logs += step.Fragment
	if step.Increment {
		e.rec.AppliedStepsCount++
	}

	e.lastDigest = step.FragmentDigest

	return nil
}

// MarkFinished sets finished_at once.
func (b *Backend) MarkFinished(_ context.Context, id string, at time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.byID[id]
	if !ok {
		return fmt.Errorf("record %s: %w", id, ledger.ErrNotFound)
	}

	if e.rec.FinishedAt == nil {
		t := ledger.FinishTime(e.rec.StartedAt, at)
		e.rec.FinishedAt = &t
	}

	return nil
}

// SetRolledBack writes rolled_back_at the way an external process would.
func (b *Backend) SetRolledBack(_ context.Context, id string, at time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.byID[id]
	if !ok {
		return fmt.Errorf("record %s: %w", id, ledger.ErrNotFound)
	}

	t := ledger.Timestamp(at)
	e.rec.RolledBackAt = &t

	return nil
}

// List returns copies of all records.
func (b *Backend) List(_ context.Context) ([]ledger.MigrationRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]ledger.MigrationRecord, 0, len(b.entries))
	for _, e := range b.entries {
		out = append(out, copyRecord(e.rec))
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})

	return out, nil
}

func copyRecord(rec ledger.MigrationRecord) ledger.MigrationRecord {
	if rec.FinishedAt != nil {
		t := *rec.FinishedAt
		rec.FinishedAt = &t
	}

	if rec.RolledBackAt != nil {
		t := *rec.RolledBackAt
		rec.RolledBackAt = &t
	}

	return rec
}
