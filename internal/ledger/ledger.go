package ledger

import (
	"context"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Store is the operation set a migration engine uses to record its progress.
type Store interface {
	Begin(ctx context.Context, migrationName, script string) (string, error)
	RecordSuccessfulStep(ctx context.Context, id, logsFragment string) error
	RecordFailedStep(ctx context.Context, id, logsFragment string) error
	RecordMigrationFinished(ctx context.Context, id string) error
	List(ctx context.Context) ([]MigrationRecord, error)
}

// Ledger implements Store on top of a Backend. It owns id generation,
// checksums, and timestamps so every backend records them identically.
type Ledger struct {
	backend Backend
	clock   Clock
	newID   func() (string, error)
	policy  StepPolicy
	log     logrus.FieldLogger
}

var _ Store = (*Ledger)(nil)

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock sets the time source for started_at and finished_at.
func WithClock(c Clock) Option {
	return func(l *Ledger) { l.clock = c }
}

// WithIDGenerator overrides record id generation.
func WithIDGenerator(fn func() (string, error)) Option {
	return func(l *Ledger) { l.newID = fn }
}

// WithStepPolicy sets how repeated step notifications are persisted.
func WithStepPolicy(p StepPolicy) Option {
	return func(l *Ledger) { l.policy = p }
}

// WithLogger sets the logger used for operation tracing.
func WithLogger(log logrus.FieldLogger) Option {
	return func(l *Ledger) { l.log = log }
}

// New creates a Ledger persisting into b.
func New(b Backend, opts ...Option) *Ledger {
	l := &Ledger{
		backend: b,
		clock:   SystemClock{},
		newID:   newUUID,
		policy:  StepPolicyAppend,
	}

	for _, opt := range opts {
		opt(l)
	}

	if l.log == nil {
		silent := logrus.New()
		silent.SetOutput(io.Discard)
		l.log = silent
	}

	return l
}

// Begin creates a record for a new application attempt and returns its id.
// Name and script must be valid UTF-8.
func (l *Ledger) Begin(ctx context.Context, migrationName, script string) (string, error) {
	if !utf8.ValidString(migrationName) || !utf8.ValidString(script) {
		return "", fmt.Errorf("beginning migration: %w", ErrInvalidText)
	}

	id, err := l.newID()
	if err != nil {
		return "", fmt.Errorf("generating record id: %w", err)
	}

	rec := MigrationRecord{
		ID:            id,
		MigrationName: migrationName,
		Script:        script,
		Checksum:      Checksum(script),
		StartedAt:     Timestamp(l.clock.Now()),
	}

	if err := l.backend.Insert(ctx, rec); err != nil {
		l.log.WithError(err).WithField("migration_name", migrationName).Warn("begin failed")

		return "", fmt.Errorf("beginning migration %s: %w", migrationName, err)
	}

	l.log.WithFields(logrus.Fields{
		"id":             id,
		"migration_name": migrationName,
		"checksum":       rec.Checksum,
	}).Debug("migration started")

	return id, nil
}

// RecordSuccessfulStep appends logsFragment and increments the applied steps count.
func (l *Ledger) RecordSuccessfulStep(ctx context.Context, id, logsFragment string) error {
	return l.appendStep(ctx, id, logsFragment, true)
}

// RecordFailedStep appends logsFragment without incrementing the step count.
// The store does not prevent later steps; stopping is the engine's decision.
func (l *Ledger) RecordFailedStep(ctx context.Context, id, logsFragment string) error {
	return l.appendStep(ctx, id, logsFragment, false)
}

func (l *Ledger) appendStep(ctx context.Context, id, fragment string, success bool) error {
	// Begin never issues an empty id.
	if id == "" {
		return fmt.Errorf("record %q: %w", id, ErrNotFound)
	}

	if !utf8.ValidString(fragment) {
		return fmt.Errorf("recording step for %s: %w", id, ErrInvalidText)
	}

	step := StepUpdate{
		Fragment:       fragment,
		FragmentDigest: Checksum(fragment),
		Increment:      success,
		SuppressRepeat: l.policy == StepPolicySuppressRepeat,
	}

	if err := l.backend.AppendStep(ctx, id, step); err != nil {
		l.log.WithError(err).WithField("id", id).Warn("recording step failed")

		return fmt.Errorf("recording step for %s: %w", id, err)
	}

	l.log.WithFields(logrus.Fields{"id": id, "success": success}).Debug("step recorded")

	return nil
}

// RecordMigrationFinished marks the record as successfully completed.
// Calling it again keeps the first finished_at.
func (l *Ledger) RecordMigrationFinished(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("record %q: %w", id, ErrNotFound)
	}

	if err := l.backend.MarkFinished(ctx, id, Timestamp(l.clock.Now())); err != nil {
		l.log.WithError(err).WithField("id", id).Warn("recording finish failed")

		return fmt.Errorf("finishing migration %s: %w", id, err)
	}

	l.log.WithField("id", id).Debug("migration finished")

	return nil
}

// List returns a snapshot of all records ordered by started_at, ties broken
// by creation order.
func (l *Ledger) List(ctx context.Context) ([]MigrationRecord, error) {
	records, err := l.backend.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing migration records: %w", err)
	}

	return records, nil
}

func newUUID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}

	return id.String(), nil
}
