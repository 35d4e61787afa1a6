package ledger

import (
	"context"
	"fmt"
	"time"
)

// StepPolicy controls how repeated step notifications are persisted.
type StepPolicy string

const (
	// StepPolicyAppend appends every fragment. Retries may duplicate log lines.
	StepPolicyAppend StepPolicy = "append"

	// StepPolicySuppressRepeat ignores a step whose fragment is identical to
	// the last fragment appended to the same record.
	StepPolicySuppressRepeat StepPolicy = "suppress-repeat"
)

// ParseStepPolicy converts a configuration string into a StepPolicy.
// The empty string selects StepPolicyAppend.
func ParseStepPolicy(s string) (StepPolicy, error) {
	switch StepPolicy(s) {
	case "", StepPolicyAppend:
		return StepPolicyAppend, nil
	case StepPolicySuppressRepeat:
		return StepPolicySuppressRepeat, nil
	default:
		return "", fmt.Errorf("%w: unknown step policy %q", ErrInvalidArgument, s)
	}
}

// StepUpdate describes one step notification as applied by a Backend.
type StepUpdate struct {
	Fragment       string
	FragmentDigest string // SHA-256 hex of Fragment
	Increment      bool   // true for a successful step
	SuppressRepeat bool   // no-op when FragmentDigest equals the stored last digest
}

// Backend is the durable storage capability behind a Ledger. Each method
// must update a single record atomically and must not retry internally.
type Backend interface {
	// Insert persists a complete new record or nothing at all.
	Insert(ctx context.Context, rec MigrationRecord) error

	// AppendStep appends step.Fragment to the record's logs and, when
	// step.Increment is set, adds one to its applied steps count.
	// Returns ErrNotFound for an unknown id.
	AppendStep(ctx context.Context, id string, step StepUpdate) error

	// MarkFinished sets finished_at to max(at, started_at) if it is unset.
	// A record that is already finished is left unchanged.
	// Returns ErrNotFound for an unknown id.
	MarkFinished(ctx context.Context, id string, at time.Time) error

	// List returns every record ordered by started_at, then creation order.
	List(ctx context.Context) ([]MigrationRecord, error)
}

// FinishTime returns the finished_at value a backend should store.
func FinishTime(startedAt, at time.Time) time.Time {
	if at.Before(startedAt) {
		return startedAt
	}

	return at
}
