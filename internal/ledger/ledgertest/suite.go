// Package ledgertest holds the behavioral suite every ledger.Backend must pass.
package ledgertest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqasim81/migration-ledger/internal/ledger"
)

// Factory returns a fresh, empty backend isolated from other calls.
type Factory func(t *testing.T) ledger.Backend

// RollbackWriter is implemented by backends that can simulate an external
// process writing rolled_back_at.
type RollbackWriter interface {
	SetRolledBack(ctx context.Context, id string, at time.Time) error
}

// Epoch is the start time of the suite's fake clocks.
var Epoch = time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC) //nolint:gochecknoglobals // shared test fixture

// Run executes the conformance suite against backends produced by newBackend.
func Run(t *testing.T, newBackend Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, b ledger.Backend)
	}{
		{"begin creates empty record", testBeginInitialState},
		{"successful steps concatenate in call order", testSuccessfulSteps},
		{"failed step appends without increment", testFailedStep},
		{"finished is set once", testFinishedSetOnce},
		{"finished is clamped to started", testFinishedClockSkew},
		{"unknown id returns not found", testUnknownID},
		{"list orders by started_at then creation", testListOrdering},
		{"checksum survives mutations", testChecksumInvariant},
		{"text round-trips byte for byte", testTextRoundTrip},
		{"append policy keeps duplicates", testAppendPolicyDuplicates},
		{"suppress-repeat policy drops retried fragment", testSuppressRepeatPolicy},
		{"list on empty store", testListEmpty},
		{"list returns a snapshot", testListSnapshot},
		{"rolled back timestamp is surfaced", testRolledBack},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tt.fn(t, newBackend(t))
		})
	}
}

func newLedger(b ledger.Backend, clock ledger.Clock, opts ...ledger.Option) *ledger.Ledger {
	return ledger.New(b, append([]ledger.Option{ledger.WithClock(clock)}, opts...)...)
}

func findRecord(t *testing.T, records []ledger.MigrationRecord, id string) ledger.MigrationRecord {
	t.Helper()

	for _, r := range records {
		if r.ID == id {
			return r
		}
	}

	require.FailNow(t, "record not listed", "id %s", id)

	return ledger.MigrationRecord{}
}

func assertSameTime(t *testing.T, want, got time.Time) {
	t.Helper()

	assert.True(t, want.Equal(got), "want %s, got %s", want, got)
}

func testBeginInitialState(t *testing.T, b ledger.Backend) {
	ctx := context.Background()
	l := newLedger(b, NewFakeClock(Epoch))

	script := "CREATE TABLE t(x int);"
	id, err := l.Begin(ctx, "0001_init", script)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	records, err := l.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, id, rec.ID)
	assert.Equal(t, "0001_init", rec.MigrationName)
	assert.Equal(t, script, rec.Script)
	assert.Equal(t, ledger.Checksum(script), rec.Checksum)
	assertSameTime(t, Epoch, rec.StartedAt)
	assert.Zero(t, rec.AppliedStepsCount)
	assert.Empty(t, rec.Logs)
	assert.Nil(t, rec.FinishedAt)
	assert.Nil(t, rec.RolledBackAt)
}

func testSuccessfulSteps(t *testing.T, b ledger.Backend) {
	ctx := context.Background()
	l := newLedger(b, NewFakeClock(Epoch))

	id, err := l.Begin(ctx, "0002_steps", "ALTER TABLE t ADD y int;\nALTER TABLE t ADD z int;")
	require.NoError(t, err)

	fragments := []string{"applied step 1\n", "applied step 2\n", "", "applied step 4\n", "applied step 5\n"}
	want := ""

	for _, f := range fragments {
		require.NoError(t, l.RecordSuccessfulStep(ctx, id, f))

		want += f
	}

	records, err := l.List(ctx)
	require.NoError(t, err)

	rec := findRecord(t, records, id)
	assert.Equal(t, uint32(len(fragments)), rec.AppliedStepsCount)
	assert.Equal(t, want, rec.Logs)
	assert.Nil(t, rec.FinishedAt)
}

func testFailedStep(t *testing.T, b ledger.Backend) {
	ctx := context.Background()
	l := newLedger(b, NewFakeClock(Epoch))

	id, err := l.Begin(ctx, "0003_fail", "CREATE INDEX i ON t(x);")
	require.NoError(t, err)

	require.NoError(t, l.RecordSuccessfulStep(ctx, id, "step 1 ok\n"))
	require.NoError(t, l.RecordFailedStep(ctx, id, "step 2 failed: lock timeout\n"))

	records, err := l.List(ctx)
	require.NoError(t, err)

	rec := findRecord(t, records, id)
	assert.Equal(t, uint32(1), rec.AppliedStepsCount)
	assert.Equal(t, "step 1 ok\nstep 2 failed: lock timeout\n", rec.Logs)

	// A retry after a failure is allowed.
	require.NoError(t, l.RecordSuccessfulStep(ctx, id, "step 2 ok on retry\n"))

	records, err = l.List(ctx)
	require.NoError(t, err)

	rec = findRecord(t, records, id)
	assert.Equal(t, uint32(2), rec.AppliedStepsCount)
	assert.Equal(t, "step 1 ok\nstep 2 failed: lock timeout\nstep 2 ok on retry\n", rec.Logs)
	assert.Nil(t, rec.FinishedAt)
}

func testFinishedSetOnce(t *testing.T, b ledger.Backend) {
	ctx := context.Background()
	clock := NewFakeClock(Epoch)
	l := newLedger(b, clock)

	id, err := l.Begin(ctx, "0001_init", "CREATE TABLE t(x int);")
	require.NoError(t, err)
	require.NoError(t, l.RecordSuccessfulStep(ctx, id, "applied step 1\n"))

	finishAt := Epoch.Add(5 * time.Second)
	clock.Set(finishAt)
	require.NoError(t, l.RecordMigrationFinished(ctx, id))

	records, err := l.List(ctx)
	require.NoError(t, err)

	first := findRecord(t, records, id)
	require.NotNil(t, first.FinishedAt)
	assertSameTime(t, finishAt, *first.FinishedAt)
	assert.False(t, first.FinishedAt.Before(first.StartedAt))
	assert.Equal(t, uint32(1), first.AppliedStepsCount)
	assert.Equal(t, "applied step 1\n", first.Logs)

	clock.Set(Epoch.Add(time.Hour))
	require.NoError(t, l.RecordMigrationFinished(ctx, id))

	records, err = l.List(ctx)
	require.NoError(t, err)

	second := findRecord(t, records, id)
	require.NotNil(t, second.FinishedAt)
	assertSameTime(t, finishAt, *second.FinishedAt)
	assertSameTime(t, first.StartedAt, second.StartedAt)
}

func testFinishedClockSkew(t *testing.T, b ledger.Backend) {
	ctx := context.Background()
	clock := NewFakeClock(Epoch)
	l := newLedger(b, clock)

	id, err := l.Begin(ctx, "0004_skew", "SELECT 1;")
	require.NoError(t, err)

	clock.Set(Epoch.Add(-time.Minute))
	require.NoError(t, l.RecordMigrationFinished(ctx, id))

	records, err := l.List(ctx)
	require.NoError(t, err)

	rec := findRecord(t, records, id)
	require.NotNil(t, rec.FinishedAt)
	assertSameTime(t, rec.StartedAt, *rec.FinishedAt)
}

func testUnknownID(t *testing.T, b ledger.Backend) {
	ctx := context.Background()
	l := newLedger(b, NewFakeClock(Epoch))

	a, err := l.Begin(ctx, "0001_a", "CREATE TABLE a(x int);")
	require.NoError(t, err)
	require.NoError(t, l.RecordSuccessfulStep(ctx, a, "a1\n"))

	_, err = l.Begin(ctx, "0002_b", "CREATE TABLE b(x int);")
	require.NoError(t, err)

	before, err := l.List(ctx)
	require.NoError(t, err)

	unknown := uuid.NewString()

	require.ErrorIs(t, l.RecordSuccessfulStep(ctx, unknown, "x\n"), ledger.ErrNotFound)
	require.ErrorIs(t, l.RecordFailedStep(ctx, unknown, "x\n"), ledger.ErrNotFound)
	require.ErrorIs(t, l.RecordMigrationFinished(ctx, unknown), ledger.ErrNotFound)
	require.ErrorIs(t, l.RecordSuccessfulStep(ctx, "", "x\n"), ledger.ErrNotFound)
	require.ErrorIs(t, l.RecordMigrationFinished(ctx, ""), ledger.ErrNotFound)

	after, err := l.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func testListOrdering(t *testing.T, b ledger.Backend) {
	ctx := context.Background()
	clock := NewFakeClock(Epoch)
	clock.Step = 0
	l := newLedger(b, clock)

	begin := func(name string, at time.Time) string {
		clock.Set(at)

		id, err := l.Begin(ctx, name, "-- "+name)
		require.NoError(t, err)

		return id
	}

	late := begin("late", Epoch.Add(5*time.Second))
	tieFirst := begin("tie_first", Epoch.Add(time.Second))
	tieSecond := begin("tie_second", Epoch.Add(time.Second))
	middle := begin("middle", Epoch.Add(3*time.Second))
	tieThird := begin("tie_third", Epoch.Add(time.Second))

	want := []string{tieFirst, tieSecond, tieThird, middle, late}

	for range 3 {
		records, err := l.List(ctx)
		require.NoError(t, err)
		require.Len(t, records, len(want))

		got := make([]string, 0, len(records))
		for _, r := range records {
			got = append(got, r.ID)
		}

		assert.Equal(t, want, got)
	}
}

func testChecksumInvariant(t *testing.T, b ledger.Backend) {
	ctx := context.Background()
	l := newLedger(b, NewFakeClock(Epoch))

	script := "CREATE TABLE users(id bigint);\nCREATE INDEX ON users(id);\n"
	id, err := l.Begin(ctx, "0005_users", script)
	require.NoError(t, err)

	require.NoError(t, l.RecordSuccessfulStep(ctx, id, "one\n"))
	require.NoError(t, l.RecordFailedStep(ctx, id, "two\n"))
	require.NoError(t, l.RecordMigrationFinished(ctx, id))

	records, err := l.List(ctx)
	require.NoError(t, err)

	rec := findRecord(t, records, id)
	assert.Equal(t, script, rec.Script)
	assert.Equal(t, ledger.Checksum(script), rec.Checksum)
	assert.True(t, rec.ChecksumValid())
}

func testTextRoundTrip(t *testing.T, b ledger.Backend) {
	ctx := context.Background()
	l := newLedger(b, NewFakeClock(Epoch))

	script := "INSERT INTO t VALUES ('caf\u00e9', '\u65e5\u672c', '\U0001F600');\r\n\t-- \"quoted\" \\ done\n"
	id, err := l.Begin(ctx, "0006_unicode", script)
	require.NoError(t, err)
	require.NoError(t, l.RecordSuccessfulStep(ctx, id, "r\u00e9sultat \u2713\n"))

	_, err = l.Begin(ctx, "0007_binary", "INSERT INTO t VALUES ('\xff\xfe');")
	require.ErrorIs(t, err, ledger.ErrInvalidText)
	require.ErrorIs(t, l.RecordFailedStep(ctx, id, "bad \xc3\x28\n"), ledger.ErrInvalidText)

	records, err := l.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, []byte(script), []byte(rec.Script))
	assert.Equal(t, "r\u00e9sultat \u2713\n", rec.Logs)
	assert.True(t, rec.ChecksumValid())
}

func testAppendPolicyDuplicates(t *testing.T, b ledger.Backend) {
	ctx := context.Background()
	l := newLedger(b, NewFakeClock(Epoch), ledger.WithStepPolicy(ledger.StepPolicyAppend))

	id, err := l.Begin(ctx, "0006_retry", "SELECT 1;")
	require.NoError(t, err)

	require.NoError(t, l.RecordSuccessfulStep(ctx, id, "step 1\n"))
	require.NoError(t, l.RecordSuccessfulStep(ctx, id, "step 1\n"))

	records, err := l.List(ctx)
	require.NoError(t, err)

	rec := findRecord(t, records, id)
	assert.Equal(t, uint32(2), rec.AppliedStepsCount)
	assert.Equal(t, "step 1\nstep 1\n", rec.Logs)
}

func testSuppressRepeatPolicy(t *testing.T, b ledger.Backend) {
	ctx := context.Background()
	l := newLedger(b, NewFakeClock(Epoch), ledger.WithStepPolicy(ledger.StepPolicySuppressRepeat))

	id, err := l.Begin(ctx, "0006_retry", "SELECT 1;")
	require.NoError(t, err)

	require.NoError(t, l.RecordSuccessfulStep(ctx, id, "step 1\n"))
	require.NoError(t, l.RecordSuccessfulStep(ctx, id, "step 1\n"))
	require.NoError(t, l.RecordSuccessfulStep(ctx, id, "step 2\n"))
	require.NoError(t, l.RecordSuccessfulStep(ctx, id, "step 1\n"))

	records, err := l.List(ctx)
	require.NoError(t, err)

	rec := findRecord(t, records, id)
	assert.Equal(t, uint32(3), rec.AppliedStepsCount)
	assert.Equal(t, "step 1\nstep 2\nstep 1\n", rec.Logs)
}

func testListEmpty(t *testing.T, b ledger.Backend) {
	l := newLedger(b, NewFakeClock(Epoch))

	records, err := l.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func testListSnapshot(t *testing.T, b ledger.Backend) {
	ctx := context.Background()
	l := newLedger(b, NewFakeClock(Epoch))

	id, err := l.Begin(ctx, "0007_snapshot", "SELECT 1;")
	require.NoError(t, err)

	snapshot, err := l.List(ctx)
	require.NoError(t, err)
	require.Len(t, snapshot, 1)

	require.NoError(t, l.RecordSuccessfulStep(ctx, id, "later\n"))

	assert.Empty(t, snapshot[0].Logs)
	assert.Zero(t, snapshot[0].AppliedStepsCount)

	snapshot[0].Logs = "tampered"

	records, err := l.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, "later\n", findRecord(t, records, id).Logs)
}

func testRolledBack(t *testing.T, b ledger.Backend) {
	writer, ok := b.(RollbackWriter)
	if !ok {
		t.Skip("backend cannot simulate an external rollback writer")
	}

	ctx := context.Background()
	l := newLedger(b, NewFakeClock(Epoch))

	id, err := l.Begin(ctx, "0008_rollback", "CREATE TABLE r(x int);")
	require.NoError(t, err)
	require.NoError(t, l.RecordMigrationFinished(ctx, id))

	rolledBackAt := Epoch.Add(time.Minute)
	require.NoError(t, writer.SetRolledBack(ctx, id, rolledBackAt))

	records, err := l.List(ctx)
	require.NoError(t, err)

	rec := findRecord(t, records, id)
	require.NotNil(t, rec.RolledBackAt)
	assertSameTime(t, rolledBackAt, *rec.RolledBackAt)
	require.NotNil(t, rec.FinishedAt)
	assert.True(t, rec.Finished())
	assert.True(t, rec.RolledBack())
}
