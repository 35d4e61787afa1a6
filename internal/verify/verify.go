// Package verify compares migrations on disk with what the ledger recorded.
package verify

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/aqasim81/migration-ledger/internal/ledger"
	"github.com/aqasim81/migration-ledger/internal/migration"
)

// ErrDrift indicates at least one finding that needs operator attention.
var ErrDrift = errors.New("migrations differ from ledger")

// Status classifies one migration name.
type Status string

const (
	StatusApplied    Status = "applied"
	StatusPending    Status = "pending"
	StatusModified   Status = "modified"
	StatusMissing    Status = "missing"
	StatusUnfinished Status = "unfinished"
	StatusRolledBack Status = "rolled_back"
)

// Finding is the verdict for a single migration name.
type Finding struct {
	Name     string `json:"name"`
	Status   Status `json:"status"`
	RecordID string `json:"record_id,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// Problem reports whether the finding should fail verification.
func (f Finding) Problem() bool {
	return f.Status != StatusApplied && f.Status != StatusPending
}

// Report lists findings in migration-name order for names on disk,
// followed by names known only to the ledger.
type Report struct {
	Findings []Finding `json:"findings"`
}

// Problems returns the findings that fail verification.
func (r Report) Problems() []Finding {
	var out []Finding

	for _, f := range r.Findings {
		if f.Problem() {
			out = append(out, f)
		}
	}

	return out
}

// Err returns ErrDrift wrapped with a count when the report has problems.
func (r Report) Err() error {
	if n := len(r.Problems()); n > 0 {
		return fmt.Errorf("%w: %d problem(s)", ErrDrift, n)
	}

	return nil
}

// Lister is the read side of ledger.Store.
type Lister interface {
	List(ctx context.Context) ([]ledger.MigrationRecord, error)
}

// Check classifies every migration on disk and every name in the ledger.
// The latest attempt for a name decides its status.
func Check(ctx context.Context, store Lister, migrations []migration.Migration) (Report, error) {
	records, err := store.List(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("listing ledger records: %w", err)
	}

	// List is ordered by start time, so the last write per name wins.
	latest := make(map[string]ledger.MigrationRecord, len(records))
	for _, rec := range records {
		latest[rec.MigrationName] = rec
	}

	var report Report

	onDisk := make(map[string]bool, len(migrations))

	for _, m := range migration.Sort(migrations) {
		onDisk[m.Name] = true

		rec, ok := latest[m.Name]
		if !ok {
			report.Findings = append(report.Findings, Finding{Name: m.Name, Status: StatusPending})

			continue
		}

		report.Findings = append(report.Findings, classify(m, rec))
	}

	var orphans []string

	for name := range latest {
		if !onDisk[name] {
			orphans = append(orphans, name)
		}
	}

	sort.Strings(orphans)

	for _, name := range orphans {
		rec := latest[name]
		report.Findings = append(report.Findings, Finding{
			Name:     name,
			Status:   StatusMissing,
			RecordID: rec.ID,
			Detail:   "recorded in the ledger but not found on disk",
		})
	}

	return report, nil
}

func classify(m migration.Migration, rec ledger.MigrationRecord) Finding {
	f := Finding{Name: m.Name, RecordID: rec.ID}

	switch {
	case !rec.ChecksumValid():
		f.Status = StatusModified
		f.Detail = "recorded script does not match recorded checksum"
	case rec.RolledBack():
		f.Status = StatusRolledBack
		f.Detail = "rolled back at " + rec.RolledBackAt.Format("2006-01-02T15:04:05.000000Z07:00")
	case !rec.Finished():
		f.Status = StatusUnfinished
		f.Detail = fmt.Sprintf("%d step(s) applied, never finished", rec.AppliedStepsCount)
	case rec.Checksum != m.Checksum:
		f.Status = StatusModified
		f.Detail = fmt.Sprintf("checksum %s on disk, %s in ledger", short(m.Checksum), short(rec.Checksum))
	default:
		f.Status = StatusApplied
	}

	return f
}

func short(checksum string) string {
	const n = 12
	if len(checksum) <= n {
		return checksum
	}

	return checksum[:n]
}
