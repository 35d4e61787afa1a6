package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// MigrationRecord is the persisted state of one migration application attempt.
type MigrationRecord struct {
	ID                string     `json:"id"`
	MigrationName     string     `json:"migration_name"`
	Script            string     `json:"script"`
	Checksum          string     `json:"checksum"` // SHA-256 hex of Script only
	StartedAt         time.Time  `json:"started_at"`
	AppliedStepsCount uint32     `json:"applied_steps_count"`
	Logs              string     `json:"logs"`
	FinishedAt        *time.Time `json:"finished_at,omitempty"`
	// RolledBackAt is never written by this package.
	RolledBackAt *time.Time `json:"rolled_back_at,omitempty"`
}

// Finished reports whether the engine recorded the migration as successful.
func (r *MigrationRecord) Finished() bool {
	return r.FinishedAt != nil
}

// RolledBack reports whether a rollback timestamp was written out-of-band.
func (r *MigrationRecord) RolledBack() bool {
	return r.RolledBackAt != nil
}

// ChecksumValid recomputes the script digest and compares it to the stored one.
func (r *MigrationRecord) ChecksumValid() bool {
	return Checksum(r.Script) == r.Checksum
}

// Checksum returns the SHA-256 hex digest of the script. It covers the exact
// bytes only: no name, no timestamps, no whitespace normalization.
func Checksum(script string) string {
	h := sha256.Sum256([]byte(script))

	return hex.EncodeToString(h[:])
}

// Timestamp normalizes t to the precision every backend persists.
func Timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
