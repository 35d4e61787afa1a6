package dto

import (
	"time"

	"github.com/aqasim81/migration-ledger/internal/ledger"
)

// MigrationListFilters specifies filters for listing ledger records
type MigrationListFilters struct {
	Name   string `form:"name"`
	Status string `form:"status" binding:"omitempty,oneof=finished unfinished rolled_back"`
}

// MigrationListResponse represents a list of ledger records
type MigrationListResponse struct {
	Items []MigrationListItem `json:"items"`
	Total int                 `json:"total"`
}

// MigrationListItem is a record without its script and logs
type MigrationListItem struct {
	ID                string     `json:"id"`
	MigrationName     string     `json:"migration_name"`
	Checksum          string     `json:"checksum"`
	StartedAt         time.Time  `json:"started_at"`
	AppliedStepsCount uint32     `json:"applied_steps_count"`
	FinishedAt        *time.Time `json:"finished_at,omitempty"`
	RolledBackAt      *time.Time `json:"rolled_back_at,omitempty"`
}

// NewMigrationListItem summarizes rec.
func NewMigrationListItem(rec ledger.MigrationRecord) MigrationListItem {
	return MigrationListItem{
		ID:                rec.ID,
		MigrationName:     rec.MigrationName,
		Checksum:          rec.Checksum,
		StartedAt:         rec.StartedAt,
		AppliedStepsCount: rec.AppliedStepsCount,
		FinishedAt:        rec.FinishedAt,
		RolledBackAt:      rec.RolledBackAt,
	}
}

// MigrationDetailResponse is a full record plus a checksum check
type MigrationDetailResponse struct {
	ledger.MigrationRecord
	ChecksumValid bool `json:"checksum_valid"`
}

// ErrorResponse is returned with every non-2xx status
type ErrorResponse struct {
	Error string `json:"error"`
}
