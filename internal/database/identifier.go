package database

import (
	"fmt"
	"regexp"
)

// DefaultLedgerTable is the table holding migration ledger records.
const DefaultLedgerTable = "_migration_ledger"

var identifierPattern = regexp.MustCompile( //nolint:gochecknoglobals // compiled once
	`^[A-Za-z_][A-Za-z0-9_]{0,62}$`,
)

// ValidateTableName rejects names that would need quoting to be used as a
// bare SQL identifier.
func ValidateTableName(name string) error {
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidTableName, name)
	}

	return nil
}
