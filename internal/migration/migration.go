package migration

import "github.com/aqasim81/migration-ledger/internal/ledger"

// ScriptFile is the file holding a migration's script inside its directory.
const ScriptFile = "migration.sql"

// Migration is a migration script loaded from disk.
type Migration struct {
	Name     string // directory name, e.g. "20240101120000_create_users"
	Script   string // exact contents of migration.sql
	Checksum string // same digest the ledger stores for Script
	Path     string // path to migration.sql
}

// NewMigration builds a Migration for script, computing its checksum.
func NewMigration(name, script, path string) Migration {
	return Migration{
		Name:     name,
		Script:   script,
		Checksum: ledger.Checksum(script),
		Path:     path,
	}
}
