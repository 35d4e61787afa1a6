package sqlite

// createTableSQL is the DDL for the ledger table. Timestamps are stored as
// unix microseconds so ordering and comparisons stay numeric.
const createTableSQL = `CREATE TABLE IF NOT EXISTS %s (
    seq                  INTEGER PRIMARY KEY AUTOINCREMENT,
    id                   TEXT    NOT NULL UNIQUE,
    migration_name       TEXT    NOT NULL,
    script               TEXT    NOT NULL,
    checksum             TEXT    NOT NULL,
    started_at           INTEGER NOT NULL,
    applied_steps_count  INTEGER NOT NULL DEFAULT 0,
    logs                 TEXT    NOT NULL DEFAULT '',
    finished_at          INTEGER,
    rolled_back_at       INTEGER,
    last_fragment_digest TEXT    NOT NULL DEFAULT ''
)`

const createIndexSQL = `CREATE INDEX IF NOT EXISTS %[1]s_started_at_idx ON %[1]s (started_at, seq)`

var pragmas = []string{ //nolint:gochecknoglobals // fixed connection settings
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = FULL",
	"PRAGMA busy_timeout = 5000",
}
