package postgres

// createTableSQL is the DDL for the ledger table. seq orders records that
// share a started_at value.
const createTableSQL = `CREATE TABLE IF NOT EXISTS %[1]s (
    seq                  BIGSERIAL   PRIMARY KEY,
    id                   TEXT        NOT NULL UNIQUE,
    migration_name       TEXT        NOT NULL,
    script               TEXT        NOT NULL,
    checksum             TEXT        NOT NULL,
    started_at           TIMESTAMPTZ NOT NULL,
    applied_steps_count  BIGINT      NOT NULL DEFAULT 0,
    logs                 TEXT        NOT NULL DEFAULT '',
    finished_at          TIMESTAMPTZ,
    rolled_back_at       TIMESTAMPTZ,
    last_fragment_digest TEXT        NOT NULL DEFAULT ''
)`

const createIndexSQL = `CREATE INDEX IF NOT EXISTS %[2]s ON %[1]s (started_at, seq)`
