// Package ledger records the lifecycle of migration scripts applied by a
// migration engine: when each attempt started, which steps succeeded, the
// accumulated logs, and whether it finished.
//
// Every mutation is an append or a monotonic increment. Reading a record
// always answers "what happened, up to the point things stopped".
//
// The ledger write and the schema change it describes are not committed in
// one transaction. DDL commits implicitly on most databases, so a crash
// between executing a step and recording it leaves the ledger
// under-reporting progress. Step recording is at-least-once: a canceled
// call may or may not have been applied, and a retry can duplicate the log
// fragment unless StepPolicySuppressRepeat is configured.
//
// No operation sets MigrationRecord.RolledBackAt. Backends surface the
// value if another process wrote it to the same storage.
package ledger
