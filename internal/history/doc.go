// Package history persists an audit log of enhancement jobs in SQLite.
//
// Each job inserts a row when it starts and updates it when it ends, so a
// crashed run remains visible as "running". The database is never used to
// schedule work. Writes retry briefly on SQLITE_BUSY because separate hush
// processes may share one log directory.
package history
