// Package runstore persists protocol run history in SQLite.
//
// The database lives in the configured state directory and holds three
// tables: runs (one row per protocol execution), vessel_ledger (how much
// each source vessel gave and what it had left after every reagent step),
// and rotations (the primer-rotation record, so Store also satisfies
// rotation.Store). Writes retry briefly when SQLite reports the database
// busy, since the CLI and a long run may share the file.
package runstore
