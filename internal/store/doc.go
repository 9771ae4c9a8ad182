// Package store is the SQLite-backed query session.
//
// Store implements execution.Session. Explicit queries written in the
// entity query language are translated to SQLite SQL: entity names map to
// tables, alias-qualified property paths to columns, collection
// properties are stored as JSON arrays, and "MEMBER OF" and "IS EMPTY"
// are answered with json_each and json_array_length. Native queries run
// as written with only their placeholders rewritten.
//
// Entities loaded through a Store are tracked by id. Later loads of the
// same row return the tracked record until Clear is called, which is the
// behavior modifying queries rely on when they ask for the session to be
// cleared.
//
// Stored procedures are emulated by registering a SQL statement under a
// procedure name with RegisterProcedure.
package store
