// Package store persists acquisition state in SQLite.
//
// One Store owns the catalog, the wanted list, the blacklist, failed-search
// counters, unmatched library files and per-provider daily usage. Each entity
// family has its own file of typed methods; there is no generic row access.
//
// Writes are serialized through a single mutex and retried on SQLITE_BUSY
// with exponential backoff; reads go straight to the pool. Schema changes bump
// schemaVersion in schema.go; an older database is rejected with
// ErrSchemaMismatch rather than migrated in place.
package store
