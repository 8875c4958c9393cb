package dbsession

import "errors"

// Error kinds surfaced by the session manager and scoped sessions.
var (
	// ErrClosed is returned when the manager is used after Close.
	ErrClosed = errors.New("dbsession: manager closed")
	// ErrStorageUnavailable is returned when the backing database file
	// cannot be opened.
	ErrStorageUnavailable = errors.New("dbsession: storage unavailable")
	// ErrSchemaMigrationFailed is returned by NewManager when the schema
	// upgrade or the post-migration hook fails while the database is
	// being opened.
	ErrSchemaMigrationFailed = errors.New("dbsession: schema migration failed")
	// ErrNotInTransaction is returned when a mutating call is made on a
	// session that has no open write transaction.
	ErrNotInTransaction = errors.New("dbsession: not in transaction")
	// ErrNotFound is returned when a record cannot be resolved by primary key.
	ErrNotFound = errors.New("dbsession: not found")
	// ErrDuplicatePrimaryKey is returned by Add when update_existing is
	// false and a record with the same primary key already exists.
	ErrDuplicatePrimaryKey = errors.New("dbsession: duplicate primary key")
)
