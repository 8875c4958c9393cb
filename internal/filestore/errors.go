package filestore

import "errors"

var (
	// ErrNotInTransaction is returned by Add when the supplied session has
	// no open write transaction — registering a File row must happen
	// alongside whatever referencing rows the caller is about to insert.
	ErrNotInTransaction = errors.New("filestore: session has no open write transaction")
)
