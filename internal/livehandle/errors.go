package livehandle

import "errors"

var (
	// ErrNotFound is returned when the handle's primary key no longer
	// resolves to a record, in either the originating session or a
	// freshly opened one.
	ErrNotFound = errors.New("livehandle: record not found")

	// ErrLeakedManagedObject documents the contract PerformRead and
	// PerformWrite rely on Go's type system to enforce: the callback
	// receives T by value and returns only error, so there is no return
	// path by which it could hand the live, session-bound record back to
	// its caller. This sentinel exists for the case a future callback
	// shape widens that contract and needs a runtime guard reinstated.
	ErrLeakedManagedObject = errors.New("livehandle: managed object escaped its session")
)
