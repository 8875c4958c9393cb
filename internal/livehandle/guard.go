package livehandle

// AssertNotLeaked documents the contract a PerformRead/PerformWrite
// callback must honor: it receives T by value and must not stash a
// reference to session-owned state (e.g. a pointer field inside T)
// anywhere the caller can reach once the call returns. Wrapping a
// callback with it performs no runtime check — fn's signature already
// makes returning the managed record impossible — it exists as a
// marker for test authors and reviewers to grep for at call sites where
// that discipline matters most.
func AssertNotLeaked[T any](fn func(T) error) func(T) error {
	return fn
}
