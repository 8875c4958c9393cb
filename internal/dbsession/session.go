package dbsession

import (
	"context"
	"database/sql"
	"sync/atomic"
)

// Session is a thread-scoped handle on the embedded database, obtained
// from a Manager. All mutating operations must occur within a
// transaction started by BeginWrite; Add/Remove called outside one fail
// with ErrNotInTransaction.
type Session struct {
	manager  *Manager
	db       *sql.DB
	tx       *sql.Tx
	isUpdate bool

	closed        atomic.Bool
	heldWriteLock bool
}

// querier is satisfied by both *sql.DB and *sql.Tx, letting query helpers
// run unmodified whether or not the session is inside a transaction.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Session) q() querier {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// InTransaction reports whether this session currently has an open write
// transaction.
func (s *Session) InTransaction() bool {
	return s.tx != nil
}

// IsClosed reports whether Close has already been called on this
// session. Exposed so holders of a weak back-reference (livehandle's
// sessionRef) can tell a stale session apart from a live one without
// racing Close itself.
func (s *Session) IsClosed() bool {
	return s.closed.Load()
}

// BeginWrite opens a write transaction on this session. Writers across
// the whole manager are serialized: this call blocks until no other
// session holds the write lock.
func (s *Session) BeginWrite(ctx context.Context) error {
	if s.tx != nil {
		return nil
	}

	s.manager.writeMu.Lock()
	s.heldWriteLock = true

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.manager.writeMu.Unlock()
		s.heldWriteLock = false
		return err
	}
	s.tx = tx
	return nil
}

// Commit commits the open write transaction. Returns ErrNotInTransaction
// if none is open.
func (s *Session) Commit() error {
	if s.tx == nil {
		return ErrNotInTransaction
	}
	tx := s.tx
	s.tx = nil
	err := tx.Commit()
	if s.heldWriteLock {
		s.manager.writeMu.Unlock()
		s.heldWriteLock = false
	}
	return err
}

// Rollback discards the open write transaction. A no-op if none is open,
// so it is safe to defer unconditionally after BeginWrite.
func (s *Session) Rollback() error {
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	err := tx.Rollback()
	if s.heldWriteLock {
		s.manager.writeMu.Unlock()
		s.heldWriteLock = false
	}
	return err
}

// Refresh brings the session's view up to date with other sessions'
// commits. On this SQLite/WAL realization there is no server-side state
// to pull — a session outside a transaction already reads the latest
// commit on its next query. Refresh exists to satisfy the update-thread
// polling contract (§5: "while an asynchronous write is in progress on
// another thread, the update thread must call refresh to see its
// effects") and is where a different embedded engine with snapshot-
// isolated reads would need real work.
func (s *Session) Refresh() error {
	return nil
}

// Close releases the session back to its manager. Any open transaction
// is rolled back. Idempotent.
func (s *Session) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.Rollback()
	s.manager.active.Add(-1)
	s.manager.gate.RUnlock()
}
