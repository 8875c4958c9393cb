// Package livehandle provides a cross-thread reference to a database
// record that survives the originating session closing. It captures a
// primary key rather than a session-bound row, so a caller on another
// goroutine can still read or write the record through it: the fast
// path reuses the originating session while it's open, falling back to
// a fresh one resolved by primary key.
package livehandle

import (
	"context"

	"assetstore/internal/dbsession"
)

// Resolver looks up the record a Handle refers to, using whichever
// session is available (the originating one on the fast path, a fresh
// one otherwise). It returns (nil, nil) when the record no longer
// exists, matching dbsession's query-layer convention.
type Resolver[T any] func(ctx context.Context, session *dbsession.Session) (*T, error)

// sessionRef weakly holds the session a Handle was minted from. Once
// that session closes, session() reports it as gone rather than letting
// a Handle operate against a stale *sql.Tx — there is no way to hook
// Session.Close directly, so this checks the session's own closed flag
// on every access instead, mirroring how the teacher treats an optional
// sql.NullString foreign key: present, but always re-checked before use.
type sessionRef struct {
	session *dbsession.Session
}

func (r *sessionRef) get() *dbsession.Session {
	if r == nil || r.session == nil || r.session.IsClosed() {
		return nil
	}
	return r.session
}

// Handle is a live, cross-thread reference to a single record of type
// T, identified by whatever primary key resolve closes over.
type Handle[T any] struct {
	manager *dbsession.Manager
	origin  *sessionRef
	resolve Resolver[T]
}

// New mints a Handle bound to resolve, optionally fast-pathing through
// origin while it stays open. origin may be nil, in which case every
// PerformRead opens a fresh read session.
func New[T any](manager *dbsession.Manager, origin *dbsession.Session, resolve Resolver[T]) *Handle[T] {
	return &Handle[T]{
		manager: manager,
		origin:  &sessionRef{session: origin},
		resolve: resolve,
	}
}

// PerformRead resolves the handle's record and invokes fn with it. If
// the originating session is still open and still resolves the record,
// that session is reused; otherwise a transient read session is opened
// and closed around the call. Returns ErrNotFound if the record no
// longer exists.
func (h *Handle[T]) PerformRead(ctx context.Context, fn func(T) error) error {
	if sess := h.origin.get(); sess != nil {
		if rec, err := h.resolve(ctx, sess); err == nil && rec != nil {
			return fn(*rec)
		}
	}

	sess, err := h.manager.ReadSession(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	rec, err := h.resolve(ctx, sess)
	if err != nil {
		return err
	}
	if rec == nil {
		return ErrNotFound
	}
	return fn(*rec)
}

// PerformWrite always opens a fresh write session and transaction: a
// mutation must never reuse another goroutine's in-flight session. fn
// runs inside the transaction; a nil return commits, any other return
// rolls back and is propagated to the caller.
func (h *Handle[T]) PerformWrite(ctx context.Context, fn func(T) error) error {
	sess, err := h.manager.WriteSession(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	rec, err := h.resolve(ctx, sess)
	if err != nil {
		return err
	}
	if rec == nil {
		return ErrNotFound
	}

	if err := fn(*rec); err != nil {
		sess.Rollback()
		return err
	}
	return sess.Commit()
}
