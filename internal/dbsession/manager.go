// Package dbsession owns the single embedded SQLite database file and
// multiplexes reader and writer sessions over it, mirroring the session
// manager + object schema described by the asset store design: one
// long-lived "update session" bound to a single caller-designated thread,
// any number of short-lived read sessions, serialized write sessions, and
// a global quiesce operation that drains all of the above before handing
// a caller exclusive ownership of the file (for compaction, move, or
// reset).
package dbsession

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"

	_ "github.com/mattn/go-sqlite3"

	"assetstore/internal/dbsession/migrations"
)

// Logger is the minimal structured-logging seam the session manager
// writes through. Declared here, next to its consumer, rather than in a
// shared logging package — satisfied by *applog.Adapter in production and
// a no-op in tests.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Config configures a new Manager.
type Config struct {
	// Path is the SQLite database file path, or ":memory:" for an
	// in-memory database (tests only — an in-memory database cannot be
	// shared across sessions created on different *sql.DB connections,
	// but this package keeps one *sql.DB for the manager's lifetime so
	// that restriction never bites).
	Path string

	// PostMigrationHook runs in its own transaction once the schema
	// migration has completed. It is a no-op extension point for
	// host-supplied data backfills; nil disables it.
	PostMigrationHook func(*sql.Tx) error

	Logger Logger
}

// Manager owns the database file and is the only component in this
// module that knows the physical file exists.
type Manager struct {
	path   string
	db     *sql.DB
	logger Logger

	// gate implements quiesce: every session holds gate.RLock() for its
	// lifetime; BlockAllOperations takes gate.Lock(), which blocks new
	// sessions and waits for all outstanding ones to release.
	gate sync.RWMutex

	// writeMu serializes write transactions across all sessions
	// (including the update session, when it begins a write).
	writeMu sync.Mutex

	active atomic.Int64

	mu            sync.Mutex // guards updateSession and closed below
	updateSession *Session
	closed        bool
}

// NewManager opens (creating if necessary) the database at cfg.Path and
// brings its schema up to the latest embedded migration.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Logger == nil {
		cfg.Logger = nopLogger{}
	}

	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: enabling foreign keys: %v", ErrStorageUnavailable, err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: enabling WAL mode: %v", ErrStorageUnavailable, err)
	}

	if err := migrations.Up(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrSchemaMigrationFailed, err)
	}

	if cfg.PostMigrationHook != nil {
		tx, err := db.Begin()
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: starting post-migration hook: %v", ErrSchemaMigrationFailed, err)
		}
		if err := cfg.PostMigrationHook(tx); err != nil {
			tx.Rollback()
			db.Close()
			return nil, fmt.Errorf("%w: post-migration hook: %v", ErrSchemaMigrationFailed, err)
		}
		if err := tx.Commit(); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: committing post-migration hook: %v", ErrSchemaMigrationFailed, err)
		}
	}

	return &Manager{path: cfg.Path, db: db, logger: cfg.Logger}, nil
}

// newSession acquires the quiesce gate and increments the active-usage
// counter before handing back a fresh Session. Callers must Close() the
// returned session exactly once.
func (m *Manager) newSession() (*Session, error) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	m.gate.RLock()
	m.active.Add(1)

	return &Session{manager: m, db: m.db}, nil
}

// UpdateSession returns the long-lived session bound to the single
// "update" thread. It is created lazily on first call and the same
// instance is returned on every subsequent call until it is closed by
// BlockAllOperations (or explicitly released, after which the next call
// creates a new one).
func (m *Manager) UpdateSession() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	if m.updateSession != nil && !m.updateSession.closed.Load() {
		return m.updateSession, nil
	}

	m.gate.RLock()
	m.active.Add(1)
	sess := &Session{manager: m, db: m.db, isUpdate: true}
	m.updateSession = sess
	return sess, nil
}

// ReadSession returns a fresh session usable from any goroutine, valid
// only for the duration of the caller's operation. Multiple read
// sessions may exist concurrently.
func (m *Manager) ReadSession(ctx context.Context) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.newSession()
}

// WriteSession returns a fresh session with a write transaction already
// open. Writers are fully serialized: only one write session may be
// inside its transaction at a time, across the whole manager (including
// the update session, should it begin a write of its own).
func (m *Manager) WriteSession(ctx context.Context) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sess, err := m.newSession()
	if err != nil {
		return nil, err
	}
	if err := sess.BeginWrite(ctx); err != nil {
		sess.Close()
		return nil, err
	}
	return sess, nil
}

// ActiveSessionCount reports the number of sessions currently holding
// the quiesce gate. Exposed for tests and diagnostics.
func (m *Manager) ActiveSessionCount() int64 {
	return m.active.Load()
}

// QuiesceToken is returned by BlockAllOperations. The gate stays held
// until Release is called.
type QuiesceToken struct {
	manager  *Manager
	released atomic.Bool
}

// Release ends the quiesce, allowing new sessions to be created again.
func (t *QuiesceToken) Release() {
	if t.released.CompareAndSwap(false, true) {
		t.manager.gate.Unlock()
	}
}

// BlockAllOperations acquires exclusive ownership of the database file:
// it closes the update session, waits for every other outstanding
// session to be released, and blocks any new session from being created
// until the returned token is released. Use for operations that need
// exclusive ownership of the backing file (compaction, move, reset).
func (m *Manager) BlockAllOperations() (*QuiesceToken, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	us := m.updateSession
	m.updateSession = nil
	m.mu.Unlock()

	if us != nil {
		us.Close()
	}

	m.gate.Lock()
	m.logger.Info("quiesce acquired", "active_sessions", m.active.Load())
	return &QuiesceToken{manager: m}, nil
}

// Compact reclaims space in the backing file. Only valid while holding a
// QuiesceToken, since SQLite's VACUUM requires exclusive access.
func (m *Manager) Compact(_ *QuiesceToken) error {
	_, err := m.db.Exec("VACUUM")
	if err != nil {
		return fmt.Errorf("compacting database: %w", err)
	}
	return nil
}

// BackupTo writes a consistent snapshot of the database to destPath
// using SQLite's VACUUM INTO. Only valid while holding a QuiesceToken.
func (m *Manager) BackupTo(_ *QuiesceToken, destPath string) error {
	_, err := m.db.Exec("VACUUM INTO ?", destPath)
	if err != nil {
		return fmt.Errorf("backing up database to %s: %w", destPath, err)
	}
	return nil
}

// Reset deletes all data from every table. Only valid while holding a
// QuiesceToken.
func (m *Manager) Reset(_ *QuiesceToken) error {
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("starting reset transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"named_file_usages", "beatmaps", "beatmap_sets", "rulesets", "files"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("clearing table %s: %w", table, err)
		}
	}
	return tx.Commit()
}

// SchemaStatus reports the database's schema version relative to the
// migrations embedded in the running binary.
func (m *Manager) SchemaStatus() (migrations.Status, error) {
	return migrations.CheckStatus(m.db)
}

// RepairSchema clears a dirty migration flag left by an interrupted Up
// and resumes migrating to the latest version. It is a no-op against a
// database that isn't dirty.
func (m *Manager) RepairSchema() error {
	return migrations.Repair(m.db)
}

// Close shuts down the manager and its backing database connection. Any
// session obtained before Close is still safe to release, but no new
// session may be created afterward.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	us := m.updateSession
	m.updateSession = nil
	m.mu.Unlock()

	if us != nil {
		us.Close()
	}

	return m.db.Close()
}
