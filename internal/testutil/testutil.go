// Package testutil provides shared test fixtures for the asset store:
// an in-memory, migrated session manager and a temp-dir-rooted blob
// store, both registered for automatic cleanup via t.Cleanup.
package testutil

import (
	"testing"

	"assetstore/internal/blobstore"
	"assetstore/internal/dbsession"
	"assetstore/internal/filestore"
)

// NewManager opens an in-memory SQLite database migrated to the latest
// schema and registers its Close with t.Cleanup.
func NewManager(t *testing.T) *dbsession.Manager {
	t.Helper()
	m, err := dbsession.NewManager(dbsession.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("dbsession.NewManager: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

// NewBlobStore creates a blob store rooted at a fresh t.TempDir().
func NewBlobStore(t *testing.T) *blobstore.Store {
	t.Helper()
	s, err := blobstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("blobstore.New: %v", err)
	}
	return s
}

// NewRig wires a fresh Manager and a File Store over a fresh blob
// store — the pairing most filestore/importer tests need.
func NewRig(t *testing.T) (*dbsession.Manager, *filestore.Store) {
	t.Helper()
	manager := NewManager(t)
	blobs := NewBlobStore(t)
	return manager, filestore.New(blobs, manager, nil)
}
