// Package filestore is the content-addressed layer over a blobstore.Store:
// it hashes incoming content, deduplicates against what's already on
// disk, and reconciles the on-disk blob set against the database's
// usage records.
package filestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"assetstore/internal/blobstore"
	"assetstore/internal/dbsession"
	"assetstore/internal/model"
)

// Logger is the structured-logging seam Cleanup writes through.
// Declared here, next to its consumer, rather than in a shared logging
// package.
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

// Store dedups content against a blobstore.Store and keeps a
// dbsession-backed index of what's stored, content-addressed by
// SHA-256.
type Store struct {
	blobs   *blobstore.Store
	manager *dbsession.Manager
	logger  Logger
}

// New builds a Store over blobs, using manager for the sessions
// Cleanup needs on its own. logger may be nil.
func New(blobs *blobstore.Store, manager *dbsession.Manager, logger Logger) *Store {
	if logger == nil {
		logger = nopLogger{}
	}
	return &Store{blobs: blobs, manager: manager, logger: logger}
}

// Add hashes stream's full content, registers a File row for it within
// session's open write transaction, and copies the content into the
// blob store if it isn't already there. stream must support Seek back
// to its start — Add rewinds it both before hashing and before copying.
//
// If a File with the computed hash already exists, the on-disk blob is
// re-verified by recomputing its hash; a mismatch (a corrupted existing
// blob) triggers a repair write from stream rather than silently
// trusting the stale bytes.
func (s *Store) Add(ctx context.Context, stream io.ReadSeeker, session *dbsession.Session) (model.File, error) {
	if !session.InTransaction() {
		return model.File{}, ErrNotInTransaction
	}

	hash, err := hashStream(stream)
	if err != nil {
		return model.File{}, fmt.Errorf("hashing content: %w", err)
	}

	storagePath := model.StoragePathForHash(hash)

	existing, err := session.FindFile(ctx, hash)
	if err != nil {
		return model.File{}, fmt.Errorf("looking up existing file %s: %w", hash, err)
	}

	needsWrite := existing == nil
	if existing != nil && !s.verifyOnDisk(storagePath, hash) {
		s.logger.Warn("existing blob failed verification, rewriting", "hash", hash)
		needsWrite = true
	}

	if needsWrite {
		if _, err := stream.Seek(0, io.SeekStart); err != nil {
			return model.File{}, fmt.Errorf("rewinding content before write: %w", err)
		}
		if err := s.writeBlob(storagePath, stream); err != nil {
			return model.File{}, err
		}
	}

	if err := session.AddFile(ctx, hash); err != nil {
		return model.File{}, fmt.Errorf("registering file %s: %w", hash, err)
	}

	return model.File{Hash: hash}, nil
}

func hashStream(stream io.ReadSeeker) (string, error) {
	if _, err := stream.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewinding content before hashing: %w", err)
	}
	h := sha256.New()
	if _, err := io.Copy(h, stream); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// OpenRead opens the blob for hash for reading. Used by importers that
// need to re-read content whose original source stream has already
// been consumed (e.g. an archive entry, read once into the store).
func (s *Store) OpenRead(hash string) (io.ReadCloser, error) {
	return s.blobs.OpenRead(model.StoragePathForHash(hash))
}

func (s *Store) verifyOnDisk(storagePath, wantHash string) bool {
	r, err := s.blobs.OpenRead(storagePath)
	if err != nil {
		return false
	}
	defer r.Close()

	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return false
	}
	return hex.EncodeToString(h.Sum(nil)) == wantHash
}

func (s *Store) writeBlob(storagePath string, content io.Reader) error {
	w, err := s.blobs.OpenWrite(storagePath)
	if err != nil {
		return fmt.Errorf("opening blob for write: %w", err)
	}
	if _, err := io.Copy(w, content); err != nil {
		w.Abort()
		return fmt.Errorf("writing blob: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("committing blob: %w", err)
	}
	return nil
}

// Cleanup removes every File no longer referenced by any
// NamedFileUsage, along with its on-disk blob. Deletion failures for an
// individual file are logged and do not abort the sweep.
func (s *Store) Cleanup(ctx context.Context) error {
	sess, err := s.manager.WriteSession(ctx)
	if err != nil {
		return fmt.Errorf("opening cleanup session: %w", err)
	}
	defer sess.Close()

	files, err := sess.AllFiles(ctx)
	if err != nil {
		return fmt.Errorf("listing files: %w", err)
	}

	removed := 0
	for _, f := range files {
		count, err := sess.FileUsageCount(ctx, f.Hash)
		if err != nil {
			s.logger.Error("checking file usage", "hash", f.Hash, "error", err)
			continue
		}
		if count > 0 {
			continue
		}

		if err := s.blobs.Delete(f.StoragePath()); err != nil {
			s.logger.Error("deleting orphaned blob", "hash", f.Hash, "error", err)
			continue
		}
		if err := sess.RemoveFile(ctx, f.Hash); err != nil {
			s.logger.Error("removing orphaned file record", "hash", f.Hash, "error", err)
			continue
		}
		removed++
	}

	if err := sess.Commit(); err != nil {
		return fmt.Errorf("committing cleanup: %w", err)
	}
	s.logger.Info("cleanup complete", "removed", removed, "scanned", len(files))
	return nil
}
