// Package app is the composition root wiring the session manager, blob
// store, file store, and archive importer into a single handle the CLI
// drives.
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"assetstore/internal/applog"
	"assetstore/internal/blobstore"
	"assetstore/internal/config"
	"assetstore/internal/dbsession"
	"assetstore/internal/dbsession/migrations"
	"assetstore/internal/filestore"
	"assetstore/internal/importer"
	"assetstore/internal/livehandle"
	"assetstore/internal/model"
)

// App composes all dependencies from config and exposes the high-level
// operations the CLI drives. The caller must call Close when done.
type App struct {
	cfg       *config.Config
	manager   *dbsession.Manager
	blobs     *blobstore.Store
	files     *filestore.Store
	scheduler *importer.Scheduler
	logFile   *os.File
}

// New creates a fully wired App from cfg. decoder is the host-supplied
// beatmap text decoder handed to the archive importer's Hooks. opID
// identifies this process invocation in the log file (e.g. the CLI
// command's start timestamp).
func New(cfg *config.Config, decoder importer.Decoder, opID string) (*App, error) {
	logger, logFile, err := applog.New(cfg.LogDir, opID, config.EffectiveLogLevel(cfg))
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	adapter := &applog.Adapter{L: logger}

	blobs, err := blobstore.New(cfg.Blobstore.Root)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating blob store: %w", err)
	}

	manager, err := dbsession.NewManager(dbsession.Config{
		Path:   cfg.Database.Path,
		Logger: adapter,
	})
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("opening database: %w", err)
	}

	files := filestore.New(blobs, manager, adapter)

	imp := importer.New(importer.Config{
		Manager: manager,
		Files:   files,
		Hooks:   &importer.BeatmapImporter{Decoder: decoder},
		Logger:  adapter,
	})
	scheduler := importer.NewScheduler(imp)

	return &App{
		cfg:       cfg,
		manager:   manager,
		blobs:     blobs,
		files:     files,
		scheduler: scheduler,
		logFile:   logFile,
	}, nil
}

// Import runs an archive through the import pipeline, returning a live
// handle to the persisted (or reused) BeatmapSet. lowPriority routes the
// job onto the scheduler's low-priority queue.
func (a *App) Import(ctx context.Context, archive importer.ArchiveReader, lowPriority bool) (*livehandle.Handle[model.BeatmapSet], error) {
	return a.scheduler.Submit(ctx, archive, lowPriority)
}

// ListSets returns every beatmap set currently recorded.
func (a *App) ListSets(ctx context.Context) ([]model.BeatmapSet, error) {
	rs, err := a.manager.ReadSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening read session: %w", err)
	}
	defer rs.Close()
	return rs.AllBeatmapSets(ctx)
}

// GC sweeps the File Store for blobs no longer referenced by any
// beatmap set and removes them.
func (a *App) GC(ctx context.Context) error {
	return a.files.Cleanup(ctx)
}

// QuiesceBackup takes exclusive ownership of the database file and
// writes a consistent snapshot to destPath, demonstrating
// BlockAllOperations guarding a VACUUM INTO-style copy.
func (a *App) QuiesceBackup(ctx context.Context, destPath string) error {
	token, err := a.manager.BlockAllOperations()
	if err != nil {
		return fmt.Errorf("acquiring quiesce: %w", err)
	}
	defer token.Release()

	if err := a.manager.BackupTo(token, destPath); err != nil {
		return err
	}
	return nil
}

// SchemaStatus reports the database's schema version relative to the
// migrations embedded in this binary.
func (a *App) SchemaStatus() (migrations.Status, error) {
	return a.manager.SchemaStatus()
}

// RepairSchema clears a dirty migration flag left by an interrupted
// schema upgrade and resumes migrating to the latest version.
func (a *App) RepairSchema() error {
	return a.manager.RepairSchema()
}

// Close releases all resources held by the app.
func (a *App) Close() error {
	var firstErr error
	if err := a.manager.Close(); err != nil {
		firstErr = fmt.Errorf("closing database: %w", err)
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}

// OpID returns a process-invocation identifier suitable for tagging log
// lines: the current time formatted as a compact UTC timestamp.
func OpID() string {
	return time.Now().UTC().Format("20060102T150405Z")
}
