// Package importer drives the archive import pipeline: turning an
// ArchiveReader into a persisted BeatmapSet, deduplicating both at the
// file level (via filestore) and at the set level (via hash and online
// id collision checks).
package importer

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"assetstore/internal/dbsession"
	"assetstore/internal/filestore"
	"assetstore/internal/livehandle"
	"assetstore/internal/model"
)

// Logger is the structured-logging seam the pipeline writes through.
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

// Importer runs the 7-stage archive import pipeline described by the
// asset library's design: create a skeletal model, fingerprint it,
// check for an early skip, populate it within a write transaction,
// resolve collisions, commit, and flush deferred events.
type Importer struct {
	manager *dbsession.Manager
	files   *filestore.Store
	hooks   Hooks
	clock   Clock
	ids     IDGenerator
	logger  Logger

	// OnEvent receives each buffered Event once its transaction commits.
	// May be nil.
	OnEvent func(Event)
}

// Config configures a new Importer.
type Config struct {
	Manager *dbsession.Manager
	Files   *filestore.Store
	Hooks   Hooks
	Clock   Clock
	IDs     IDGenerator
	Logger  Logger
	OnEvent func(Event)
}

// New builds an Importer from cfg, defaulting Clock/IDs/Logger.
func New(cfg Config) *Importer {
	if cfg.Clock == nil {
		cfg.Clock = RealClock{}
	}
	if cfg.IDs == nil {
		cfg.IDs = UUIDGenerator{}
	}
	if cfg.Logger == nil {
		cfg.Logger = nopLogger{}
	}
	return &Importer{
		manager: cfg.Manager,
		files:   cfg.Files,
		hooks:   cfg.Hooks,
		clock:   cfg.Clock,
		ids:     cfg.IDs,
		logger:  cfg.Logger,
		OnEvent: cfg.OnEvent,
	}
}

// Import runs the full pipeline against archive and returns a live
// handle to the persisted (or reused) BeatmapSet.
func (imp *Importer) Import(ctx context.Context, archive ArchiveReader) (*livehandle.Handle[model.BeatmapSet], error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCancelled, err)
	}

	// Stage 1: create skeletal model.
	set, err := imp.hooks.CreateModel(archive)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelCreationFailed, err)
	}
	set.ID = imp.ids.New()
	set.DateAdded = imp.clock.Now()

	// Stage 2: fast fingerprint.
	hash, err := imp.fingerprintArchive(archive)
	if err != nil {
		return nil, fmt.Errorf("fingerprinting %s: %w", archive.Name(), err)
	}
	set.Hash = hash

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCancelled, err)
	}

	// Stage 3: early-skip check.
	if handle, ok, err := imp.tryEarlySkip(ctx, archive, set); err != nil {
		return nil, err
	} else if ok {
		return handle, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCancelled, err)
	}

	// Stages 4-7: populate, sanitize, resolve collisions, commit, flush events.
	return imp.populateAndCommit(ctx, archive, set)
}

func (imp *Importer) tryEarlySkip(ctx context.Context, archive ArchiveReader, set *model.BeatmapSet) (*livehandle.Handle[model.BeatmapSet], bool, error) {
	rs, err := imp.manager.ReadSession(ctx)
	if err != nil {
		return nil, false, err
	}
	existing, err := rs.FindBeatmapSetByHash(ctx, set.Hash)
	rs.Close()
	if err != nil {
		return nil, false, fmt.Errorf("checking for existing set by hash: %w", err)
	}
	if existing == nil || !imp.hooks.CanSkipImport(existing) {
		return nil, false, nil
	}

	shortenedNew := sortedCopy(ShortenFilenames(archive.Filenames()))
	existingNames := sortedCopy(existing.Filenames())
	if !equalSortedStrings(shortenedNew, existingNames) {
		return nil, false, nil
	}

	ws, err := imp.manager.WriteSession(ctx)
	if err != nil {
		return nil, false, err
	}
	defer ws.Close()
	if err := ws.SetBeatmapSetDeletePending(ctx, existing.ID, false); err != nil {
		ws.Rollback()
		return nil, false, fmt.Errorf("clearing delete_pending on reused set: %w", err)
	}
	if err := ws.Commit(); err != nil {
		return nil, false, fmt.Errorf("committing early-skip reuse: %w", err)
	}

	imp.logger.Info("import skipped, reusing existing set", "set_id", existing.ID, "hash_prefix", hashPrefix(existing.Hash))
	return imp.handleFor(existing.ID), true, nil
}

func (imp *Importer) populateAndCommit(ctx context.Context, archive ArchiveReader, set *model.BeatmapSet) (_ *livehandle.Handle[model.BeatmapSet], err error) {
	ws, err := imp.manager.WriteSession(ctx)
	if err != nil {
		return nil, err
	}
	committed := false
	events := &eventQueue{}
	defer func() {
		if !committed {
			ws.Rollback()
			events.discard()
			// Populate failures are already logged by runPopulate.
			if err != nil && !errors.Is(err, ErrPopulateFailed) {
				imp.logger.Error("import failed", "hash_prefix", hashPrefix(set.Hash), "error", err)
			}
		}
		ws.Close()
	}()

	// Stage 4a: add every archive entry to the File Store.
	for _, name := range archive.Filenames() {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCancelled, err)
		}

		stream, err := archive.GetStream(name)
		if err != nil {
			return nil, fmt.Errorf("reading archive entry %s: %w", name, err)
		}
		f, err := imp.files.Add(ctx, stream, ws)
		if err != nil {
			return nil, fmt.Errorf("storing archive entry %s: %w", name, err)
		}
		set.Files = append(set.Files, model.NamedFileUsage{
			BeatmapSetID: set.ID,
			FileHash:     f.Hash,
			Filename:     name,
		})
	}
	shortened := ShortenFilenames(namesOf(set.Files))
	for i := range set.Files {
		set.Files[i].Filename = shortened[i]
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCancelled, err)
	}

	// Stage 4b: recompute hash from the now-committed File records.
	recomputed, err := imp.recomputeHash(set, archive.Name())
	if err != nil {
		return nil, fmt.Errorf("recomputing hash: %w", err)
	}
	set.Hash = recomputed

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCancelled, err)
	}

	// Stage 4c: subclass populate hook.
	if err := imp.runPopulate(ctx, ws, set); err != nil {
		return nil, err
	}

	// Stage 4d: online-id sanitation.
	if err := imp.sanitizeOnlineIDs(ctx, ws, set); err != nil {
		return nil, fmt.Errorf("sanitizing online ids: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCancelled, err)
	}

	// Stage 5: collision resolution.
	if handle, done, err := imp.resolveCollision(ctx, ws, set); err != nil {
		return nil, err
	} else if done {
		// resolveCollision already rolled back and/or committed on its
		// own terms; nothing from this attempt's event queue survived.
		committed = true
		return handle, nil
	}

	if set.OnlineID.Valid {
		if err := imp.evictPriorOnlineIDHolder(ctx, ws, set); err != nil {
			return nil, fmt.Errorf("evicting prior online-id holder: %w", err)
		}
	}

	// Stage 6: commit.
	if err := ws.AddBeatmapSet(ctx, set, true); err != nil {
		return nil, fmt.Errorf("adding beatmap set: %w", err)
	}
	if err := ws.Commit(); err != nil {
		return nil, fmt.Errorf("committing import: %w", err)
	}
	committed = true

	events.push(Event{Kind: EventSetCreated, Set: set})
	events.flush(imp.OnEvent)

	imp.logger.Info("import committed", "set_id", set.ID, "beatmaps", len(set.Beatmaps))
	return imp.handleFor(set.ID), nil
}

func (imp *Importer) runPopulate(ctx context.Context, ws *dbsession.Session, set *model.BeatmapSet) (err error) {
	defer func() {
		if r := recover(); r != nil {
			imp.logger.Error("panic during populate", "hash_prefix", hashPrefix(set.Hash), "panic", r)
			panic(r)
		}
	}()

	if err := imp.hooks.Populate(ctx, ws, set, imp.files); err != nil {
		imp.logger.Error("populate failed", "hash_prefix", hashPrefix(set.Hash), "error", err)
		return fmt.Errorf("%w: %v", ErrPopulateFailed, err)
	}
	return nil
}

// resolveCollision implements stage 5. When the in-flight candidate
// collides with an existing set that the hooks say can absorb it, the
// candidate's entire transaction (its freshly written File rows
// included) is rolled back — those blobs become orphans, reclaimed by
// the next Cleanup — and the existing set's delete_pending flag is
// cleared in its own, separately committed transaction, since that
// mutation must survive the candidate's rollback.
func (imp *Importer) resolveCollision(ctx context.Context, ws *dbsession.Session, set *model.BeatmapSet) (*livehandle.Handle[model.BeatmapSet], bool, error) {
	existing, err := ws.FindBeatmapSetByHash(ctx, set.Hash)
	if err != nil {
		return nil, false, fmt.Errorf("re-checking for existing set by hash: %w", err)
	}
	if existing == nil || existing.ID == set.ID {
		return nil, false, nil
	}

	if imp.hooks.CanReuseExisting(existing, set) {
		if err := ws.Rollback(); err != nil {
			return nil, false, fmt.Errorf("rolling back after reuse: %w", err)
		}

		clearWS, err := imp.manager.WriteSession(ctx)
		if err != nil {
			return nil, false, fmt.Errorf("opening session to clear delete_pending: %w", err)
		}
		defer clearWS.Close()
		if err := clearWS.SetBeatmapSetDeletePending(ctx, existing.ID, false); err != nil {
			clearWS.Rollback()
			return nil, false, fmt.Errorf("clearing delete_pending on reused set: %w", err)
		}
		if err := clearWS.Commit(); err != nil {
			return nil, false, fmt.Errorf("committing delete_pending clear: %w", err)
		}

		if imp.OnEvent != nil {
			imp.OnEvent(Event{Kind: EventSetReused, Set: existing})
		}
		imp.logger.Info("collision resolved by reuse", "set_id", existing.ID, "hash_prefix", hashPrefix(existing.Hash))
		return imp.handleFor(existing.ID), true, nil
	}

	if err := ws.SetBeatmapSetDeletePending(ctx, existing.ID, true); err != nil {
		return nil, false, fmt.Errorf("marking colliding set delete_pending: %w", err)
	}
	return nil, false, nil
}

func (imp *Importer) evictPriorOnlineIDHolder(ctx context.Context, ws *dbsession.Session, set *model.BeatmapSet) error {
	prior, err := ws.FindBeatmapSetByOnlineID(ctx, set.OnlineID.Int64)
	if err != nil {
		return err
	}
	if prior == nil || prior.ID == set.ID {
		return nil
	}
	if err := ws.SetBeatmapSetDeletePending(ctx, prior.ID, true); err != nil {
		return err
	}
	if err := ws.ClearBeatmapSetOnlineID(ctx, prior.ID); err != nil {
		return err
	}
	return ws.ClearBeatmapSetBeatmapOnlineIDs(ctx, prior.ID)
}

// sanitizeOnlineIDs implements stage 4d: a duplicate online id within
// the candidate set, or a collision against an existing beatmap outside
// it, clears every Beatmap's online id; if that empties out a set that
// itself carried an online id, the set's online id is cleared too.
func (imp *Importer) sanitizeOnlineIDs(ctx context.Context, ws *dbsession.Session, set *model.BeatmapSet) error {
	hadAnyBeatmapOnlineID := false
	seen := make(map[int64]bool)
	duplicateWithinSet := false
	for _, bm := range set.Beatmaps {
		if !bm.OnlineID.Valid {
			continue
		}
		hadAnyBeatmapOnlineID = true
		if seen[bm.OnlineID.Int64] {
			duplicateWithinSet = true
		}
		seen[bm.OnlineID.Int64] = true
	}

	clear := duplicateWithinSet
	if !clear {
		for _, bm := range set.Beatmaps {
			if !bm.OnlineID.Valid {
				continue
			}
			others, err := ws.FindBeatmapsByOnlineID(ctx, bm.OnlineID.Int64, set.ID)
			if err != nil {
				return err
			}
			if len(others) > 0 {
				clear = true
				break
			}
		}
	}

	if !clear {
		return nil
	}

	for i := range set.Beatmaps {
		set.Beatmaps[i].OnlineID = sql.NullInt64{}
	}
	if hadAnyBeatmapOnlineID && set.OnlineID.Valid {
		set.OnlineID = sql.NullInt64{}
	}
	return nil
}

func (imp *Importer) fingerprintArchive(archive ArchiveReader) (string, error) {
	exts := imp.hooks.HashableExtensions()
	var names []string
	for _, n := range archive.Filenames() {
		if hasHashableExt(n, exts) {
			names = append(names, n)
		}
	}
	if len(names) == 0 {
		sum := sha256.Sum256([]byte(archive.Name()))
		return hex.EncodeToString(sum[:]), nil
	}
	sort.Strings(names)

	h := sha256.New()
	for _, n := range names {
		stream, err := archive.GetStream(n)
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", n, err)
		}
		if _, err := stream.Seek(0, io.SeekStart); err != nil {
			return "", fmt.Errorf("rewinding %s: %w", n, err)
		}
		if _, err := io.Copy(h, stream); err != nil {
			return "", fmt.Errorf("hashing %s: %w", n, err)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (imp *Importer) recomputeHash(set *model.BeatmapSet, archiveName string) (string, error) {
	exts := imp.hooks.HashableExtensions()
	var hashable []model.NamedFileUsage
	for _, u := range set.Files {
		if hasHashableExt(u.Filename, exts) {
			hashable = append(hashable, u)
		}
	}
	if len(hashable) == 0 {
		sum := sha256.Sum256([]byte(archiveName))
		return hex.EncodeToString(sum[:]), nil
	}
	sort.Slice(hashable, func(i, j int) bool { return hashable[i].Filename < hashable[j].Filename })

	h := sha256.New()
	for _, u := range hashable {
		r, err := imp.files.OpenRead(u.FileHash)
		if err != nil {
			return "", fmt.Errorf("re-reading %s: %w", u.Filename, err)
		}
		_, err = io.Copy(h, r)
		r.Close()
		if err != nil {
			return "", fmt.Errorf("hashing %s: %w", u.Filename, err)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (imp *Importer) handleFor(id uuid.UUID) *livehandle.Handle[model.BeatmapSet] {
	return livehandle.New[model.BeatmapSet](imp.manager, nil, func(ctx context.Context, s *dbsession.Session) (*model.BeatmapSet, error) {
		return s.FindBeatmapSet(ctx, id)
	})
}

func hasHashableExt(name string, exts []string) bool {
	ext := filepath.Ext(name)
	for _, e := range exts {
		if strings.EqualFold(ext, e) {
			return true
		}
	}
	return false
}

func hashPrefix(hash string) string {
	if len(hash) < 5 {
		return hash
	}
	return hash[:5]
}

func namesOf(usages []model.NamedFileUsage) []string {
	names := make([]string, len(usages))
	for i, u := range usages {
		names[i] = u.Filename
	}
	return names
}

func sortedCopy(strs []string) []string {
	out := append([]string(nil), strs...)
	sort.Strings(out)
	return out
}

func equalSortedStrings(a, b []string) bool {
	a = sortedCopy(a)
	b = sortedCopy(b)
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
