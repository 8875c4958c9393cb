package dbsession

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"assetstore/internal/model"
)

// --- Files -----------------------------------------------------------

// AddFile inserts a File record if one with the same hash doesn't
// already exist. Must be called within a write transaction.
func (s *Session) AddFile(ctx context.Context, hash string) error {
	if s.tx == nil {
		return ErrNotInTransaction
	}
	_, err := s.q().ExecContext(ctx, `INSERT OR IGNORE INTO files (hash) VALUES (?)`, hash)
	if err != nil {
		return fmt.Errorf("adding file %s: %w", hash, err)
	}
	return nil
}

// FindFile returns the File with the given hash, or nil if none exists.
func (s *Session) FindFile(ctx context.Context, hash string) (*model.File, error) {
	row := s.q().QueryRowContext(ctx, `SELECT hash FROM files WHERE hash = ?`, hash)
	var f model.File
	if err := row.Scan(&f.Hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding file %s: %w", hash, err)
	}
	return &f, nil
}

// AllFiles returns every File record in the database.
func (s *Session) AllFiles(ctx context.Context) ([]model.File, error) {
	rows, err := s.q().QueryContext(ctx, `SELECT hash FROM files`)
	if err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}
	defer rows.Close()

	var files []model.File
	for rows.Next() {
		var f model.File
		if err := rows.Scan(&f.Hash); err != nil {
			return nil, fmt.Errorf("scanning file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// FileUsageCount returns how many NamedFileUsage rows reference hash.
func (s *Session) FileUsageCount(ctx context.Context, hash string) (int, error) {
	row := s.q().QueryRowContext(ctx, `SELECT COUNT(*) FROM named_file_usages WHERE file_hash = ?`, hash)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("counting usages of %s: %w", hash, err)
	}
	return count, nil
}

// RemoveFile deletes the File record with the given hash. Must be
// called within a write transaction.
func (s *Session) RemoveFile(ctx context.Context, hash string) error {
	if s.tx == nil {
		return ErrNotInTransaction
	}
	_, err := s.q().ExecContext(ctx, `DELETE FROM files WHERE hash = ?`, hash)
	if err != nil {
		return fmt.Errorf("removing file %s: %w", hash, err)
	}
	return nil
}

// --- Rulesets ----------------------------------------------------------

// AddRuleset inserts or updates a Ruleset by its online id.
func (s *Session) AddRuleset(ctx context.Context, r model.Ruleset) error {
	if s.tx == nil {
		return ErrNotInTransaction
	}
	if !r.OnlineID.Valid {
		return fmt.Errorf("ruleset has no online id")
	}
	_, err := s.q().ExecContext(ctx, `
		INSERT INTO rulesets (online_id, name, short_name, instantiation_hint, available)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(online_id) DO UPDATE SET
			name = excluded.name,
			short_name = excluded.short_name,
			instantiation_hint = excluded.instantiation_hint,
			available = excluded.available
	`, r.OnlineID.Int64, r.Name, r.ShortName, r.InstantiationHint, r.Available)
	if err != nil {
		return fmt.Errorf("adding ruleset %d: %w", r.OnlineID.Int64, err)
	}
	return nil
}

// FindRuleset returns the Ruleset with the given online id, or nil if
// none exists. An unavailable ruleset is returned like any other; the
// beatmap importer checks Available itself and treats an unavailable
// ruleset the same as an unknown one.
func (s *Session) FindRuleset(ctx context.Context, onlineID int64) (*model.Ruleset, error) {
	row := s.q().QueryRowContext(ctx, `
		SELECT online_id, name, short_name, instantiation_hint, available
		FROM rulesets WHERE online_id = ?`, onlineID)

	var r model.Ruleset
	if err := row.Scan(&r.OnlineID, &r.Name, &r.ShortName, &r.InstantiationHint, &r.Available); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding ruleset %d: %w", onlineID, err)
	}
	return &r, nil
}

// --- BeatmapSets ---------------------------------------------------------

// AddBeatmapSet inserts a new BeatmapSet along with its Beatmaps and
// NamedFileUsages. If updateExisting is false and a set with the same
// id already exists, returns ErrDuplicatePrimaryKey. Must be called
// within a write transaction.
func (s *Session) AddBeatmapSet(ctx context.Context, set *model.BeatmapSet, updateExisting bool) error {
	if s.tx == nil {
		return ErrNotInTransaction
	}

	existing, err := s.findBeatmapSetRow(ctx, set.ID)
	if err != nil {
		return err
	}
	if existing && !updateExisting {
		return fmt.Errorf("beatmap set %s: %w", set.ID, ErrDuplicatePrimaryKey)
	}

	_, err = s.q().ExecContext(ctx, `
		INSERT INTO beatmap_sets (id, online_id, hash, date_added, delete_pending, protected)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			online_id = excluded.online_id,
			hash = excluded.hash,
			date_added = excluded.date_added,
			delete_pending = excluded.delete_pending,
			protected = excluded.protected
	`, set.ID.String(), nullInt(set.OnlineID), set.Hash, set.DateAdded, set.DeletePending, set.Protected)
	if err != nil {
		return fmt.Errorf("adding beatmap set %s: %w", set.ID, err)
	}

	for _, usage := range set.Files {
		if err := s.AddFile(ctx, usage.FileHash); err != nil {
			return err
		}
		_, err := s.q().ExecContext(ctx, `
			INSERT OR REPLACE INTO named_file_usages (beatmap_set_id, file_hash, filename)
			VALUES (?, ?, ?)`, set.ID.String(), usage.FileHash, usage.Filename)
		if err != nil {
			return fmt.Errorf("adding named file usage %s: %w", usage.Filename, err)
		}
	}

	for i := range set.Beatmaps {
		bm := &set.Beatmaps[i]
		bm.BeatmapSetID = set.ID
		if err := s.addBeatmapRow(ctx, bm); err != nil {
			return err
		}
	}

	return nil
}

func (s *Session) findBeatmapSetRow(ctx context.Context, id uuid.UUID) (bool, error) {
	row := s.q().QueryRowContext(ctx, `SELECT 1 FROM beatmap_sets WHERE id = ?`, id.String())
	var one int
	if err := row.Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("checking beatmap set %s: %w", id, err)
	}
	return true, nil
}

func (s *Session) addBeatmapRow(ctx context.Context, bm *model.Beatmap) error {
	_, err := s.q().ExecContext(ctx, `
		INSERT INTO beatmaps (
			id, beatmap_set_id, ruleset_id, online_id, hash, md5_hash, editor_version,
			title, title_unicode, artist, artist_unicode, author, source, tags,
			preview_time, audio_file, background_file,
			drain_rate, circle_size, overall_difficulty, approach_rate, slider_multiplier, slider_tick_rate
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			ruleset_id = excluded.ruleset_id,
			online_id = excluded.online_id,
			hash = excluded.hash,
			md5_hash = excluded.md5_hash,
			editor_version = excluded.editor_version,
			title = excluded.title, title_unicode = excluded.title_unicode,
			artist = excluded.artist, artist_unicode = excluded.artist_unicode,
			author = excluded.author, source = excluded.source, tags = excluded.tags,
			preview_time = excluded.preview_time, audio_file = excluded.audio_file,
			background_file = excluded.background_file,
			drain_rate = excluded.drain_rate, circle_size = excluded.circle_size,
			overall_difficulty = excluded.overall_difficulty, approach_rate = excluded.approach_rate,
			slider_multiplier = excluded.slider_multiplier, slider_tick_rate = excluded.slider_tick_rate
	`,
		bm.ID.String(), bm.BeatmapSetID.String(), nullInt(bm.RulesetID), nullInt(bm.OnlineID),
		bm.Hash, bm.MD5Hash, bm.EditorVersion,
		bm.Metadata.Title, bm.Metadata.TitleUnicode, bm.Metadata.Artist, bm.Metadata.ArtistUnicode,
		bm.Metadata.Author, bm.Metadata.Source, bm.Metadata.Tags,
		bm.Metadata.PreviewTime, bm.Metadata.AudioFile, bm.Metadata.BackgroundFile,
		bm.Difficulty.DrainRate, bm.Difficulty.CircleSize, bm.Difficulty.OverallDifficulty,
		bm.Difficulty.ApproachRate, bm.Difficulty.SliderMultiplier, bm.Difficulty.SliderTickRate,
	)
	if err != nil {
		return fmt.Errorf("adding beatmap %s: %w", bm.ID, err)
	}
	return nil
}

// FindBeatmapSet loads a BeatmapSet (with its Beatmaps and
// NamedFileUsages) by primary key, or returns nil if none exists.
func (s *Session) FindBeatmapSet(ctx context.Context, id uuid.UUID) (*model.BeatmapSet, error) {
	row := s.q().QueryRowContext(ctx, `
		SELECT id, online_id, hash, date_added, delete_pending, protected
		FROM beatmap_sets WHERE id = ?`, id.String())
	set, err := scanBeatmapSet(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding beatmap set %s: %w", id, err)
	}
	if err := s.fillBeatmapSet(ctx, set); err != nil {
		return nil, err
	}
	return set, nil
}

// FindBeatmapSetByHash returns the BeatmapSet with the given hash, or
// nil if none exists. If more than one row matches (shouldn't happen in
// steady state, but importer collision windows can transiently produce
// it) the most recently added is returned.
func (s *Session) FindBeatmapSetByHash(ctx context.Context, hash string) (*model.BeatmapSet, error) {
	row := s.q().QueryRowContext(ctx, `
		SELECT id, online_id, hash, date_added, delete_pending, protected
		FROM beatmap_sets WHERE hash = ? ORDER BY date_added DESC LIMIT 1`, hash)
	set, err := scanBeatmapSet(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding beatmap set by hash: %w", err)
	}
	if err := s.fillBeatmapSet(ctx, set); err != nil {
		return nil, err
	}
	return set, nil
}

// FindBeatmapSetByOnlineID returns the BeatmapSet with the given online
// id, or nil if none exists.
func (s *Session) FindBeatmapSetByOnlineID(ctx context.Context, onlineID int64) (*model.BeatmapSet, error) {
	row := s.q().QueryRowContext(ctx, `
		SELECT id, online_id, hash, date_added, delete_pending, protected
		FROM beatmap_sets WHERE online_id = ?`, onlineID)
	set, err := scanBeatmapSet(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding beatmap set by online id: %w", err)
	}
	if err := s.fillBeatmapSet(ctx, set); err != nil {
		return nil, err
	}
	return set, nil
}

// AllBeatmapSets returns every BeatmapSet, fully populated.
func (s *Session) AllBeatmapSets(ctx context.Context) ([]model.BeatmapSet, error) {
	rows, err := s.q().QueryContext(ctx, `
		SELECT id, online_id, hash, date_added, delete_pending, protected FROM beatmap_sets`)
	if err != nil {
		return nil, fmt.Errorf("listing beatmap sets: %w", err)
	}
	defer rows.Close()

	var sets []model.BeatmapSet
	for rows.Next() {
		set, err := scanBeatmapSetRows(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning beatmap set: %w", err)
		}
		sets = append(sets, *set)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range sets {
		if err := s.fillBeatmapSet(ctx, &sets[i]); err != nil {
			return nil, err
		}
	}
	return sets, nil
}

func (s *Session) fillBeatmapSet(ctx context.Context, set *model.BeatmapSet) error {
	usages, err := s.findUsagesForSet(ctx, set.ID)
	if err != nil {
		return err
	}
	set.Files = usages

	beatmaps, err := s.findBeatmapsForSet(ctx, set.ID)
	if err != nil {
		return err
	}
	set.Beatmaps = beatmaps
	return nil
}

func (s *Session) findUsagesForSet(ctx context.Context, setID uuid.UUID) ([]model.NamedFileUsage, error) {
	rows, err := s.q().QueryContext(ctx, `
		SELECT beatmap_set_id, file_hash, filename FROM named_file_usages
		WHERE beatmap_set_id = ? ORDER BY filename`, setID.String())
	if err != nil {
		return nil, fmt.Errorf("listing file usages for %s: %w", setID, err)
	}
	defer rows.Close()

	var usages []model.NamedFileUsage
	for rows.Next() {
		var u model.NamedFileUsage
		var sid string
		if err := rows.Scan(&sid, &u.FileHash, &u.Filename); err != nil {
			return nil, fmt.Errorf("scanning file usage: %w", err)
		}
		u.BeatmapSetID = setID
		usages = append(usages, u)
	}
	return usages, rows.Err()
}

func (s *Session) findBeatmapsForSet(ctx context.Context, setID uuid.UUID) ([]model.Beatmap, error) {
	rows, err := s.q().QueryContext(ctx, `
		SELECT
			id, beatmap_set_id, ruleset_id, online_id, hash, md5_hash, editor_version,
			title, title_unicode, artist, artist_unicode, author, source, tags,
			preview_time, audio_file, background_file,
			drain_rate, circle_size, overall_difficulty, approach_rate, slider_multiplier, slider_tick_rate
		FROM beatmaps WHERE beatmap_set_id = ?`, setID.String())
	if err != nil {
		return nil, fmt.Errorf("listing beatmaps for %s: %w", setID, err)
	}
	defer rows.Close()

	var beatmaps []model.Beatmap
	for rows.Next() {
		bm, err := scanBeatmap(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning beatmap: %w", err)
		}
		beatmaps = append(beatmaps, *bm)
	}
	return beatmaps, rows.Err()
}

// FindBeatmapsByOnlineID returns every Beatmap across the whole database
// sharing the given online id, optionally excluding one set's members
// (used by online-id sanitation to check against sets other than the
// one currently being imported).
func (s *Session) FindBeatmapsByOnlineID(ctx context.Context, onlineID int64, excludeSetID uuid.UUID) ([]model.Beatmap, error) {
	rows, err := s.q().QueryContext(ctx, `
		SELECT
			id, beatmap_set_id, ruleset_id, online_id, hash, md5_hash, editor_version,
			title, title_unicode, artist, artist_unicode, author, source, tags,
			preview_time, audio_file, background_file,
			drain_rate, circle_size, overall_difficulty, approach_rate, slider_multiplier, slider_tick_rate
		FROM beatmaps WHERE online_id = ? AND beatmap_set_id != ?`, onlineID, excludeSetID.String())
	if err != nil {
		return nil, fmt.Errorf("finding beatmaps by online id: %w", err)
	}
	defer rows.Close()

	var beatmaps []model.Beatmap
	for rows.Next() {
		bm, err := scanBeatmap(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning beatmap: %w", err)
		}
		beatmaps = append(beatmaps, *bm)
	}
	return beatmaps, rows.Err()
}

// ClearBeatmapSetOnlineID sets the set's online_id to NULL. Must be
// called within a write transaction.
func (s *Session) ClearBeatmapSetOnlineID(ctx context.Context, id uuid.UUID) error {
	if s.tx == nil {
		return ErrNotInTransaction
	}
	_, err := s.q().ExecContext(ctx, `UPDATE beatmap_sets SET online_id = NULL WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("clearing online id for set %s: %w", id, err)
	}
	return nil
}

// ClearBeatmapSetBeatmapOnlineIDs sets online_id to NULL for every
// Beatmap owned by the given set. Must be called within a write
// transaction.
func (s *Session) ClearBeatmapSetBeatmapOnlineIDs(ctx context.Context, setID uuid.UUID) error {
	if s.tx == nil {
		return ErrNotInTransaction
	}
	_, err := s.q().ExecContext(ctx, `UPDATE beatmaps SET online_id = NULL WHERE beatmap_set_id = ?`, setID.String())
	if err != nil {
		return fmt.Errorf("clearing beatmap online ids for set %s: %w", setID, err)
	}
	return nil
}

// SetBeatmapSetDeletePending marks (or clears) the soft-delete flag.
// Must be called within a write transaction.
func (s *Session) SetBeatmapSetDeletePending(ctx context.Context, id uuid.UUID, pending bool) error {
	if s.tx == nil {
		return ErrNotInTransaction
	}
	_, err := s.q().ExecContext(ctx, `UPDATE beatmap_sets SET delete_pending = ? WHERE id = ?`, pending, id.String())
	if err != nil {
		return fmt.Errorf("setting delete_pending for set %s: %w", id, err)
	}
	return nil
}

// RemoveBeatmapSet deletes a BeatmapSet and, via ON DELETE CASCADE, its
// Beatmaps and NamedFileUsages. Must be called within a write
// transaction.
func (s *Session) RemoveBeatmapSet(ctx context.Context, id uuid.UUID) error {
	if s.tx == nil {
		return ErrNotInTransaction
	}
	_, err := s.q().ExecContext(ctx, `DELETE FROM beatmap_sets WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("removing beatmap set %s: %w", id, err)
	}
	return nil
}

// PurgeDeletePending permanently removes every BeatmapSet currently
// marked delete_pending and not protected. Must be called within a
// write transaction.
func (s *Session) PurgeDeletePending(ctx context.Context) (int, error) {
	if s.tx == nil {
		return 0, ErrNotInTransaction
	}
	res, err := s.q().ExecContext(ctx, `DELETE FROM beatmap_sets WHERE delete_pending = 1 AND protected = 0`)
	if err != nil {
		return 0, fmt.Errorf("purging delete-pending sets: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting purged sets: %w", err)
	}
	return int(n), nil
}

// --- scan helpers --------------------------------------------------------

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBeatmapSet(row rowScanner) (*model.BeatmapSet, error) {
	var set model.BeatmapSet
	var idStr string
	if err := row.Scan(&idStr, &set.OnlineID, &set.Hash, &set.DateAdded, &set.DeletePending, &set.Protected); err != nil {
		return nil, err
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("parsing beatmap set id: %w", err)
	}
	set.ID = id
	return &set, nil
}

func scanBeatmapSetRows(rows *sql.Rows) (*model.BeatmapSet, error) {
	return scanBeatmapSet(rows)
}

func scanBeatmap(row rowScanner) (*model.Beatmap, error) {
	var bm model.Beatmap
	var idStr, setIDStr string
	if err := row.Scan(
		&idStr, &setIDStr, &bm.RulesetID, &bm.OnlineID, &bm.Hash, &bm.MD5Hash, &bm.EditorVersion,
		&bm.Metadata.Title, &bm.Metadata.TitleUnicode, &bm.Metadata.Artist, &bm.Metadata.ArtistUnicode,
		&bm.Metadata.Author, &bm.Metadata.Source, &bm.Metadata.Tags,
		&bm.Metadata.PreviewTime, &bm.Metadata.AudioFile, &bm.Metadata.BackgroundFile,
		&bm.Difficulty.DrainRate, &bm.Difficulty.CircleSize, &bm.Difficulty.OverallDifficulty,
		&bm.Difficulty.ApproachRate, &bm.Difficulty.SliderMultiplier, &bm.Difficulty.SliderTickRate,
	); err != nil {
		return nil, err
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("parsing beatmap id: %w", err)
	}
	setID, err := uuid.Parse(setIDStr)
	if err != nil {
		return nil, fmt.Errorf("parsing beatmap set id: %w", err)
	}
	bm.ID = id
	bm.BeatmapSetID = setID
	return &bm, nil
}

func nullInt(n sql.NullInt64) any {
	if !n.Valid {
		return nil
	}
	return n.Int64
}
