package importer_test

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"sort"
	"testing"

	"github.com/google/uuid"

	"assetstore/internal/dbsession"
	"assetstore/internal/filestore"
	"assetstore/internal/importer"
	"assetstore/internal/model"
	"assetstore/internal/testutil"
)

// fakeArchive is a trivial in-memory ArchiveReader for tests.
type fakeArchive struct {
	name    string
	entries map[string][]byte
}

func newFakeArchive(name string, entries map[string]string) *fakeArchive {
	a := &fakeArchive{name: name, entries: make(map[string][]byte, len(entries))}
	for k, v := range entries {
		a.entries[k] = []byte(v)
	}
	return a
}

func (a *fakeArchive) Name() string { return a.name }

// Filenames returns entries in sorted order, so tests that depend on
// which entry CreateModel treats as "representative" are deterministic.
func (a *fakeArchive) Filenames() []string {
	names := make([]string, 0, len(a.entries))
	for n := range a.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (a *fakeArchive) GetStream(name string) (io.ReadSeeker, error) {
	content, ok := a.entries[name]
	if !ok {
		return nil, errors.New("no such entry")
	}
	return bytes.NewReader(content), nil
}

// fakeDecoder treats the raw bytes as "title;onlineID;setOnlineID;rulesetID".
type fakeDecoder struct{}

func (fakeDecoder) Decode(r io.Reader) (importer.DecodedBeatmap, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return importer.DecodedBeatmap{}, err
	}
	if string(content) == "FAILDECODE" {
		return importer.DecodedBeatmap{}, errors.New("simulated decode failure")
	}
	return parseFakeOsu(string(content)), nil
}

func parseFakeOsu(content string) importer.DecodedBeatmap {
	// format: title;beatmapOnlineID;setOnlineID;rulesetID (rulesetID 0 means none)
	parts := splitFakeOsu(content)
	title := parts[0]
	beatmapID := atoi64(parts[1])
	setID := atoi64(parts[2])
	rulesetID := atoi64(parts[3])

	d := importer.DecodedBeatmap{
		Metadata: model.BeatmapMetadata{Title: title},
	}
	if beatmapID != 0 {
		d.OnlineID = sql.NullInt64{Int64: beatmapID, Valid: true}
	}
	if setID != 0 {
		d.BeatmapSetOnlineID = sql.NullInt64{Int64: setID, Valid: true}
	}
	if rulesetID != 0 {
		d.RulesetID = sql.NullInt64{Int64: rulesetID, Valid: true}
	}
	return d
}

func splitFakeOsu(s string) [4]string {
	var out [4]string
	idx := 0
	start := 0
	for i := 0; i < len(s) && idx < 3; i++ {
		if s[i] == ';' {
			out[idx] = s[start:i]
			idx++
			start = i + 1
		}
	}
	out[idx] = s[start:]
	return out
}

func atoi64(s string) int64 {
	var n int64
	neg := false
	for i, c := range s {
		if i == 0 && c == '-' {
			neg = true
			continue
		}
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int64(c-'0')
	}
	if neg {
		n = -n
	}
	return n
}

func seedAvailableRuleset(t *testing.T, manager *dbsession.Manager, onlineID int64) {
	t.Helper()
	ws, err := manager.WriteSession(context.Background())
	if err != nil {
		t.Fatalf("WriteSession: %v", err)
	}
	defer ws.Close()
	r := model.Ruleset{
		OnlineID:  sql.NullInt64{Int64: onlineID, Valid: true},
		Name:      "osu!",
		ShortName: "osu",
		Available: true,
	}
	if err := ws.AddRuleset(context.Background(), r); err != nil {
		t.Fatalf("AddRuleset: %v", err)
	}
	if err := ws.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func newTestImporter(manager *dbsession.Manager, files *filestore.Store) *importer.Importer {
	return importer.New(importer.Config{
		Manager: manager,
		Files:   files,
		Hooks:   &importer.BeatmapImporter{Decoder: fakeDecoder{}},
	})
}

func TestImport_newArchiveCommitsNewSet(t *testing.T) {
	manager, files := testutil.NewRig(t)
	seedAvailableRuleset(t, manager, 1)
	imp := newTestImporter(manager, files)

	archive := newFakeArchive("My Set", map[string]string{
		"diff1.osu": "Song A;100;200;1",
		"audio.mp3": "fake audio bytes",
	})

	handle, err := imp.Import(context.Background(), archive)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}

	var gotTitle string
	var gotBeatmaps int
	err = handle.PerformRead(context.Background(), func(s model.BeatmapSet) error {
		gotBeatmaps = len(s.Beatmaps)
		if gotBeatmaps > 0 {
			gotTitle = s.Beatmaps[0].Metadata.Title
		}
		return nil
	})
	if err != nil {
		t.Fatalf("PerformRead: %v", err)
	}
	if gotBeatmaps != 1 {
		t.Fatalf("expected 1 beatmap, got %d", gotBeatmaps)
	}
	if gotTitle != "Song A" {
		t.Fatalf("expected title %q, got %q", "Song A", gotTitle)
	}
}

func TestImport_unknownRulesetEntryIsSkipped(t *testing.T) {
	manager, files := testutil.NewRig(t)
	// no ruleset seeded at all: rulesetID 0 in the fake format means "absent"
	imp := newTestImporter(manager, files)

	archive := newFakeArchive("My Set", map[string]string{
		"diff1.osu": "Song A;100;200;0",
		"audio.mp3": "fake audio bytes",
	})

	handle, err := imp.Import(context.Background(), archive)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}

	var gotBeatmaps int
	err = handle.PerformRead(context.Background(), func(s model.BeatmapSet) error {
		gotBeatmaps = len(s.Beatmaps)
		return nil
	})
	if err != nil {
		t.Fatalf("PerformRead: %v", err)
	}
	if gotBeatmaps != 0 {
		t.Fatalf("expected entry with no ruleset id to be dropped, got %d beatmap(s)", gotBeatmaps)
	}
}

func TestImport_noHashableFilesFailsModelCreation(t *testing.T) {
	manager, files := testutil.NewRig(t)
	imp := newTestImporter(manager, files)

	archive := newFakeArchive("No osu", map[string]string{
		"readme.txt": "hello",
	})

	_, err := imp.Import(context.Background(), archive)
	if !errors.Is(err, importer.ErrModelCreationFailed) {
		t.Fatalf("expected ErrModelCreationFailed, got %v", err)
	}
}

func TestImport_cancelledContextAbortsBeforeWork(t *testing.T) {
	manager, files := testutil.NewRig(t)
	imp := newTestImporter(manager, files)

	archive := newFakeArchive("Set", map[string]string{
		"diff1.osu": "Song;1;2;1",
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := imp.Import(ctx, archive)
	if !errors.Is(err, importer.ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
}

func TestImport_identicalArchiveReusesExistingSet(t *testing.T) {
	manager, files := testutil.NewRig(t)
	seedAvailableRuleset(t, manager, 1)
	imp := newTestImporter(manager, files)
	ctx := context.Background()

	archive := func() *fakeArchive {
		return newFakeArchive("My Set", map[string]string{
			"diff1.osu": "Song A;100;200;1",
		})
	}

	first, err := imp.Import(ctx, archive())
	if err != nil {
		t.Fatalf("first Import: %v", err)
	}
	var firstID uuid.UUID
	if err := first.PerformRead(ctx, func(s model.BeatmapSet) error {
		firstID = s.ID
		return nil
	}); err != nil {
		t.Fatalf("PerformRead: %v", err)
	}

	second, err := imp.Import(ctx, archive())
	if err != nil {
		t.Fatalf("second Import: %v", err)
	}
	var secondID uuid.UUID
	if err := second.PerformRead(ctx, func(s model.BeatmapSet) error {
		secondID = s.ID
		return nil
	}); err != nil {
		t.Fatalf("PerformRead: %v", err)
	}

	if firstID != secondID {
		t.Fatalf("expected re-import to reuse the same set, got %s and %s", firstID, secondID)
	}
}

func TestImport_deletePendingSetIsUnmarkedOnReimport(t *testing.T) {
	manager, files := testutil.NewRig(t)
	seedAvailableRuleset(t, manager, 1)
	imp := newTestImporter(manager, files)
	ctx := context.Background()

	archive := newFakeArchive("My Set", map[string]string{
		"diff1.osu": "Song A;100;200;1",
	})

	handle, err := imp.Import(ctx, archive)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	var parsedID uuid.UUID
	handle.PerformRead(ctx, func(s model.BeatmapSet) error { parsedID = s.ID; return nil })

	ws, err := manager.WriteSession(ctx)
	if err != nil {
		t.Fatalf("WriteSession: %v", err)
	}
	if err := ws.SetBeatmapSetDeletePending(ctx, parsedID, true); err != nil {
		t.Fatalf("SetBeatmapSetDeletePending: %v", err)
	}
	if err := ws.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	ws.Close()

	if _, err := imp.Import(ctx, newFakeArchive("My Set", map[string]string{
		"diff1.osu": "Song A;100;200;1",
	})); err != nil {
		t.Fatalf("re-import: %v", err)
	}

	rs, err := manager.ReadSession(ctx)
	if err != nil {
		t.Fatalf("ReadSession: %v", err)
	}
	defer rs.Close()
	got, err := rs.FindBeatmapSet(ctx, parsedID)
	if err != nil {
		t.Fatalf("FindBeatmapSet: %v", err)
	}
	if got == nil {
		t.Fatal("expected set to still exist")
	}
	if got.DeletePending {
		t.Fatal("expected delete_pending to be cleared by re-import")
	}
}

// TestImport_hashableEditBreaksIdentity is testable property 7 (first
// half): mutating a hashable (.osu) file yields a different primary key.
func TestImport_hashableEditBreaksIdentity(t *testing.T) {
	manager, files := testutil.NewRig(t)
	seedAvailableRuleset(t, manager, 1)
	imp := newTestImporter(manager, files)
	ctx := context.Background()

	first, err := imp.Import(ctx, newFakeArchive("My Set", map[string]string{
		"diff1.osu": "Song A;100;200;1",
		"audio.mp3": "original audio",
	}))
	if err != nil {
		t.Fatalf("first Import: %v", err)
	}
	var firstID uuid.UUID
	first.PerformRead(ctx, func(s model.BeatmapSet) error { firstID = s.ID; return nil })

	second, err := imp.Import(ctx, newFakeArchive("My Set", map[string]string{
		"diff1.osu": "Song A edited;100;200;1",
		"audio.mp3": "original audio",
	}))
	if err != nil {
		t.Fatalf("second Import: %v", err)
	}
	var secondID uuid.UUID
	second.PerformRead(ctx, func(s model.BeatmapSet) error { secondID = s.ID; return nil })

	if firstID == secondID {
		t.Fatalf("expected hashable-file edit to yield a new primary key, got the same id %s twice", firstID)
	}
}

// TestImport_nonHashableEditPreservesIdentity is testable property 7
// (second half): mutating only a non-hashable file (with filenames
// unchanged and an online id already present) resolves via the
// early-skip check and preserves the primary key.
func TestImport_nonHashableEditPreservesIdentity(t *testing.T) {
	manager, files := testutil.NewRig(t)
	seedAvailableRuleset(t, manager, 1)
	imp := newTestImporter(manager, files)
	ctx := context.Background()

	first, err := imp.Import(ctx, newFakeArchive("My Set", map[string]string{
		"diff1.osu": "Song A;100;200;1",
		"audio.mp3": "original audio",
	}))
	if err != nil {
		t.Fatalf("first Import: %v", err)
	}
	var firstID uuid.UUID
	first.PerformRead(ctx, func(s model.BeatmapSet) error { firstID = s.ID; return nil })

	second, err := imp.Import(ctx, newFakeArchive("My Set", map[string]string{
		"diff1.osu": "Song A;100;200;1",
		"audio.mp3": "re-encoded audio, different bytes",
	}))
	if err != nil {
		t.Fatalf("second Import: %v", err)
	}
	var secondID uuid.UUID
	second.PerformRead(ctx, func(s model.BeatmapSet) error { secondID = s.ID; return nil })

	if firstID != secondID {
		t.Fatalf("expected non-hashable-file edit to preserve the primary key, got %s and %s", firstID, secondID)
	}
}

// TestImport_renamedEntryBreaksIdentity is testable property 8:
// renaming any archive entry yields a different primary key, since the
// early-skip filename check and the collision-resolution reuse check
// both require identical sorted filenames.
func TestImport_renamedEntryBreaksIdentity(t *testing.T) {
	manager, files := testutil.NewRig(t)
	seedAvailableRuleset(t, manager, 1)
	imp := newTestImporter(manager, files)
	ctx := context.Background()

	first, err := imp.Import(ctx, newFakeArchive("My Set", map[string]string{
		"diff1.osu": "Song A;100;200;1",
		"audio.mp3": "original audio",
	}))
	if err != nil {
		t.Fatalf("first Import: %v", err)
	}
	var firstID uuid.UUID
	first.PerformRead(ctx, func(s model.BeatmapSet) error { firstID = s.ID; return nil })

	second, err := imp.Import(ctx, newFakeArchive("My Set", map[string]string{
		"diff1.osu":    "Song A;100;200;1",
		"audio-v2.mp3": "original audio",
	}))
	if err != nil {
		t.Fatalf("second Import: %v", err)
	}
	var secondID uuid.UUID
	second.PerformRead(ctx, func(s model.BeatmapSet) error { secondID = s.ID; return nil })

	if firstID == secondID {
		t.Fatalf("expected renamed entry to yield a new primary key, got the same id %s twice", firstID)
	}
}

// TestImport_onlineIDSanitation exercises stage 4d directly: a
// duplicate beatmap online id within the candidate set clears every
// Beatmap's online id (and the set's, since it had none of its own
// beatmaps survive with an id).
func TestImport_onlineIDSanitation(t *testing.T) {
	manager, files := testutil.NewRig(t)
	seedAvailableRuleset(t, manager, 1)
	imp := newTestImporter(manager, files)
	ctx := context.Background()

	handle, err := imp.Import(ctx, newFakeArchive("My Set", map[string]string{
		"diff1.osu": "Easy;500;900;1",
		"diff2.osu": "Hard;500;900;1",
	}))
	if err != nil {
		t.Fatalf("Import: %v", err)
	}

	var onlineIDs []bool
	err = handle.PerformRead(ctx, func(s model.BeatmapSet) error {
		for _, bm := range s.Beatmaps {
			onlineIDs = append(onlineIDs, bm.OnlineID.Valid)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("PerformRead: %v", err)
	}
	if len(onlineIDs) != 2 {
		t.Fatalf("expected 2 beatmaps, got %d", len(onlineIDs))
	}
	for i, valid := range onlineIDs {
		if valid {
			t.Fatalf("expected beatmap %d's online id to be cleared by sanitation, got a valid id", i)
		}
	}
}

// TestImport_evictsPriorOnlineIDHolder exercises evictPriorOnlineIDHolder:
// importing a set whose online id is already held by a different,
// unrelated set marks the prior holder delete_pending and clears its
// (and its beatmaps') online ids, releasing the uniqueness slot.
func TestImport_evictsPriorOnlineIDHolder(t *testing.T) {
	manager, files := testutil.NewRig(t)
	seedAvailableRuleset(t, manager, 1)
	imp := newTestImporter(manager, files)
	ctx := context.Background()

	firstHandle, err := imp.Import(ctx, newFakeArchive("Old Set", map[string]string{
		"diff1.osu": "Old Song;500;900;1",
	}))
	if err != nil {
		t.Fatalf("first Import: %v", err)
	}
	var priorID uuid.UUID
	firstHandle.PerformRead(ctx, func(s model.BeatmapSet) error { priorID = s.ID; return nil })

	// Different hashable content (different hash, different filename set
	// is not required) but the same set-level online id (900).
	if _, err := imp.Import(ctx, newFakeArchive("New Set", map[string]string{
		"diff1.osu": "New Song;501;900;1",
	})); err != nil {
		t.Fatalf("second Import: %v", err)
	}

	rs, err := manager.ReadSession(ctx)
	if err != nil {
		t.Fatalf("ReadSession: %v", err)
	}
	defer rs.Close()
	prior, err := rs.FindBeatmapSet(ctx, priorID)
	if err != nil {
		t.Fatalf("FindBeatmapSet: %v", err)
	}
	if prior == nil {
		t.Fatal("expected prior set to still exist")
	}
	if !prior.DeletePending {
		t.Fatal("expected prior online-id holder to be marked delete_pending")
	}
	if prior.OnlineID.Valid {
		t.Fatal("expected prior set's online id to be cleared")
	}
	for _, bm := range prior.Beatmaps {
		if bm.OnlineID.Valid {
			t.Fatal("expected prior set's beatmap online ids to be cleared")
		}
	}
}

// TestImport_populateFailureRollsBackEntirely is seed scenario S6: a
// failure during populate must roll back cleanly, leaving no partial
// set, beatmap, or file-usage state behind from the failed attempt.
func TestImport_populateFailureRollsBackEntirely(t *testing.T) {
	manager, files := testutil.NewRig(t)
	seedAvailableRuleset(t, manager, 1)
	imp := newTestImporter(manager, files)
	ctx := context.Background()

	ok, err := imp.Import(ctx, newFakeArchive("Good Set", map[string]string{
		"diff1.osu": "Song A;100;200;1",
	}))
	if err != nil {
		t.Fatalf("first Import: %v", err)
	}
	var goodID uuid.UUID
	ok.PerformRead(ctx, func(s model.BeatmapSet) error { goodID = s.ID; return nil })

	// "a.osu" sorts first, so CreateModel's representative-entry decode
	// (stage 1) succeeds against it; "b.osu" only gets decoded once
	// Populate (stage 4c) re-reads it back through the File Store, where
	// it fails — exercising a failure that happens after File rows have
	// already been written within the same transaction.
	_, err = imp.Import(ctx, newFakeArchive("Bad Set", map[string]string{
		"a.osu": "Song B;100;200;1",
		"b.osu": "FAILDECODE",
	}))
	if !errors.Is(err, importer.ErrPopulateFailed) {
		t.Fatalf("expected ErrPopulateFailed, got %v", err)
	}

	rs, err := manager.ReadSession(ctx)
	if err != nil {
		t.Fatalf("ReadSession: %v", err)
	}
	defer rs.Close()

	sets, err := rs.AllBeatmapSets(ctx)
	if err != nil {
		t.Fatalf("AllBeatmapSets: %v", err)
	}
	if len(sets) != 1 {
		t.Fatalf("expected exactly 1 set to survive the failed import, got %d", len(sets))
	}
	if sets[0].ID != goodID {
		t.Fatalf("expected the surviving set to be the one committed before the failure")
	}

	files2, err := rs.AllFiles(ctx)
	if err != nil {
		t.Fatalf("AllFiles: %v", err)
	}
	if len(files2) != 1 {
		t.Fatalf("expected exactly 1 file record to survive (the bad import's blob is an orphan, reclaimed later by cleanup), got %d", len(files2))
	}
}

func TestShortenFilenames_stripsCommonDirectoryPrefix(t *testing.T) {
	got := importer.ShortenFilenames([]string{"My Set/audio.mp3", "My Set/diff.osu"})
	want := []string{"audio.mp3", "diff.osu"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestShortenFilenames_noCommonPrefixLeavesNamesAlone(t *testing.T) {
	got := importer.ShortenFilenames([]string{"a/audio.mp3", "b/diff.osu"})
	want := []string{"a/audio.mp3", "b/diff.osu"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

