package app_test

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"assetstore/internal/app"
	"assetstore/internal/config"
	"assetstore/internal/dbsession"
	"assetstore/internal/importer"
	"assetstore/internal/model"
)

type fakeArchive struct {
	name    string
	entries map[string][]byte
}

func (a *fakeArchive) Name() string { return a.name }

func (a *fakeArchive) Filenames() []string {
	names := make([]string, 0, len(a.entries))
	for n := range a.entries {
		names = append(names, n)
	}
	return names
}

func (a *fakeArchive) GetStream(name string) (io.ReadSeeker, error) {
	content, ok := a.entries[name]
	if !ok {
		return nil, errors.New("no such entry")
	}
	return bytes.NewReader(content), nil
}

type fakeDecoder struct{}

func (fakeDecoder) Decode(r io.Reader) (importer.DecodedBeatmap, error) {
	if _, err := io.ReadAll(r); err != nil {
		return importer.DecodedBeatmap{}, err
	}
	return importer.DecodedBeatmap{
		Metadata:           model.BeatmapMetadata{Title: "Song"},
		RulesetID:          sql.NullInt64{Int64: 0, Valid: true},
		OnlineID:           sql.NullInt64{Int64: 1, Valid: true},
		BeatmapSetOnlineID: sql.NullInt64{Int64: 2, Valid: true},
	}, nil
}

// seedRuleset opens dbPath directly (ahead of app.New) to insert the
// ruleset fakeDecoder's beatmaps reference, then closes the connection
// so app.New can open its own.
func seedRuleset(t *testing.T, dbPath string) {
	t.Helper()
	m, err := dbsession.NewManager(dbsession.Config{Path: dbPath})
	if err != nil {
		t.Fatalf("dbsession.NewManager: %v", err)
	}
	defer m.Close()

	ctx := context.Background()
	ws, err := m.WriteSession(ctx)
	if err != nil {
		t.Fatalf("WriteSession: %v", err)
	}
	defer ws.Close()
	if err := ws.AddRuleset(ctx, model.Ruleset{
		OnlineID:  sql.NullInt64{Int64: 0, Valid: true},
		Name:      "osu!",
		Available: true,
	}); err != nil {
		t.Fatalf("AddRuleset: %v", err)
	}
	if err := ws.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func newTestApp(t *testing.T) *app.App {
	t.Helper()
	dir := t.TempDir()
	cfg := config.NewConfig(dir)
	cfg.Database.Path = filepath.Join(dir, "assetstore.db")

	seedRuleset(t, cfg.Database.Path)

	a, err := app.New(cfg, fakeDecoder{}, "test")
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestApp_importThenListThenGC(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	archive := &fakeArchive{name: "Set", entries: map[string][]byte{
		"diff.osu": []byte("irrelevant, fakeDecoder ignores content"),
	}}

	handle, err := a.Import(ctx, archive, false)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	var title string
	if err := handle.PerformRead(ctx, func(s model.BeatmapSet) error {
		if len(s.Beatmaps) > 0 {
			title = s.Beatmaps[0].Metadata.Title
		}
		return nil
	}); err != nil {
		t.Fatalf("PerformRead: %v", err)
	}
	if title != "Song" {
		t.Fatalf("expected title %q, got %q", "Song", title)
	}

	sets, err := a.ListSets(ctx)
	if err != nil {
		t.Fatalf("ListSets: %v", err)
	}
	if len(sets) != 1 {
		t.Fatalf("expected 1 set, got %d", len(sets))
	}

	if err := a.GC(ctx); err != nil {
		t.Fatalf("GC: %v", err)
	}
}

func TestApp_quiesceBackupWritesSnapshotFile(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	dest := filepath.Join(t.TempDir(), "snapshot.db")
	if err := a.QuiesceBackup(ctx, dest); err != nil {
		t.Fatalf("QuiesceBackup: %v", err)
	}
}

func TestOpID_returnsNonEmptyTimestamp(t *testing.T) {
	if app.OpID() == "" {
		t.Fatal("expected non-empty op id")
	}
}

func TestApp_schemaStatusReportsUpToDate(t *testing.T) {
	a := newTestApp(t)

	status, err := a.SchemaStatus()
	if err != nil {
		t.Fatalf("SchemaStatus: %v", err)
	}
	if !status.UpToDate() {
		t.Errorf("expected a freshly migrated database to be up to date, got %+v", status)
	}

	// RepairSchema against a clean database is a no-op, not an error.
	if err := a.RepairSchema(); err != nil {
		t.Errorf("RepairSchema on a clean database: %v", err)
	}
}
