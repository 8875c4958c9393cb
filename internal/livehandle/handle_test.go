package livehandle_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"assetstore/internal/dbsession"
	"assetstore/internal/livehandle"
	"assetstore/internal/model"
)

func newTestManager(t *testing.T) *dbsession.Manager {
	t.Helper()
	m, err := dbsession.NewManager(dbsession.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func resolveSet(id uuid.UUID) livehandle.Resolver[model.BeatmapSet] {
	return func(ctx context.Context, s *dbsession.Session) (*model.BeatmapSet, error) {
		return s.FindBeatmapSet(ctx, id)
	}
}

func TestHandle_performReadFastPathReusesOrigin(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	id := uuid.New()
	ws, err := m.WriteSession(ctx)
	if err != nil {
		t.Fatalf("WriteSession: %v", err)
	}
	set := &model.BeatmapSet{ID: id, Hash: "h", DateAdded: time.Now().UTC()}
	if err := ws.AddBeatmapSet(ctx, set, false); err != nil {
		t.Fatalf("AddBeatmapSet: %v", err)
	}
	if err := ws.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	defer ws.Close()

	h := livehandle.New(m, ws, resolveSet(id))

	var gotHash string
	err = h.PerformRead(ctx, func(s model.BeatmapSet) error {
		gotHash = s.Hash
		return nil
	})
	if err != nil {
		t.Fatalf("PerformRead: %v", err)
	}
	if gotHash != "h" {
		t.Fatalf("expected hash %q, got %q", "h", gotHash)
	}
}

func TestHandle_performReadFallsBackAfterOriginCloses(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	id := uuid.New()
	ws, err := m.WriteSession(ctx)
	if err != nil {
		t.Fatalf("WriteSession: %v", err)
	}
	if err := ws.AddBeatmapSet(ctx, &model.BeatmapSet{ID: id, Hash: "h", DateAdded: time.Now().UTC()}, false); err != nil {
		t.Fatalf("AddBeatmapSet: %v", err)
	}
	if err := ws.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	h := livehandle.New(m, ws, resolveSet(id))
	ws.Close()

	var gotHash string
	err = h.PerformRead(ctx, func(s model.BeatmapSet) error {
		gotHash = s.Hash
		return nil
	})
	if err != nil {
		t.Fatalf("PerformRead after origin close: %v", err)
	}
	if gotHash != "h" {
		t.Fatalf("expected hash %q, got %q", "h", gotHash)
	}
}

func TestHandle_performReadMissingReturnsErrNotFound(t *testing.T) {
	m := newTestManager(t)
	h := livehandle.New[model.BeatmapSet](m, nil, resolveSet(uuid.New()))

	err := h.PerformRead(context.Background(), func(model.BeatmapSet) error { return nil })
	if !errors.Is(err, livehandle.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestHandle_performWriteCommitsOnSuccess(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	id := uuid.New()
	ws, err := m.WriteSession(ctx)
	if err != nil {
		t.Fatalf("WriteSession: %v", err)
	}
	if err := ws.AddBeatmapSet(ctx, &model.BeatmapSet{ID: id, Hash: "h", DateAdded: time.Now().UTC()}, false); err != nil {
		t.Fatalf("AddBeatmapSet: %v", err)
	}
	if err := ws.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	ws.Close()

	h := livehandle.New[model.BeatmapSet](m, nil, resolveSet(id))

	err = h.PerformWrite(ctx, func(s model.BeatmapSet) error {
		return nil
	})
	if err != nil {
		t.Fatalf("PerformWrite: %v", err)
	}
}

func TestHandle_performWriteRollsBackOnError(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	id := uuid.New()
	ws, err := m.WriteSession(ctx)
	if err != nil {
		t.Fatalf("WriteSession: %v", err)
	}
	if err := ws.AddBeatmapSet(ctx, &model.BeatmapSet{ID: id, Hash: "h", DateAdded: time.Now().UTC()}, false); err != nil {
		t.Fatalf("AddBeatmapSet: %v", err)
	}
	if err := ws.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	ws.Close()

	h := livehandle.New[model.BeatmapSet](m, nil, resolveSet(id))
	boom := errors.New("boom")

	err = h.PerformWrite(ctx, func(model.BeatmapSet) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom error, got %v", err)
	}

	// Manager should still be fully usable afterward (rollback released
	// the write lock).
	ws2, err := m.WriteSession(ctx)
	if err != nil {
		t.Fatalf("WriteSession after rollback: %v", err)
	}
	ws2.Close()
}
