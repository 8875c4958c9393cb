package importer

import (
	"context"

	"assetstore/internal/dbsession"
	"assetstore/internal/filestore"
	"assetstore/internal/model"
)

// Hooks is the archive-kind-specific behavior the generic pipeline in
// Importer dispatches to. A plain Go interface, declared once and
// swapped per archive kind — the same shape as the teacher's
// Vault/Encryptor interfaces declared next to their consumer.
type Hooks interface {
	// HashableExtensions lists the file extensions (leading dot,
	// case-insensitive) that participate in fingerprinting and are
	// parsed into domain records.
	HashableExtensions() []string

	// CreateModel inspects archive and returns a skeletal BeatmapSet, or
	// an error if the archive doesn't contain anything recognizable.
	CreateModel(archive ArchiveReader) (*model.BeatmapSet, error)

	// Populate fills in set.Beatmaps from set.Files, which have already
	// been written to fs and attached with their final filenames. Must
	// run inside session's open write transaction.
	Populate(ctx context.Context, session *dbsession.Session, set *model.BeatmapSet, fs *filestore.Store) error

	// CanSkipImport reports whether an existing set found by hash is
	// "compatible enough" that a re-import can be short-circuited
	// without populating a new set; the pipeline then only clears the
	// existing set's delete_pending flag in a short write transaction.
	CanSkipImport(existing *model.BeatmapSet) bool

	// CanReuseExisting reports whether an existing set found by the
	// post-populate hash collision check should absorb the in-flight
	// import rather than the candidate being committed as new.
	CanReuseExisting(existing, candidate *model.BeatmapSet) bool
}
