package importer

import (
	"database/sql"
	"io"

	"assetstore/internal/model"
)

// ArchiveReader is a consumer-defined interface over whatever container
// format a caller unpacked (a zip file, an in-memory bundle, ...).
// Parsing the container itself is out of scope for this module; callers
// hand in an ArchiveReader already positioned over its entries.
type ArchiveReader interface {
	Name() string
	Filenames() []string
	GetStream(name string) (io.ReadSeeker, error)
}

// DecodedBeatmap is what a Decoder extracts from a single hashable
// archive entry: enough to build both the owning BeatmapSet's identity
// and one Beatmap row.
type DecodedBeatmap struct {
	BeatmapSetOnlineID sql.NullInt64
	OnlineID           sql.NullInt64
	RulesetID          sql.NullInt64
	Metadata           model.BeatmapMetadata
	Difficulty         model.BeatmapDifficulty
}

// Decoder turns the bytes of a single hashable file into a
// DecodedBeatmap. Parsing the beatmap text format itself is out of
// scope for this module; a Decoder implementation is supplied by the
// host.
type Decoder interface {
	Decode(r io.Reader) (DecodedBeatmap, error)
}
