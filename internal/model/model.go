// Package model defines the record types persisted by the asset store:
// content-addressed Files, the named usages that embed them inside a
// BeatmapSet, Rulesets, and the Beatmap/BeatmapSet aggregate itself.
package model

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// File is a persisted index entry for a unique byte-content blob, keyed
// by the lowercase hex SHA-256 of its content. StoragePath is derived,
// never stored independently: hash[0]/hash[0:2]/hash.
type File struct {
	Hash string
}

// StoragePath returns the blob store path for this file's hash.
func (f File) StoragePath() string {
	return StoragePathForHash(f.Hash)
}

// StoragePathForHash derives the sharded on-disk path for a hex SHA-256 hash.
func StoragePathForHash(hash string) string {
	if len(hash) < 2 {
		return hash
	}
	return hash[0:1] + "/" + hash[0:2] + "/" + hash
}

// NamedFileUsage is the embedding of a File in a BeatmapSet under a
// parent-scoped relative filename. It has no primary key of its own;
// identity is (BeatmapSetID, Filename).
type NamedFileUsage struct {
	BeatmapSetID uuid.UUID
	FileHash     string
	Filename     string
}

// Ruleset describes a playable mode. OnlineID is optional (zero value
// means "not set" — use Valid to distinguish from ruleset id 0).
type Ruleset struct {
	OnlineID          sql.NullInt64
	Name              string
	ShortName         string
	InstantiationHint string
	Available         bool
}

// BeatmapMetadata is a value record describing a beatmap's presentation.
type BeatmapMetadata struct {
	Title          string
	TitleUnicode   string
	Artist         string
	ArtistUnicode  string
	Author         string
	Source         string
	Tags           string
	PreviewTime    int
	AudioFile      string
	BackgroundFile string
}

// BeatmapDifficulty is a value record of the six numeric difficulty
// parameters used by ruleset difficulty calculators.
type BeatmapDifficulty struct {
	DrainRate         float64
	CircleSize        float64
	OverallDifficulty float64
	ApproachRate      float64
	SliderMultiplier  float64
	SliderTickRate    float64
}

// Beatmap is a single playable difficulty owned by exactly one BeatmapSet.
type Beatmap struct {
	ID             uuid.UUID
	BeatmapSetID   uuid.UUID
	RulesetID      sql.NullInt64
	Metadata       BeatmapMetadata
	Difficulty     BeatmapDifficulty
	OnlineID       sql.NullInt64
	Hash           string // SHA-256 of the .osu text content
	MD5Hash        string // legacy MD5 of the same content
	EditorVersion  int
}

// BeatmapSet is a group of playable difficulties packaged and
// identified together. Beatmaps and Files are owned exclusively:
// removing the set cascades to both.
type BeatmapSet struct {
	ID            uuid.UUID
	OnlineID      sql.NullInt64
	Hash          string
	DateAdded     time.Time
	DeletePending bool
	Protected     bool
	Beatmaps      []Beatmap
	Files         []NamedFileUsage
}

// FileHashes returns the sorted-by-caller slice of hashes referenced by
// the set's NamedFileUsages. Sorting is the caller's responsibility
// since different comparisons (re-use checks, hash recomputation) need
// different orderings of the underlying data.
func (s *BeatmapSet) FileHashes() []string {
	hashes := make([]string, len(s.Files))
	for i, u := range s.Files {
		hashes[i] = u.FileHash
	}
	return hashes
}

// Filenames returns the filenames of the set's NamedFileUsages in
// their stored order.
func (s *BeatmapSet) Filenames() []string {
	names := make([]string, len(s.Files))
	for i, u := range s.Files {
		names[i] = u.Filename
	}
	return names
}
