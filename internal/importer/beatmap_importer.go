package importer

import (
	"bytes"
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"assetstore/internal/dbsession"
	"assetstore/internal/filestore"
	"assetstore/internal/model"
)

// BeatmapImporter is the Hooks implementation for beatmap-set archives:
// ".osu" files are hashable, and each is decoded into one Beatmap via a
// host-supplied Decoder.
type BeatmapImporter struct {
	Decoder Decoder
}

// HashableExtensions recognizes ".osu" text files as the sole hashable
// kind for a beatmap set.
func (b *BeatmapImporter) HashableExtensions() []string {
	return []string{".osu"}
}

// CreateModel finds the first ".osu" entry, decodes it to extract the
// owning set's online id, and returns a skeletal BeatmapSet. Everything
// else (ID, DateAdded, Hash) is filled in by the pipeline around this
// hook.
func (b *BeatmapImporter) CreateModel(archive ArchiveReader) (*model.BeatmapSet, error) {
	var representative string
	for _, name := range archive.Filenames() {
		if strings.EqualFold(filepath.Ext(name), ".osu") {
			representative = name
			break
		}
	}
	if representative == "" {
		return nil, fmt.Errorf("archive %q contains no .osu entries", archive.Name())
	}

	stream, err := archive.GetStream(representative)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", representative, err)
	}
	decoded, err := b.Decoder.Decode(stream)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", representative, err)
	}

	return &model.BeatmapSet{OnlineID: decoded.BeatmapSetOnlineID}, nil
}

// Populate reads each ".osu" entry back through the File Store (the
// in-archive stream has already been consumed while writing it there),
// decodes it, and builds the corresponding Beatmap. Entries whose
// ruleset is unknown are skipped; entries that collapse to the same
// content hash as one already added are skipped too.
func (b *BeatmapImporter) Populate(ctx context.Context, session *dbsession.Session, set *model.BeatmapSet, fs *filestore.Store) error {
	seen := make(map[string]bool, len(set.Files))

	for _, usage := range set.Files {
		if !strings.EqualFold(filepath.Ext(usage.Filename), ".osu") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		content, err := readAll(fs, usage.FileHash)
		if err != nil {
			return fmt.Errorf("re-reading %s: %w", usage.Filename, err)
		}

		decoded, err := b.Decoder.Decode(bytes.NewReader(content))
		if err != nil {
			return fmt.Errorf("decoding %s: %w", usage.Filename, err)
		}

		sha := sha256.Sum256(content)
		hash := hex.EncodeToString(sha[:])
		if seen[hash] {
			continue
		}

		bm := model.Beatmap{
			ID:           uuid.New(),
			BeatmapSetID: set.ID,
			Hash:         hash,
			MD5Hash:      hex.EncodeToString(md5Sum(content)),
			Metadata:     decoded.Metadata,
			Difficulty:   decoded.Difficulty,
			OnlineID:     decoded.OnlineID,
		}

		if !decoded.RulesetID.Valid {
			continue
		}
		ruleset, err := session.FindRuleset(ctx, decoded.RulesetID.Int64)
		if err != nil {
			return fmt.Errorf("resolving ruleset for %s: %w", usage.Filename, err)
		}
		if ruleset == nil || !ruleset.Available {
			continue
		}
		bm.RulesetID = decoded.RulesetID

		seen[hash] = true
		set.Beatmaps = append(set.Beatmaps, bm)
	}
	return nil
}

// CanSkipImport requires at least one Beatmap with a present online id
// — an unidentified beatmap set is never considered compatible with a
// re-import, since there's nothing to correlate it against.
func (b *BeatmapImporter) CanSkipImport(existing *model.BeatmapSet) bool {
	for _, bm := range existing.Beatmaps {
		if bm.OnlineID.Valid {
			return true
		}
	}
	return false
}

// CanReuseExisting requires identical sorted file hashes and sorted
// filenames between the existing and candidate sets.
func (b *BeatmapImporter) CanReuseExisting(existing, candidate *model.BeatmapSet) bool {
	return equalSortedStrings(existing.FileHashes(), candidate.FileHashes()) &&
		equalSortedStrings(existing.Filenames(), candidate.Filenames())
}

func readAll(fs *filestore.Store, hash string) ([]byte, error) {
	r, err := fs.OpenRead(hash)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func md5Sum(content []byte) []byte {
	sum := md5.Sum(content)
	return sum[:]
}
