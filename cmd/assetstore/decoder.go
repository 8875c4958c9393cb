package main

import (
	"bufio"
	"database/sql"
	"io"
	"strconv"
	"strings"

	"assetstore/internal/importer"
	"assetstore/internal/model"
)

// lineDecoder extracts the handful of "Key:Value" lines a .osu file's
// [General]/[Metadata] sections carry. Full beatmap text-format
// decoding is out of scope for this module; this is enough CLI glue to
// drive the import pipeline against a real archive end to end.
type lineDecoder struct{}

func (lineDecoder) Decode(r io.Reader) (importer.DecodedBeatmap, error) {
	fields := make(map[string]string)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		fields[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return importer.DecodedBeatmap{}, err
	}

	d := importer.DecodedBeatmap{
		Metadata: model.BeatmapMetadata{
			Title:          fields["Title"],
			TitleUnicode:   fields["TitleUnicode"],
			Artist:         fields["Artist"],
			ArtistUnicode:  fields["ArtistUnicode"],
			Author:         fields["Creator"],
			Source:         fields["Source"],
			Tags:           fields["Tags"],
			AudioFile:      fields["AudioFilename"],
			BackgroundFile: fields["Background"],
		},
	}
	d.OnlineID = parseNullInt(fields["BeatmapID"])
	d.BeatmapSetOnlineID = parseNullInt(fields["BeatmapSetID"])
	return d, nil
}

func parseNullInt(s string) (n sql.NullInt64) {
	if s == "" {
		return n
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return n
	}
	n.Int64 = v
	n.Valid = true
	return n
}
