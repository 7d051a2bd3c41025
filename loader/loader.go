// Package loader fetches per-day file listings and source documentation.
//
// A listing is a JSON object keyed by source id, each value being the list of file
// observations reported for that source on that day:
//
//	{"195385": [{"filename": "...", "rows": 10, "status": "processed", ...}]}
//
// A day folder holds two listings, files.json for the day itself and
// files_last_weekday.json for the reference weekday.
package loader

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/gigapi/gigapi-ingestwatch/core"
	"github.com/gigapi/gigapi-ingestwatch/records"
	json "github.com/goccy/go-json"
)

const (
	TodayListing       = "files.json"
	LastWeekdayListing = "files_last_weekday.json"
	docSuffix          = "_native.md"
)

// Listings supplies the file observations of one source for both time windows
type Listings interface {
	Today(ctx context.Context, sourceID string) ([]records.FileRecord, error)
	LastWeekday(ctx context.Context, sourceID string) ([]records.FileRecord, error)
}

// Docs supplies the free-text documentation of a source
type Docs interface {
	Documentation(ctx context.Context, sourceID string) (string, error)
}

// DocName is the documentation file name for sourceID
func DocName(sourceID string) string {
	return sourceID + docSuffix
}

type entry struct {
	Filename      string    `json:"filename"`
	Rows          int64     `json:"rows"`
	Status        string    `json:"status"`
	IsDuplicated  bool      `json:"is_duplicated"`
	FileSize      *float64  `json:"file_size"`
	UploadedAt    timestamp `json:"uploaded_at"`
	StatusMessage *string   `json:"status_message"`
}

// timestamp accepts the formats seen in listings: RFC3339 with or without zone,
// and space-separated date/time
type timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

func (t *timestamp) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("uploaded_at: %w", err)
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

// ParseTimestamp parses s with the listing layouts. Values without a zone are UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// DecodeListing reads a listing and returns the records of every source, in file order
func DecodeListing(r io.Reader) (map[string][]records.FileRecord, error) {
	var raw map[string][]entry
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: decode listing: %v", core.ErrMalformedInput, err)
	}
	res := make(map[string][]records.FileRecord, len(raw))
	for sourceID, entries := range raw {
		recs := make([]records.FileRecord, len(entries))
		for i, e := range entries {
			recs[i] = records.FileRecord{
				SourceID:      sourceID,
				Filename:      e.Filename,
				Rows:          e.Rows,
				Status:        records.Status(e.Status),
				IsDuplicated:  e.IsDuplicated,
				FileSize:      e.FileSize,
				UploadedAt:    e.UploadedAt.Time,
				StatusMessage: e.StatusMessage,
			}
		}
		res[sourceID] = recs
	}
	return res, nil
}

// SourceIDs returns the sorted union of source ids across listings
func SourceIDs(listings ...map[string][]records.FileRecord) []string {
	seen := map[string]struct{}{}
	for _, l := range listings {
		for id := range l {
			seen[id] = struct{}{}
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
