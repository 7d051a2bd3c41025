package querier

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/gigapi/gigapi-ingestwatch/core"
	"github.com/gigapi/gigapi-ingestwatch/loader"
	"github.com/gigapi/gigapi-ingestwatch/records"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

const testSource = "195385"

// orders.csv arrives on both days, refunds.csv only today, inventory.csv only last weekday.
// Source 300001 carries an empty file with a size, which strict loads reject.
const todayListing = `{
  "195385": [
    {"filename": "orders.csv", "rows": 100, "status": "processed", "is_duplicated": false,
     "file_size": 2.0, "uploaded_at": "2025-09-08T06:00:00Z"},
    {"filename": "refunds.csv", "rows": 0, "status": "empty", "is_duplicated": false,
     "file_size": null, "uploaded_at": "2025-09-08T07:30:00Z", "status_message": "no data"}
  ],
  "300001": [
    {"filename": "broken.csv", "rows": 0, "status": "empty", "is_duplicated": false,
     "file_size": 0.5, "uploaded_at": "2025-09-08T09:00:00Z"}
  ]
}`

const lastWeekdayListing = `{
  "195385": [
    {"filename": "orders.csv", "rows": 95, "status": "success", "is_duplicated": false,
     "file_size": 1.9, "uploaded_at": "2025-09-01T06:00:00Z"},
    {"filename": "inventory.csv", "rows": 40, "status": "processed", "is_duplicated": true,
     "file_size": 0.8, "uploaded_at": "2025-09-01T08:00:00Z"}
  ]
}`

const testDoc = "# Source 195385\n\nDaily orders and refunds, expected before 09:00.\n"

func testFs(t *testing.T) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/day/files.json", []byte(todayListing), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/day/files_last_weekday.json", []byte(lastWeekdayListing), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/cvs/195385_native.md", []byte(testDoc), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/cvs/300001_native.md", []byte("# Source 300001\n"), 0o644))
	return fs
}

func testKey(sourceID string) CacheKey {
	return CacheKey{SourceID: sourceID, FilesDir: "/day", DocsDir: "/cvs"}
}

func memOpener(fs afero.Fs, opts Options) OpenFunc {
	return func(ctx context.Context, key CacheKey) (*Store, error) {
		return Open(ctx, key.SourceID,
			&loader.DayFolder{Fs: fs, Dir: key.FilesDir},
			&loader.DocFolder{Fs: fs, Dir: key.DocsDir}, opts)
	}
}

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c := NewCache(memOpener(testFs(t), Options{}), nil)
	t.Cleanup(func() { c.Close() })
	return c
}

func openTestStore(t *testing.T, opts Options) *Store {
	t.Helper()
	s, err := memOpener(testFs(t), opts)(context.Background(), testKey(testSource))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// staticListings serves fixed records regardless of the source asked for
type staticListings struct {
	today, last []records.FileRecord
	err         error
}

func (l staticListings) Today(context.Context, string) ([]records.FileRecord, error) {
	return l.today, l.err
}

func (l staticListings) LastWeekday(context.Context, string) ([]records.FileRecord, error) {
	return l.last, l.err
}

type staticDocs map[string]string

func (d staticDocs) Documentation(_ context.Context, sourceID string) (string, error) {
	doc, ok := d[sourceID]
	if !ok {
		return "", fmt.Errorf("%w: %s", core.ErrNotFound, loader.DocName(sourceID))
	}
	return doc, nil
}

func f64(v float64) *float64 { return &v }

func processedFiles(n int) []records.FileRecord {
	recs := make([]records.FileRecord, n)
	for i := range recs {
		recs[i] = records.FileRecord{
			SourceID:   testSource,
			Filename:   fmt.Sprintf("part_%03d.csv", i),
			Rows:       int64(i + 1),
			Status:     records.StatusProcessed,
			FileSize:   f64(0.1),
			UploadedAt: time.Date(2025, 9, 8, 0, 0, i, 0, time.UTC),
		}
	}
	return recs
}
