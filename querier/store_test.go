package querier

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/gigapi/gigapi-ingestwatch/core"
	"github.com/gigapi/gigapi-ingestwatch/records"
	"github.com/google/go-cmp/cmp"
	"github.com/marcboeker/go-duckdb/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenCountsPartitions(t *testing.T) {
	s := openTestStore(t, Options{})
	ctx := context.Background()

	assert.Equal(t, testSource, s.SourceID())
	assert.Equal(t, 2, s.Count(records.PartitionToday))
	assert.Equal(t, 2, s.Count(records.PartitionLastWeekday))

	res, err := s.Query(ctx, `SELECT COUNT(*) AS n FROM data`)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int64(2)}, res.Column("n"))

	res, err = s.QueryCombined(ctx, `SELECT "partition", COUNT(*) AS n FROM data GROUP BY "partition" ORDER BY "partition"`)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"last_weekday", "today"}, res.Column("partition"))
	assert.Equal(t, []interface{}{int64(2), int64(2)}, res.Column("n"))
}

func TestTodayScopeHasOnlyToday(t *testing.T) {
	s := openTestStore(t, Options{})
	res, err := s.Query(context.Background(), `SELECT DISTINCT "partition" FROM data`)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"today"}, res.Column("partition"))
}

func TestStatusIsNormalizedAtLoad(t *testing.T) {
	s := openTestStore(t, Options{})
	res, err := s.QueryCombined(context.Background(),
		`SELECT status FROM data WHERE filename = 'orders.csv' AND "partition" = 'last_weekday'`)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"processed"}, res.Column("status"))
}

func TestValuesKeepTheirTypes(t *testing.T) {
	s := openTestStore(t, Options{})
	res, err := s.Query(context.Background(),
		`SELECT filename, "rows", is_duplicated, file_size, uploaded_at, status_message FROM data ORDER BY filename`)
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)

	want := [][]interface{}{
		{"orders.csv", int64(100), false, 2.0, time.Date(2025, 9, 8, 6, 0, 0, 0, time.UTC), nil},
		{"refunds.csv", int64(0), false, nil, time.Date(2025, 9, 8, 7, 30, 0, 0, time.UTC), "no data"},
	}
	for i := range want {
		for j := range want[i] {
			if wt, ok := want[i][j].(time.Time); ok {
				got, ok := res.Rows[i][j].(time.Time)
				require.True(t, ok, "column %s", res.Columns[j])
				assert.True(t, wt.Equal(got), "want %v, got %v", wt, got)
				continue
			}
			assert.Equal(t, want[i][j], res.Rows[i][j], "column %s", res.Columns[j])
		}
	}
}

func TestVolumeComparison(t *testing.T) {
	s := openTestStore(t, Options{})
	res, err := s.QueryCombined(context.Background(), `
		SELECT COALESCE(t.filename, l.filename) AS filename,
			t."rows" AS today_rows, l."rows" AS last_rows, t."rows" - l."rows" AS delta
		FROM (SELECT * FROM data WHERE "partition" = 'today') t
		FULL OUTER JOIN (SELECT * FROM data WHERE "partition" = 'last_weekday') l
			ON t.filename = l.filename
		ORDER BY filename`)
	require.NoError(t, err)

	want := [][]interface{}{
		{"inventory.csv", nil, int64(40), nil},
		{"orders.csv", int64(100), int64(95), int64(5)},
		{"refunds.csv", int64(0), nil, nil},
	}
	if diff := cmp.Diff(want, res.Rows); diff != "" {
		t.Errorf("volume comparison mismatch (-want +got):\n%s", diff)
	}
}

func TestQuerySameInputSameResult(t *testing.T) {
	a := openTestStore(t, Options{})
	b := openTestStore(t, Options{})
	const q = `SELECT * FROM data`

	ra, err := a.QueryCombined(context.Background(), q)
	require.NoError(t, err)
	rb, err := b.QueryCombined(context.Background(), q)
	require.NoError(t, err)
	if diff := cmp.Diff(ra, rb); diff != "" {
		t.Errorf("results differ (-a +b):\n%s", diff)
	}
	assert.Equal(t, []interface{}{"orders.csv", "refunds.csv", "orders.csv", "inventory.csv"}, ra.Column("filename"))
}

func TestQueryErrorLeavesStoreUsable(t *testing.T) {
	s := openTestStore(t, Options{})
	ctx := context.Background()

	tests := []struct {
		query string
		kind  core.QueryErrorKind
	}{
		{`SELEC * FROM data`, core.QuerySyntax},
		{`SELECT missing_column FROM data`, core.QueryBinder},
		{`SELECT * FROM other_table`, core.QueryBinder},
		{`SELECT CAST(filename AS INTEGER) FROM data`, core.QueryConversion},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			_, err := s.Query(ctx, tt.query)
			var qe *core.QueryError
			require.ErrorAs(t, err, &qe)
			assert.Equal(t, tt.kind, qe.Kind)
			assert.Equal(t, tt.query, qe.Query)
			assert.NotEmpty(t, qe.Message)

			res, err := s.Query(ctx, `SELECT COUNT(*) AS n FROM data`)
			require.NoError(t, err)
			assert.Equal(t, []interface{}{int64(2)}, res.Column("n"))
		})
	}
}

func TestModificationsAreRolledBack(t *testing.T) {
	s := openTestStore(t, Options{})
	ctx := context.Background()

	for _, q := range []string{
		`DELETE FROM data`,
		`DROP TABLE data`,
		`UPDATE data SET "rows" = 0`,
		`CREATE TABLE extra AS SELECT * FROM data`,
	} {
		_, _ = s.Query(ctx, q)
		_, _ = s.QueryCombined(ctx, q)
	}
	res, err := s.Query(ctx, `SELECT SUM("rows")::BIGINT AS total FROM data`)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int64(100)}, res.Column("total"))

	_, err = s.Query(ctx, `SELECT * FROM extra`)
	assert.True(t, core.IsQueryError(err))
}

func TestStatementsOutsideTransactionAreRefused(t *testing.T) {
	s := openTestStore(t, Options{})
	ctx := context.Background()

	for _, q := range []string{
		`COMMIT; DELETE FROM data; SELECT 1`,
		`COMMIT; DROP TABLE data; SELECT 1`,
		`SELECT 1; SELECT 2`,
		`COMMIT`,
		`ROLLBACK`,
		`BEGIN TRANSACTION`,
		`ABORT`,
		`END`,
		`ATTACH ':memory:' AS other`,
		`SET threads = 1`,
	} {
		t.Run(q, func(t *testing.T) {
			for _, run := range []func(context.Context, string) (*core.Result, error){s.Query, s.QueryCombined} {
				_, err := run(ctx, q)
				var qe *core.QueryError
				require.ErrorAs(t, err, &qe)
				assert.Equal(t, core.QueryRefused, qe.Kind)
			}

			res, err := s.Query(ctx, `SELECT COUNT(*) AS n, SUM("rows")::BIGINT AS total FROM data`)
			require.NoError(t, err)
			assert.Equal(t, [][]interface{}{{int64(2), int64(100)}}, res.Rows)

			res, err = s.QueryCombined(ctx, `SELECT COUNT(*) AS n FROM data`)
			require.NoError(t, err)
			assert.Equal(t, []interface{}{int64(4)}, res.Column("n"))
		})
	}
}

func TestRestoreRebuildsRelation(t *testing.T) {
	s := openTestStore(t, Options{})
	ctx := context.Background()

	_, err := s.today.ExecContext(ctx, `DROP TABLE data`)
	require.NoError(t, err)
	_, err = s.combined.ExecContext(ctx, `DELETE FROM data`)
	require.NoError(t, err)

	require.NoError(t, s.restore(ctx, core.ScopeToday))
	require.NoError(t, s.restore(ctx, core.ScopeCombined))

	res, err := s.Query(ctx, `SELECT COUNT(*) AS n FROM data`)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int64(2)}, res.Column("n"))
	res, err = s.QueryCombined(ctx, `SELECT COUNT(*) AS n FROM data`)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int64(4)}, res.Column("n"))
}

func TestUUIDAndIntervalValues(t *testing.T) {
	s := openTestStore(t, Options{})
	res, err := s.Query(context.Background(), `SELECT
		'6ba7b810-9dad-11d1-80b4-00c04fd430c8'::UUID AS id,
		INTERVAL '1 month 2 days 3 hours 4 minutes 5.5 seconds' AS iv,
		TIME '06:30:00' - TIME '06:00:00' AS shift`)
	require.NoError(t, err)
	assert.Equal(t, [][]interface{}{{"6ba7b810-9dad-11d1-80b4-00c04fd430c8", "1 month 2 days 03:04:05.5", "00:30:00"}}, res.Rows)
	assert.Contains(t, res.Text(), "6ba7b810-9dad-11d1-80b4-00c04fd430c8")
}

func TestFormatInterval(t *testing.T) {
	tests := []struct {
		in   duckdb.Interval
		want string
	}{
		{duckdb.Interval{}, "00:00:00"},
		{duckdb.Interval{Months: 14}, "1 year 2 months"},
		{duckdb.Interval{Days: 1}, "1 day"},
		{duckdb.Interval{Micros: -90 * 60 * 1_000_000}, "-01:30:00"},
		{duckdb.Interval{Days: 3, Micros: 1_250_000}, "3 days 00:00:01.25"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatInterval(tt.in))
	}
}

func TestExternalFilesAreNotReadable(t *testing.T) {
	s := openTestStore(t, Options{})
	_, err := s.Query(context.Background(), `SELECT * FROM read_csv_auto('/etc/passwd')`)
	assert.True(t, core.IsQueryError(err))
}

func TestResultIsBounded(t *testing.T) {
	s, err := Open(context.Background(), testSource,
		staticListings{today: processedFiles(250)}, staticDocs{testSource: testDoc}, Options{})
	require.NoError(t, err)
	defer s.Close()

	res, err := s.Query(context.Background(), `SELECT filename FROM data ORDER BY filename`)
	require.NoError(t, err)
	assert.Equal(t, 250, res.Total)
	assert.Len(t, res.Rows, DefaultMaxRows)
	assert.Equal(t, 150, res.Omitted())

	text := res.Text()
	assert.True(t, strings.HasPrefix(text, "Query returned 250 rows. Showing first 100:"))
	assert.True(t, strings.HasSuffix(text, "... (150 more rows)"))
	assert.Contains(t, text, "part_099.csv")
	assert.NotContains(t, text, "part_100.csv")
}

func TestMaxRowsOption(t *testing.T) {
	listings := staticListings{today: processedFiles(30)}
	docs := staticDocs{testSource: testDoc}

	s, err := Open(context.Background(), testSource, listings, docs, Options{MaxRows: 10})
	require.NoError(t, err)
	defer s.Close()
	res, err := s.Query(context.Background(), `SELECT * FROM data`)
	require.NoError(t, err)
	assert.Len(t, res.Rows, 10)

	unbounded, err := Open(context.Background(), testSource, listings, docs, Options{MaxRows: -1})
	require.NoError(t, err)
	defer unbounded.Close()
	res, err = unbounded.Query(context.Background(), `SELECT * FROM data`)
	require.NoError(t, err)
	assert.Len(t, res.Rows, 30)
	assert.Zero(t, res.Omitted())
}

func TestEmptyResultText(t *testing.T) {
	s := openTestStore(t, Options{})
	res, err := s.Query(context.Background(), `SELECT * FROM data WHERE "rows" > 1000`)
	require.NoError(t, err)
	assert.Zero(t, res.Total)
	assert.Equal(t, "Query executed successfully but returned no results.", res.Text())
}

func TestEmptyListingsAreLegal(t *testing.T) {
	s, err := Open(context.Background(), testSource, staticListings{}, staticDocs{testSource: testDoc}, Options{})
	require.NoError(t, err)
	defer s.Close()

	res, err := s.QueryCombined(context.Background(), `SELECT COUNT(*) AS n FROM data`)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int64(0)}, res.Column("n"))
}

func TestStrictRejectsInvalidRecords(t *testing.T) {
	_, err := memOpener(testFs(t), Options{})(context.Background(), testKey("300001"))
	require.ErrorIs(t, err, core.ErrMalformedInput)
	assert.Contains(t, err.Error(), "broken.csv")
}

func TestLenientFlagsInvalidRecords(t *testing.T) {
	s, err := memOpener(testFs(t), Options{Lenient: true})(context.Background(), testKey("300001"))
	require.NoError(t, err)
	defer s.Close()

	require.Len(t, s.Defects(), 1)
	assert.Equal(t, "broken.csv", s.Defects()[0].Filename)

	res, err := s.Query(context.Background(), `SELECT filename, quality_issue FROM data`)
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "broken.csv", res.Rows[0][0])
	assert.Contains(t, res.Rows[0][1], "empty file carries a file_size")
}

func TestUnknownStatusIsMalformed(t *testing.T) {
	recs := processedFiles(1)
	recs[0].Status = "exploded"
	_, err := Open(context.Background(), testSource, staticListings{today: recs}, staticDocs{testSource: testDoc}, Options{})
	assert.ErrorIs(t, err, core.ErrMalformedInput)
}

func TestMissingDocumentationFailsConstruction(t *testing.T) {
	_, err := Open(context.Background(), testSource, staticListings{}, staticDocs{}, Options{})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestMissingListingFailsConstruction(t *testing.T) {
	listings := staticListings{err: core.ErrNotFound}
	_, err := Open(context.Background(), testSource, listings, staticDocs{testSource: testDoc}, Options{})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestReadDocumentationIsVerbatim(t *testing.T) {
	s := openTestStore(t, Options{})
	doc, err := s.ReadDocumentation()
	require.NoError(t, err)
	assert.Equal(t, testDoc, doc)
}

func TestClosedStoreIsNotInitialized(t *testing.T) {
	s := openTestStore(t, Options{})
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.Query(context.Background(), `SELECT 1`)
	assert.ErrorIs(t, err, core.ErrNotInitialized)
	assert.False(t, core.IsQueryError(err))
	_, err = s.QueryCombined(context.Background(), `SELEC broken`)
	assert.ErrorIs(t, err, core.ErrNotInitialized)
	_, err = s.ReadDocumentation()
	assert.ErrorIs(t, err, core.ErrNotInitialized)
	_, err = s.QualityDigest(context.Background())
	assert.ErrorIs(t, err, core.ErrNotInitialized)
}

func TestZeroStoreIsNotInitialized(t *testing.T) {
	var s Store
	_, err := s.Query(context.Background(), `SELECT 1`)
	assert.ErrorIs(t, err, core.ErrNotInitialized)
	_, err = s.ReadDocumentation()
	assert.ErrorIs(t, err, core.ErrNotInitialized)
	assert.NoError(t, s.Close())
}

func TestCanceledContext(t *testing.T) {
	s := openTestStore(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Query(ctx, `SELECT * FROM data`)
	require.Error(t, err)
	assert.False(t, core.IsQueryError(err))
}
