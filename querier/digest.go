package querier

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gigapi/gigapi-ingestwatch/core"
	"github.com/gigapi/gigapi-ingestwatch/records"
)

const digestQuery = `SELECT
	COUNT(*) AS total_files,
	COUNT(DISTINCT source_id) AS unique_sources,
	CAST(COALESCE(SUM(CASE WHEN "rows" = 0 THEN 1 ELSE 0 END), 0) AS BIGINT) AS empty_files,
	CAST(COALESCE(SUM(CASE WHEN is_duplicated THEN 1 ELSE 0 END), 0) AS BIGINT) AS duplicates,
	MIN(uploaded_at) AS earliest_upload,
	MAX(uploaded_at) AS latest_upload,
	CAST(COALESCE(SUM("rows"), 0) AS BIGINT) AS total_rows,
	CAST(COALESCE(SUM(file_size), 0) AS DOUBLE) AS total_size
FROM data`

const statusQuery = `SELECT status, COUNT(*) AS files FROM data GROUP BY status ORDER BY status`

// Digest is the fixed quality summary of today's files
type Digest struct {
	SourceID        string           `json:"source_id" yaml:"source_id"`
	TotalFiles      int64            `json:"total_files" yaml:"total_files"`
	DistinctSources int64            `json:"distinct_sources" yaml:"distinct_sources"`
	EmptyFiles      int64            `json:"empty_files" yaml:"empty_files"`
	DuplicatedFiles int64            `json:"duplicated_files" yaml:"duplicated_files"`
	StatusCounts    map[string]int64 `json:"status_counts" yaml:"status_counts"`
	EarliestUpload  *time.Time       `json:"earliest_upload" yaml:"earliest_upload"`
	LatestUpload    *time.Time       `json:"latest_upload" yaml:"latest_upload"`
	TotalRows       int64            `json:"total_rows" yaml:"total_rows"`
	TotalFileSize   float64          `json:"total_file_size" yaml:"total_file_size"`

	// Percentages; nil when there are no files today
	DuplicateRate *float64 `json:"duplicate_rate" yaml:"duplicate_rate"`
	EmptyFileRate *float64 `json:"empty_file_rate" yaml:"empty_file_rate"`
	SuccessRate   *float64 `json:"success_rate" yaml:"success_rate"`
}

// QualityDigest aggregates today's records. An empty day yields zero counts and nil rates.
func (s *Store) QualityDigest(ctx context.Context) (*Digest, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.engine(core.ScopeToday)
	if err != nil {
		return nil, err
	}

	d := &Digest{SourceID: s.sourceID, StatusCounts: map[string]int64{}}
	var earliest, latest sql.NullTime
	err = db.QueryRowContext(ctx, digestQuery).Scan(
		&d.TotalFiles, &d.DistinctSources, &d.EmptyFiles, &d.DuplicatedFiles,
		&earliest, &latest, &d.TotalRows, &d.TotalFileSize,
	)
	if err != nil {
		return nil, fmt.Errorf("error in data quality check: %w", err)
	}
	if earliest.Valid {
		d.EarliestUpload = &earliest.Time
	}
	if latest.Valid {
		d.LatestUpload = &latest.Time
	}

	rows, err := db.QueryContext(ctx, statusQuery)
	if err != nil {
		return nil, fmt.Errorf("error in data quality check: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("error scanning status counts: %w", err)
		}
		d.StatusCounts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating status counts: %w", err)
	}

	d.DuplicateRate = percent(d.DuplicatedFiles, d.TotalFiles)
	d.EmptyFileRate = percent(d.EmptyFiles, d.TotalFiles)
	d.SuccessRate = percent(d.StatusCounts[string(records.StatusProcessed)], d.TotalFiles)
	return d, nil
}

func percent(n, total int64) *float64 {
	if total == 0 {
		return nil
	}
	p := float64(n) / float64(total) * 100
	return &p
}

func formatRate(p *float64) string {
	if p == nil {
		return "undefined"
	}
	return fmt.Sprintf("%.1f%%", *p)
}

func formatTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

// Text renders the digest for a human or a prompt context
func (d *Digest) Text() string {
	statuses := make([]string, 0, len(d.StatusCounts))
	for status := range d.StatusCounts {
		statuses = append(statuses, status)
	}
	sort.Strings(statuses)
	counts := make([]string, len(statuses))
	for i, status := range statuses {
		counts[i] = fmt.Sprintf("%s=%d", status, d.StatusCounts[status])
	}

	table := core.Markdown(
		[]string{"total_files", "unique_sources", "empty_files", "duplicates", "status_counts",
			"earliest_upload", "latest_upload", "total_rows", "total_size"},
		[][]interface{}{{
			d.TotalFiles, d.DistinctSources, d.EmptyFiles, d.DuplicatedFiles, strings.Join(counts, " "),
			formatTime(d.EarliestUpload), formatTime(d.LatestUpload), d.TotalRows, d.TotalFileSize,
		}},
	)

	var b strings.Builder
	b.WriteString("Data Quality Summary for Today:\n")
	b.WriteString(table)
	b.WriteString("\n\nQuick Insights:\n")
	fmt.Fprintf(&b, "- Success Rate: %s\n", formatRate(d.SuccessRate))
	fmt.Fprintf(&b, "- Duplicate Rate: %s\n", formatRate(d.DuplicateRate))
	fmt.Fprintf(&b, "- Empty File Rate: %s\n", formatRate(d.EmptyFileRate))
	return b.String()
}
