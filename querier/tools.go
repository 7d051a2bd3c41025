package querier

import (
	"context"
	"errors"
	"fmt"

	"github.com/gigapi/gigapi-ingestwatch/core"
)

// Tool is a named text-in/text-out function an agent runtime can bind
type Tool struct {
	Name        string
	Description string
	Call        func(ctx context.Context, input string) string
}

const (
	queryTodayDesc = `Execute SQL query on today's data only, table "data".
Columns: source_id, filename, rows, status (processed, empty, failure, stopped, deleted, pending),
is_duplicated, file_size (MB), uploaded_at, status_message, partition, quality_issue.`
	queryCombinedDesc = `Execute SQL query on today's and last weekday's data, table "data".
Filter on partition ('today' or 'last_weekday') and self-join on filename to compare periods.`
	readDocDesc    = `Read the data source documentation: file patterns, schedules, expected volumes, known exceptions.`
	validateDesc   = `Summarize today's data quality: file counts, status distribution, duplicates, empty files, upload range.`
	notLoadedReply = "Error: Data not loaded. Please initialize the toolset first."
)

// Tools exposes s as the four named tools, each name carrying prefix
func Tools(s *Store, prefix string) []Tool {
	return []Tool{
		{
			Name:        prefix + "query_today_data",
			Description: queryTodayDesc,
			Call: func(ctx context.Context, sql string) string {
				return resultText(s.Query(ctx, sql))
			},
		},
		{
			Name:        prefix + "query_today_and_last_weekday_data",
			Description: queryCombinedDesc,
			Call: func(ctx context.Context, sql string) string {
				return resultText(s.QueryCombined(ctx, sql))
			},
		},
		{
			Name:        prefix + "read_data_source_cv",
			Description: readDocDesc,
			Call: func(ctx context.Context, _ string) string {
				doc, err := s.ReadDocumentation()
				if err != nil {
					return "Error: Data source CV not loaded."
				}
				return doc
			},
		},
		{
			Name:        prefix + "validate_data_quality",
			Description: validateDesc,
			Call: func(ctx context.Context, _ string) string {
				d, err := s.QualityDigest(ctx)
				if errors.Is(err, core.ErrNotInitialized) {
					return notLoadedReply
				}
				if err != nil {
					return fmt.Sprintf("Error in data quality check: %v", err)
				}
				return d.Text()
			},
		},
	}
}

func resultText(res *core.Result, err error) string {
	var qe *core.QueryError
	switch {
	case err == nil:
		return res.Text()
	case errors.As(err, &qe):
		return qe.Hint()
	case errors.Is(err, core.ErrNotInitialized):
		return notLoadedReply
	default:
		return fmt.Sprintf("Error executing query: %v", err)
	}
}
