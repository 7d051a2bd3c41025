package querier

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gigapi/gigapi-ingestwatch/core"
)

func JsonFormatter(res *core.Result, w http.ResponseWriter) error {
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(QueryResponse{
		Columns: res.Columns,
		Results: ProcessResultsForJSON(res.Maps()),
		Total:   res.Total,
		Omitted: res.Omitted(),
	})
}

func NDJsonFormatter(res *core.Result, w http.ResponseWriter) error {
	w.Header().Set("Content-Type", "application/x-ndjson")
	enc := json.NewEncoder(w)
	for _, row := range ProcessResultsForJSON(res.Maps()) {
		if err := enc.Encode(row); err != nil {
			return err
		}
	}
	return nil
}

func MarkdownFormatter(res *core.Result, w http.ResponseWriter) error {
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	_, err := w.Write([]byte(res.Text()))
	return err
}

// ProcessResultsForJSON prepares results for JSON serialization
func ProcessResultsForJSON(results []map[string]interface{}) []map[string]interface{} {
	processedResults := make([]map[string]interface{}, len(results))

	for i, row := range results {
		processedRow := make(map[string]interface{})

		for key, value := range row {
			switch v := value.(type) {
			case nil:
				processedRow[key] = nil
			case int64:
				// int64 travels as a string so JS clients keep precision
				processedRow[key] = strconv.FormatInt(v, 10)
			case time.Time:
				processedRow[key] = v.Format(time.RFC3339Nano)
			default:
				processedRow[key] = v
			}
		}

		processedResults[i] = processedRow
	}

	return processedResults
}
