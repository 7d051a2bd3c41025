package core

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

const noResults = "Query executed successfully but returned no results."

// Result is a bounded, ordered query result.
// Rows holds at most the cap the store was opened with; Total counts every row produced.
type Result struct {
	Columns []string        `json:"columns"`
	Rows    [][]interface{} `json:"rows"`
	Total   int             `json:"total"`
}

// Omitted is the number of produced rows left out of Rows
func (r *Result) Omitted() int {
	return r.Total - len(r.Rows)
}

// Maps returns the rows as column->value maps
func (r *Result) Maps() []map[string]interface{} {
	res := make([]map[string]interface{}, len(r.Rows))
	for i, row := range r.Rows {
		m := make(map[string]interface{}, len(r.Columns))
		for j, col := range r.Columns {
			m[col] = row[j]
		}
		res[i] = m
	}
	return res
}

// Column returns the values of the named column, or nil if there is no such column
func (r *Result) Column(name string) []interface{} {
	idx := -1
	for i, c := range r.Columns {
		if c == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	vals := make([]interface{}, len(r.Rows))
	for i, row := range r.Rows {
		vals[i] = row[idx]
	}
	return vals
}

// Text renders the result as a markdown table, stating how many rows were left out
func (r *Result) Text() string {
	if r.Total == 0 {
		return noResults
	}
	rendered := Markdown(r.Columns, r.Rows)
	if omitted := r.Omitted(); omitted > 0 {
		return fmt.Sprintf("Query returned %d rows. Showing first %d:\n\n%s\n\n... (%d more rows)",
			r.Total, len(r.Rows), rendered, omitted)
	}
	return rendered
}

// Markdown renders a markdown table
func Markdown(columns []string, rows [][]interface{}) string {
	cells := make([][]string, len(rows))
	for i, row := range rows {
		cells[i] = make([]string, len(row))
		for j, v := range row {
			cells[i][j] = escapeCell(FormatValue(v))
		}
	}
	headers := make([]string, len(columns))
	for i, c := range columns {
		headers[i] = escapeCell(c)
	}
	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	t := table.New().
		Border(lipgloss.MarkdownBorder()).
		BorderTop(false).
		BorderBottom(false).
		StyleFunc(func(row, col int) lipgloss.Style { return cellStyle }).
		Headers(headers...).
		Rows(cells...)
	return strings.TrimSpace(t.String())
}

var cellEscaper = strings.NewReplacer("|", `\|`, "\r\n", "<br>", "\n", "<br>", "\r", "<br>")

// escapeCell keeps free text inside its table cell
func escapeCell(s string) string {
	return cellEscaper.Replace(s)
}

// FormatValue renders a scanned value for text output
func FormatValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case string:
		return val
	case []byte:
		return string(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case *big.Int:
		return val.String()
	default:
		return fmt.Sprintf("%v", val)
	}
}
