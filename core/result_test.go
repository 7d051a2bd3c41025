package core

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultText(t *testing.T) {
	empty := &Result{Columns: []string{"filename"}}
	assert.Equal(t, "Query executed successfully but returned no results.", empty.Text())

	full := &Result{
		Columns: []string{"filename", "rows"},
		Rows:    [][]interface{}{{"orders.csv", int64(100)}, {"refunds.csv", nil}},
		Total:   2,
	}
	text := full.Text()
	lines := strings.Split(text, "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "filename")
	assert.Contains(t, lines[1], "---")
	assert.Contains(t, lines[2], "orders.csv")
	assert.Contains(t, lines[3], "NULL")

	truncated := &Result{Columns: []string{"n"}, Rows: [][]interface{}{{int64(1)}}, Total: 3}
	text = truncated.Text()
	assert.True(t, strings.HasPrefix(text, "Query returned 3 rows. Showing first 1:\n\n"))
	assert.True(t, strings.HasSuffix(text, "... (2 more rows)"))
}

func TestResultTextEscapesCells(t *testing.T) {
	r := &Result{
		Columns: []string{"filename", "status_message"},
		Rows:    [][]interface{}{{"part_000.csv", "bad | column\nsecond line\r\nthird"}},
		Total:   1,
	}
	lines := strings.Split(r.Text(), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[2], `bad \| column<br>second line<br>third`)
	assert.Equal(t, strings.Count(lines[0], "|"), strings.Count(strings.ReplaceAll(lines[2], `\|`, ""), "|"))
}

func TestResultAccessors(t *testing.T) {
	r := &Result{
		Columns: []string{"filename", "rows"},
		Rows:    [][]interface{}{{"a.csv", int64(1)}, {"b.csv", int64(2)}},
		Total:   5,
	}
	assert.Equal(t, 3, r.Omitted())
	assert.Equal(t, []interface{}{int64(1), int64(2)}, r.Column("rows"))
	assert.Nil(t, r.Column("missing"))
	assert.Equal(t, []map[string]interface{}{
		{"filename": "a.csv", "rows": int64(1)},
		{"filename": "b.csv", "rows": int64(2)},
	}, r.Maps())
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		in   interface{}
		want string
	}{
		{nil, "NULL"},
		{"x", "x"},
		{[]byte("y"), "y"},
		{int64(-3), "-3"},
		{int32(7), "7"},
		{1.5, "1.5"},
		{float32(0.25), "0.25"},
		{true, "true"},
		{time.Date(2025, 9, 8, 6, 0, 0, 0, time.FixedZone("CEST", 7200)), "2025-09-08T04:00:00Z"},
		{big.NewInt(42), "42"},
		{uint8(9), "9"},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%T", tt.in), func(t *testing.T) {
			assert.Equal(t, tt.want, FormatValue(tt.in))
		})
	}
}

func TestParseScope(t *testing.T) {
	tests := []struct {
		in   string
		want Scope
		ok   bool
	}{
		{"", ScopeToday, true},
		{"today", ScopeToday, true},
		{"combined", ScopeCombined, true},
		{"today_and_last_weekday", ScopeCombined, true},
		{"all", ScopeCombined, true},
		{"yesterday", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseScope(tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
	}
}

func TestQueryError(t *testing.T) {
	qe := &QueryError{Kind: QueryBinder, Query: "SELECT nope FROM data", Message: "Binder Error: nope"}
	wrapped := fmt.Errorf("running: %w", qe)

	assert.True(t, IsQueryError(wrapped))
	assert.False(t, IsQueryError(ErrNotInitialized))
	assert.Equal(t, "binder error: Binder Error: nope", qe.Error())
	assert.Equal(t, "Error executing query: Binder Error: nope\n\nPlease check your SQL syntax and column names.", qe.Hint())

	var got *QueryError
	require.True(t, errors.As(wrapped, &got))
	assert.Same(t, qe, got)
}

func TestLoggerFromContext(t *testing.T) {
	assert.NotNil(t, Logger(context.Background()))
	ctx := WithDefaultLogger(context.Background(), "req-1")
	assert.NotNil(t, Logger(ctx))
	SetLogLevel("debug")
	SetLogLevel("not-a-level")
	Debugf(ctx, "debug %d", 1)
	SetLogLevel("info")
}
