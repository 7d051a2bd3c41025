package querier

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func toolByName(t *testing.T, tools []Tool, name string) Tool {
	t.Helper()
	for _, tool := range tools {
		if tool.Name == name {
			return tool
		}
	}
	require.Failf(t, "missing tool", "no tool named %s", name)
	return Tool{}
}

func TestTools(t *testing.T) {
	s := openTestStore(t, Options{})
	tools := Tools(s, "src_195385_")
	require.Len(t, tools, 4)
	ctx := context.Background()

	out := toolByName(t, tools, "src_195385_query_today_data").Call(ctx, `SELECT filename FROM data ORDER BY filename`)
	assert.Contains(t, out, "orders.csv")
	assert.Contains(t, out, "refunds.csv")

	out = toolByName(t, tools, "src_195385_query_today_and_last_weekday_data").Call(ctx,
		`SELECT filename FROM data WHERE "partition" = 'last_weekday' AND filename = 'inventory.csv'`)
	assert.Contains(t, out, "inventory.csv")

	out = toolByName(t, tools, "src_195385_query_today_data").Call(ctx, `SELECT nope FROM data`)
	assert.True(t, strings.HasPrefix(out, "Error executing query: "))
	assert.True(t, strings.HasSuffix(out, "Please check your SQL syntax and column names."))

	out = toolByName(t, tools, "src_195385_read_data_source_cv").Call(ctx, "")
	assert.Equal(t, testDoc, out)

	out = toolByName(t, tools, "src_195385_validate_data_quality").Call(ctx, "")
	assert.Contains(t, out, "Data Quality Summary for Today:")
}

func TestToolsAfterClose(t *testing.T) {
	s := openTestStore(t, Options{})
	tools := Tools(s, "")
	require.NoError(t, s.Close())

	ctx := context.Background()
	assert.Equal(t, notLoadedReply, toolByName(t, tools, "query_today_data").Call(ctx, "SELECT 1"))
	assert.Equal(t, notLoadedReply, toolByName(t, tools, "validate_data_quality").Call(ctx, ""))
	assert.Equal(t, "Error: Data source CV not loaded.", toolByName(t, tools, "read_data_source_cv").Call(ctx, ""))
}
