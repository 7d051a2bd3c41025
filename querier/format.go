package querier

import (
	"net/http"

	"github.com/gigapi/gigapi-ingestwatch/core"
)

type formatterFn func(res *core.Result, w http.ResponseWriter) error

var formatters = map[string]formatterFn{
	"json":     JsonFormatter,
	"ndjson":   NDJsonFormatter,
	"markdown": MarkdownFormatter,
}

func formatName(name string) string {
	if name == "" {
		return "json"
	}
	return name
}
