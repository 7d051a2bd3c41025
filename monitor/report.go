package monitor

import (
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// Markdown renders the report with one section per source
func (r *Report) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Ingestion scan %s\n\n", r.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "%d sources, %d failed to load\n", len(r.Sources), r.Failed())

	for _, s := range r.Sources {
		fmt.Fprintf(&b, "\n## Source %s\n\n", s.SourceID)
		if s.Error != "" {
			fmt.Fprintf(&b, "Error: %s\n", s.Error)
		}
		if s.Digest != nil {
			b.WriteString(s.Digest.Text())
		}
		for _, c := range s.Checks {
			fmt.Fprintf(&b, "\n### %s\n\n%s\n\n", c.Name, c.Description)
			switch {
			case c.Error != "":
				fmt.Fprintf(&b, "Error: %s\n", c.Error)
			case c.Result.Total == 0:
				b.WriteString("None.\n")
			default:
				b.WriteString(c.Result.Text())
				b.WriteString("\n")
			}
		}
	}
	return b.String()
}

// JSON encodes the report as indented JSON
func (r *Report) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// YAML encodes the report as YAML
func (r *Report) YAML() ([]byte, error) {
	return yaml.Marshal(r)
}

// Render encodes the report in format: markdown (default), json or yaml
func (r *Report) Render(format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case "", "markdown", "md":
		return []byte(r.Markdown()), nil
	case "json":
		return r.JSON()
	case "yaml", "yml":
		return r.YAML()
	}
	return nil, fmt.Errorf("unknown report format %q", format)
}
