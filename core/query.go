package core

import (
	"context"
)

// Scope selects which partitions a query runs against
type Scope string

const (
	ScopeToday    Scope = "today"
	ScopeCombined Scope = "combined"
)

// ParseScope maps a request value onto a Scope; empty means today
func ParseScope(s string) (Scope, bool) {
	switch Scope(s) {
	case "", ScopeToday:
		return ScopeToday, true
	case ScopeCombined, "all", "today_and_last_weekday":
		return ScopeCombined, true
	}
	return "", false
}

// SourceStore defines the query surface over one source's file observations
type SourceStore interface {
	// SourceID returns the upstream feed the store was loaded for
	SourceID() string

	// Run executes query against the relation selected by scope
	Run(ctx context.Context, scope Scope, query string) (*Result, error)

	// ReadDocumentation returns the source documentation verbatim
	ReadDocumentation() (string, error)

	// Close releases resources
	Close() error
}
