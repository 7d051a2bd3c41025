package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound marks a required input (listing, documentation) that does not exist
	ErrNotFound = errors.New("not found")
	// ErrMalformedInput marks a file observation that fails structural validation
	ErrMalformedInput = errors.New("malformed input")
	// ErrNotInitialized is returned by operations on a store that is not loaded
	ErrNotInitialized = errors.New("store not initialized")
)

// QueryErrorKind classifies a failed query
type QueryErrorKind string

const (
	QuerySyntax     QueryErrorKind = "syntax"
	QueryBinder     QueryErrorKind = "binder"
	QueryConversion QueryErrorKind = "conversion"
	QueryExecution  QueryErrorKind = "execution"
	QueryRefused    QueryErrorKind = "refused"
)

// QueryError reports a recoverable failure of caller-supplied query text.
// The store remains usable after a QueryError.
type QueryError struct {
	Kind    QueryErrorKind `json:"kind"`
	Query   string         `json:"query"`
	Message string         `json:"message"`
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

// Hint is the text handed back to an interactive caller so it can retry
func (e *QueryError) Hint() string {
	return fmt.Sprintf("Error executing query: %s\n\nPlease check your SQL syntax and column names.", e.Message)
}

// IsQueryError reports whether err is, or wraps, a *QueryError
func IsQueryError(err error) bool {
	var qe *QueryError
	return errors.As(err, &qe)
}
