// server.go
package querier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gigapi/gigapi-ingestwatch/core"
	"github.com/gigapi/gigapi-ingestwatch/records"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server represents the API server
type Server struct {
	Cache    *Cache
	KeyFor   func(sourceID string) CacheKey
	Gatherer prometheus.Gatherer
}

// NewServer creates a new server instance over cache. keyFor maps a source id onto
// the cache key its store is loaded under.
func NewServer(cache *Cache, keyFor func(sourceID string) CacheKey, gatherer prometheus.Gatherer) *Server {
	return &Server{
		Cache:    cache,
		KeyFor:   keyFor,
		Gatherer: gatherer,
	}
}

// Register installs the API routes on mux
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.HandleHealth)
	mux.HandleFunc("/query", s.HandleQuery)
	mux.HandleFunc("GET /sources/{source}/docs", s.HandleDocs)
	mux.HandleFunc("GET /sources/{source}/digest", s.HandleDigest)
	mux.HandleFunc("POST /sources/{source}/reload", s.HandleReload)
	if s.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{}))
	}
}

// QueryRequest represents a query API request
type QueryRequest struct {
	Source string `json:"source"`
	Query  string `json:"query"`
	Scope  string `json:"scope,omitempty"`
	Format string `json:"format,omitempty"`
}

// QueryResponse represents a query API response
type QueryResponse struct {
	Columns []string                 `json:"columns"`
	Results []map[string]interface{} `json:"results"`
	Total   int                      `json:"total"`
	Omitted int                      `json:"omitted"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string           `json:"error"`
	Query *core.QueryError `json:"query_error,omitempty"`
}

var reqId int32

// addCORSHeaders adds CORS headers to the response
func addCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// sourceParam reads the source from the route or, for hosts without path patterns, ?source=
func sourceParam(r *http.Request) string {
	if v := r.PathValue("source"); v != "" {
		return v
	}
	return r.URL.Query().Get("source")
}

func requestContext(r *http.Request) context.Context {
	return core.WithDefaultLogger(r.Context(), fmt.Sprintf("req-%d", atomic.AddInt32(&reqId, 1)))
}

// HandleQuery Handles the /query endpoint
func (s *Server) HandleQuery(w http.ResponseWriter, r *http.Request) {
	ctx := requestContext(r)
	addCORSHeaders(w)

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Query == "" {
		sendErrorResponse(w, "Missing query parameter", http.StatusBadRequest)
		return
	}

	// query string wins over body
	if v := r.URL.Query().Get("source"); v != "" {
		req.Source = v
	}
	if v := r.URL.Query().Get("scope"); v != "" {
		req.Scope = v
	}
	if v := r.URL.Query().Get("format"); v != "" {
		req.Format = v
	}
	if req.Source == "" {
		sendErrorResponse(w, "Missing source parameter", http.StatusBadRequest)
		return
	}
	scope, ok := core.ParseScope(req.Scope)
	if !ok {
		sendErrorResponse(w, fmt.Sprintf("Unknown scope %q", req.Scope), http.StatusBadRequest)
		return
	}
	format, ok := formatters[formatName(req.Format)]
	if !ok {
		sendErrorResponse(w, fmt.Sprintf("Unknown format %q", req.Format), http.StatusBadRequest)
		return
	}

	store, err := s.Cache.Get(ctx, s.KeyFor(req.Source))
	if err != nil {
		sendError(ctx, w, err)
		return
	}
	res, err := store.Run(ctx, scope, req.Query)
	if err != nil {
		sendError(ctx, w, err)
		return
	}
	if err := format(res, w); err != nil {
		core.Errorf(ctx, "Failed to write response: %v", err)
	}
}

// HandleDocs serves the documentation of a source
func (s *Server) HandleDocs(w http.ResponseWriter, r *http.Request) {
	ctx := requestContext(r)
	addCORSHeaders(w)

	source := sourceParam(r)
	if source == "" {
		sendErrorResponse(w, "Missing source parameter", http.StatusBadRequest)
		return
	}
	store, err := s.Cache.Get(ctx, s.KeyFor(source))
	if err != nil {
		sendError(ctx, w, err)
		return
	}
	doc, err := store.ReadDocumentation()
	if err != nil {
		sendError(ctx, w, err)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Write([]byte(doc))
}

// HandleDigest serves the quality digest of a source, as JSON or ?format=markdown
func (s *Server) HandleDigest(w http.ResponseWriter, r *http.Request) {
	ctx := requestContext(r)
	addCORSHeaders(w)

	source := sourceParam(r)
	if source == "" {
		sendErrorResponse(w, "Missing source parameter", http.StatusBadRequest)
		return
	}
	store, err := s.Cache.Get(ctx, s.KeyFor(source))
	if err != nil {
		sendError(ctx, w, err)
		return
	}
	d, err := store.QualityDigest(ctx)
	if err != nil {
		sendError(ctx, w, err)
		return
	}
	if r.URL.Query().Get("format") == "markdown" {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.Write([]byte(d.Text()))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(d)
}

// statusFor maps a store error onto an HTTP status
func statusFor(err error) int {
	switch {
	case core.IsQueryError(err):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrMalformedInput):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrNotInitialized):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func sendError(ctx context.Context, w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		core.Errorf(ctx, "Request failed: %v", err)
	}
	resp := ErrorResponse{Error: err.Error()}
	var qe *core.QueryError
	if errors.As(err, &qe) {
		resp.Query = qe
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// Send an error response in JSON format
func sendErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error: message,
	})
}

// Health check endpoint
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	addCORSHeaders(w)

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    "ok",
		"stores":    s.Cache.Len(),
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// ReloadResponse reports what a reloaded store holds
type ReloadResponse struct {
	Source      string `json:"source"`
	Today       int    `json:"today"`
	LastWeekday int    `json:"last_weekday"`
}

// HandleReload drops the cached store of a source and loads its listings again
func (s *Server) HandleReload(w http.ResponseWriter, r *http.Request) {
	ctx := requestContext(r)
	addCORSHeaders(w)

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	source := sourceParam(r)
	if source == "" {
		sendErrorResponse(w, "Missing source parameter", http.StatusBadRequest)
		return
	}
	store, err := s.Cache.Reload(ctx, s.KeyFor(source))
	if err != nil {
		sendError(ctx, w, err)
		return
	}
	core.Infof(ctx, "Reloaded store for source_id=%s", source)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ReloadResponse{
		Source:      source,
		Today:       store.Count(records.PartitionToday),
		LastWeekday: store.Count(records.PartitionLastWeekday),
	})
}

// Close the server and release resources
func (s *Server) Close() error {
	return s.Cache.Close()
}
