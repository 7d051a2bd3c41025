// store.go
package querier

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/gigapi/gigapi-ingestwatch/core"
	"github.com/gigapi/gigapi-ingestwatch/loader"
	"github.com/gigapi/gigapi-ingestwatch/records"
	"github.com/google/uuid"
	"github.com/marcboeker/go-duckdb/v2"
	"go.uber.org/zap"
)

// DefaultMaxRows caps the rows kept in a Result
const DefaultMaxRows = 100

// TableName is the relation every query reads from
const TableName = "data"

const createTable = `CREATE TABLE data (
	source_id VARCHAR NOT NULL,
	filename VARCHAR NOT NULL,
	"rows" BIGINT NOT NULL,
	status VARCHAR NOT NULL,
	is_duplicated BOOLEAN NOT NULL,
	file_size DOUBLE,
	uploaded_at TIMESTAMP,
	status_message VARCHAR,
	"partition" VARCHAR NOT NULL,
	quality_issue VARCHAR
)`

// engines never read files or the network; the configuration is frozen once loaded
const (
	engineDSN = "?enable_external_access=false"
	lockdown  = "SET lock_configuration = true"
)

// Ensure Store implements core.SourceStore interface
var _ core.SourceStore = (*Store)(nil)

// Options tunes a Store
type Options struct {
	// MaxRows caps rows kept per result. Zero means DefaultMaxRows, negative means no cap.
	MaxRows int
	// Lenient keeps invalid records, flagging them in quality_issue, instead of failing the load
	Lenient bool
	// Metrics is optional
	Metrics *Metrics
}

// Store holds one source's file observations for today and the last weekday in an
// embedded DuckDB and answers SQL over them. Queries on one Store are serialized;
// distinct Stores share nothing.
type Store struct {
	sourceID string
	loadID   string
	doc      string
	maxRows  int
	metrics  *Metrics
	log      *zap.SugaredLogger
	defects  []records.Defect
	counts   map[records.Partition]int
	recs     []records.FileRecord

	mu       sync.Mutex
	today    *sql.DB
	combined *sql.DB
}

// Open fetches the listings and documentation of sourceID and loads them.
// A missing document or listing fails with core.ErrNotFound; an invalid record fails
// with core.ErrMalformedInput unless opts.Lenient is set.
func Open(ctx context.Context, sourceID string, listings loader.Listings, docs loader.Docs, opts Options) (*Store, error) {
	start := time.Now()
	s := &Store{
		sourceID: sourceID,
		loadID:   uuid.NewString(),
		maxRows:  opts.MaxRows,
		metrics:  opts.Metrics,
		counts:   map[records.Partition]int{},
	}
	if s.maxRows == 0 {
		s.maxRows = DefaultMaxRows
	}
	s.log = core.Logger(ctx).With("source_id", sourceID, "load_id", s.loadID)

	recs, doc, err := s.fetch(ctx, listings, docs, opts.Lenient)
	if err != nil {
		s.metrics.loadFailed(err)
		return nil, err
	}
	s.doc = doc

	if err := s.load(ctx, recs); err != nil {
		s.release()
		s.metrics.loadFailed(err)
		return nil, err
	}

	s.metrics.loaded(time.Since(start), s.counts)
	s.log.Infof("Loaded %d today and %d last weekday records in %v",
		s.counts[records.PartitionToday], s.counts[records.PartitionLastWeekday], time.Since(start))
	return s, nil
}

func (s *Store) fetch(ctx context.Context, listings loader.Listings, docs loader.Docs, lenient bool) ([]records.FileRecord, string, error) {
	today, err := listings.Today(ctx, s.sourceID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load today's files for %s: %w", s.sourceID, err)
	}
	last, err := listings.LastWeekday(ctx, s.sourceID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load last weekday files for %s: %w", s.sourceID, err)
	}
	doc, err := docs.Documentation(ctx, s.sourceID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load documentation for %s: %w", s.sourceID, err)
	}

	all := append(records.Tag(today, records.PartitionToday), records.Tag(last, records.PartitionLastWeekday)...)
	for i := range all {
		if all[i].SourceID == "" {
			all[i].SourceID = s.sourceID
		}
	}

	all, defects := records.Validate(all, lenient)
	if len(defects) > 0 {
		msgs := make([]string, len(defects))
		for i, d := range defects {
			msgs[i] = d.String()
		}
		if !lenient {
			return nil, "", fmt.Errorf("%w: source %s: %s", core.ErrMalformedInput, s.sourceID, strings.Join(msgs, ", "))
		}
		s.log.Warnf("Flagged %d invalid records: %s", len(defects), strings.Join(msgs, ", "))
		s.defects = defects
	}
	for _, r := range all {
		s.counts[r.Partition]++
	}
	return all, doc, nil
}

func (s *Store) load(ctx context.Context, recs []records.FileRecord) error {
	s.recs = recs
	var err error
	if s.today, err = openEngine(ctx, s.scoped(core.ScopeToday)); err != nil {
		return fmt.Errorf("failed to load today relation: %w", err)
	}
	if s.combined, err = openEngine(ctx, recs); err != nil {
		return fmt.Errorf("failed to load combined relation: %w", err)
	}
	return nil
}

// scoped returns the loaded records visible to scope
func (s *Store) scoped(scope core.Scope) []records.FileRecord {
	if scope == core.ScopeCombined {
		return s.recs
	}
	today := make([]records.FileRecord, 0, s.counts[records.PartitionToday])
	for _, r := range s.recs {
		if r.Partition == records.PartitionToday {
			today = append(today, r)
		}
	}
	return today
}

// restore replaces the engine of scope with a fresh one built from the loaded records
func (s *Store) restore(ctx context.Context, scope core.Scope) error {
	db, err := openEngine(context.WithoutCancel(ctx), s.scoped(scope))
	if err != nil {
		return fmt.Errorf("failed to restore %s relation: %w", scope, err)
	}
	old := s.today
	if scope == core.ScopeCombined {
		old, s.combined = s.combined, db
	} else {
		s.today = db
	}
	if err := old.Close(); err != nil {
		s.log.Errorf("Failed to close engine: %v", err)
	}
	return nil
}

// openEngine creates a private in-memory database holding recs as table data
func openEngine(ctx context.Context, recs []records.FileRecord) (*sql.DB, error) {
	db, err := sql.Open("duckdb", engineDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize DuckDB: %v", err)
	}
	if err := fill(ctx, db, recs); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func fill(ctx context.Context, db *sql.DB, recs []records.FileRecord) error {
	if _, err := db.ExecContext(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	err = conn.Raw(func(driverConn any) error {
		dc, ok := driverConn.(driver.Conn)
		if !ok {
			return fmt.Errorf("unexpected driver connection %T", driverConn)
		}
		appender, err := duckdb.NewAppenderFromConn(dc, "", TableName)
		if err != nil {
			return fmt.Errorf("failed to create appender: %w", err)
		}
		for _, r := range recs {
			if err := appender.AppendRow(rowValues(r)...); err != nil {
				appender.Close()
				return fmt.Errorf("failed to append %s: %w", r.Filename, err)
			}
		}
		return appender.Close()
	})
	if err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx, lockdown); err != nil {
		return fmt.Errorf("failed to lock configuration: %w", err)
	}
	return nil
}

func rowValues(r records.FileRecord) []driver.Value {
	var size, uploaded, message, issue driver.Value
	if r.FileSize != nil {
		size = *r.FileSize
	}
	if !r.UploadedAt.IsZero() {
		uploaded = r.UploadedAt
	}
	if r.StatusMessage != nil {
		message = *r.StatusMessage
	}
	if r.QualityIssue != nil {
		issue = *r.QualityIssue
	}
	return []driver.Value{
		r.SourceID, r.Filename, r.Rows, string(r.Status), r.IsDuplicated,
		size, uploaded, message, string(r.Partition), issue,
	}
}

// SourceID returns the source the store was loaded for
func (s *Store) SourceID() string {
	return s.sourceID
}

// Defects lists the records flagged by a lenient load
func (s *Store) Defects() []records.Defect {
	return s.defects
}

// Count returns how many records partition p holds
func (s *Store) Count(p records.Partition) int {
	return s.counts[p]
}

// Query executes query against today's records only
func (s *Store) Query(ctx context.Context, query string) (*core.Result, error) {
	return s.Run(ctx, core.ScopeToday, query)
}

// QueryCombined executes query against today's and last weekday's records,
// distinguished by the partition column
func (s *Store) QueryCombined(ctx context.Context, query string) (*core.Result, error) {
	return s.Run(ctx, core.ScopeCombined, query)
}

// Run executes query against the relation selected by scope.
// Failures of the query itself are returned as *core.QueryError.
func (s *Store) Run(ctx context.Context, scope core.Scope, query string) (*core.Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.engine(scope)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	res, intact, err := execute(ctx, db, query, s.maxRows)
	s.metrics.queried(scope, time.Since(start), err)
	if !intact {
		s.log.Warnf("Query escaped its transaction, reloading %s relation", scope)
		if rerr := s.restore(ctx, scope); rerr != nil {
			return nil, rerr
		}
	}
	if err != nil {
		var qe *core.QueryError
		if errors.As(err, &qe) {
			s.log.Debugf("Query failed (%s): %s", qe.Kind, qe.Message)
		}
		return nil, err
	}
	s.log.Debugf("Query on %s returned %d rows in %v", scope, res.Total, time.Since(start))
	return res, nil
}

func (s *Store) engine(scope core.Scope) (*sql.DB, error) {
	if s.today == nil || s.combined == nil {
		return nil, core.ErrNotInitialized
	}
	switch scope {
	case core.ScopeToday:
		return s.today, nil
	case core.ScopeCombined:
		return s.combined, nil
	}
	return nil, fmt.Errorf("unknown scope %q", scope)
}

// refused lists statement types whose effects are not confined to the enclosing transaction
var refused = map[duckdb.StmtType]string{
	duckdb.STATEMENT_TYPE_TRANSACTION:  "Transaction control",
	duckdb.STATEMENT_TYPE_ATTACH:       "ATTACH",
	duckdb.STATEMENT_TYPE_DETACH:       "DETACH",
	duckdb.STATEMENT_TYPE_LOAD:         "LOAD",
	duckdb.STATEMENT_TYPE_EXTENSION:    "Extension",
	duckdb.STATEMENT_TYPE_SET:          "SET",
	duckdb.STATEMENT_TYPE_VARIABLE_SET: "SET VARIABLE",
	duckdb.STATEMENT_TYPE_PREPARE:      "PREPARE",
	duckdb.STATEMENT_TYPE_EXPORT:       "EXPORT",
	duckdb.STATEMENT_TYPE_VACUUM:       "VACUUM",
}

// execute runs query inside a transaction that is always rolled back, so statements
// that modify the relation never outlive the call. intact is false when the rollback
// found no transaction to undo and the relation has to be rebuilt.
func execute(ctx context.Context, db *sql.DB, query string, maxRows int) (res *core.Result, intact bool, err error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, true, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Close()

	if err := screen(conn, query); err != nil {
		return nil, true, err
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, true, fmt.Errorf("failed to begin transaction: %w", err)
	}
	res, err = collect(ctx, tx, query, maxRows)
	if rerr := tx.Rollback(); rerr != nil && !errors.Is(rerr, sql.ErrTxDone) {
		return nil, false, fmt.Errorf("failed to roll back query: %w", rerr)
	}
	return res, true, err
}

// screen prepares query without running it and refuses multi-statement text
// and the statement types in refused
func screen(conn *sql.Conn, query string) error {
	return conn.Raw(func(driverConn any) error {
		dc, ok := driverConn.(driver.Conn)
		if !ok {
			return fmt.Errorf("unexpected driver connection %T", driverConn)
		}
		stmt, err := dc.Prepare(query)
		if err != nil {
			if strings.Contains(err.Error(), "multi-statement") {
				return &core.QueryError{Kind: core.QueryRefused, Query: query,
					Message: "Only one statement can be run per query"}
			}
			return queryError(query, err)
		}
		defer stmt.Close()

		ds, ok := stmt.(*duckdb.Stmt)
		if !ok {
			return fmt.Errorf("unexpected driver statement %T", stmt)
		}
		st, err := ds.StatementType()
		if err != nil {
			return queryError(query, err)
		}
		if what, ok := refused[st]; ok {
			return &core.QueryError{Kind: core.QueryRefused, Query: query,
				Message: what + " statements are not allowed"}
		}
		return nil
	})
}

func collect(ctx context.Context, tx *sql.Tx, query string, maxRows int) (*core.Result, error) {
	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return nil, queryError(query, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, queryError(query, err)
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, queryError(query, err)
	}

	res := &core.Result{Columns: columns, Rows: [][]interface{}{}}
	for rows.Next() {
		res.Total++
		if maxRows > 0 && len(res.Rows) >= maxRows {
			continue
		}
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, queryError(query, err)
		}
		for i, v := range values {
			values[i] = normalizeValue(v, types[i].DatabaseTypeName())
		}
		res.Rows = append(res.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, queryError(query, err)
	}
	return res, nil
}

// normalizeValue maps engine-specific types onto plain Go values
func normalizeValue(v interface{}, dbType string) interface{} {
	switch val := v.(type) {
	case *big.Int:
		if val.IsInt64() {
			return val.Int64()
		}
		return val.String()
	case duckdb.Decimal:
		return val.Float64()
	case duckdb.Interval:
		return formatInterval(val)
	case []byte:
		if dbType == "UUID" && len(val) == 16 {
			return uuid.UUID(val).String()
		}
		return string(val)
	default:
		return v
	}
}

// formatInterval renders an interval the way DuckDB prints it, e.g. "1 month 2 days 03:04:05.5"
func formatInterval(iv duckdb.Interval) string {
	var parts []string
	unit := func(n int32, name string) {
		if n == 0 {
			return
		}
		if n != 1 && n != -1 {
			name += "s"
		}
		parts = append(parts, fmt.Sprintf("%d %s", n, name))
	}
	unit(iv.Months/12, "year")
	unit(iv.Months%12, "month")
	unit(iv.Days, "day")

	if iv.Micros != 0 || len(parts) == 0 {
		micros, sign := iv.Micros, ""
		if micros < 0 {
			micros, sign = -micros, "-"
		}
		d := time.Duration(micros) * time.Microsecond
		clock := fmt.Sprintf("%s%02d:%02d:%02d", sign, int64(d.Hours()), int64(d.Minutes())%60, int64(d.Seconds())%60)
		if frac := micros % 1_000_000; frac != 0 {
			clock += strings.TrimRight(fmt.Sprintf(".%06d", frac), "0")
		}
		parts = append(parts, clock)
	}
	return strings.Join(parts, " ")
}

func queryError(query string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	msg := err.Error()
	kind := core.QueryExecution
	switch {
	case strings.Contains(msg, "Parser Error"), strings.Contains(msg, "Syntax Error"):
		kind = core.QuerySyntax
	case strings.Contains(msg, "Binder Error"), strings.Contains(msg, "Catalog Error"):
		kind = core.QueryBinder
	case strings.Contains(msg, "Conversion Error"), strings.Contains(msg, "Mismatch Type Error"),
		strings.Contains(msg, "Invalid Input Error"):
		kind = core.QueryConversion
	}
	return &core.QueryError{Kind: kind, Query: query, Message: msg}
}

// ReadDocumentation returns the source documentation exactly as loaded
func (s *Store) ReadDocumentation() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.today == nil {
		return "", core.ErrNotInitialized
	}
	return s.doc, nil
}

// Close releases the engines. It is safe to call more than once; release errors are
// logged, not returned.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.release()
	return nil
}

func (s *Store) release() {
	for _, db := range []*sql.DB{s.today, s.combined} {
		if db == nil {
			continue
		}
		if err := db.Close(); err != nil {
			s.log.Errorf("Failed to close engine: %v", err)
		}
	}
	if s.today != nil || s.combined != nil {
		s.log.Debugf("Store resources released")
	}
	s.today, s.combined = nil, nil
	s.doc = ""
}
