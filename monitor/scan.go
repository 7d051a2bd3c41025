// Package monitor runs the digest and the comparison checks over many sources at once.
package monitor

import (
	"context"
	"time"

	"github.com/gigapi/gigapi-ingestwatch/core"
	"github.com/gigapi/gigapi-ingestwatch/querier"
	"golang.org/x/sync/errgroup"
)

// DefaultParallelism bounds how many sources are scanned at once
const DefaultParallelism = 4

// Stores hands out loaded stores; *querier.Cache implements it
type Stores interface {
	Get(ctx context.Context, key querier.CacheKey) (*querier.Store, error)
}

// CheckResult is the outcome of one check on one source
type CheckResult struct {
	Name        string       `json:"name" yaml:"name"`
	Description string       `json:"description" yaml:"description"`
	Result      *core.Result `json:"result,omitempty" yaml:"result,omitempty"`
	Error       string       `json:"error,omitempty" yaml:"error,omitempty"`
}

// SourceReport holds everything found for one source. Error is set when the
// store could not be loaded; Digest and Checks are empty then.
type SourceReport struct {
	SourceID string          `json:"source_id" yaml:"source_id"`
	Digest   *querier.Digest `json:"digest,omitempty" yaml:"digest,omitempty"`
	Checks   []CheckResult   `json:"checks,omitempty" yaml:"checks,omitempty"`
	Error    string          `json:"error,omitempty" yaml:"error,omitempty"`
}

// Report is the result of a scan, one section per source in request order
type Report struct {
	GeneratedAt time.Time      `json:"generated_at" yaml:"generated_at"`
	Sources     []SourceReport `json:"sources" yaml:"sources"`
}

// Failed counts the sources that could not be loaded
func (r *Report) Failed() int {
	n := 0
	for _, s := range r.Sources {
		if s.Error != "" {
			n++
		}
	}
	return n
}

// Scan loads every key from stores, at most parallelism at a time, and runs the digest
// and Checks against each. A failing source is recorded in its own section and never
// stops the others; only cancellation of ctx fails the scan.
func Scan(ctx context.Context, stores Stores, keys []querier.CacheKey, parallelism int) (*Report, error) {
	if parallelism < 1 {
		parallelism = DefaultParallelism
	}
	report := &Report{
		GeneratedAt: time.Now().UTC(),
		Sources:     make([]SourceReport, len(keys)),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for i, key := range keys {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			report.Sources[i] = scanSource(gctx, stores, key)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	core.Infof(ctx, "Scanned %d sources, %d failed", len(keys), report.Failed())
	return report, nil
}

func scanSource(ctx context.Context, stores Stores, key querier.CacheKey) SourceReport {
	rep := SourceReport{SourceID: key.SourceID}
	store, err := stores.Get(ctx, key)
	if err != nil {
		core.Warnf(ctx, "Skipping source %s: %v", key.SourceID, err)
		rep.Error = err.Error()
		return rep
	}

	if d, err := store.QualityDigest(ctx); err != nil {
		rep.Error = err.Error()
	} else {
		rep.Digest = d
	}

	rep.Checks = make([]CheckResult, len(Checks))
	for i, c := range Checks {
		res := CheckResult{Name: c.Name, Description: c.Description}
		r, err := store.QueryCombined(ctx, c.Query)
		if err != nil {
			res.Error = err.Error()
		} else {
			res.Result = r
		}
		rep.Checks[i] = res
	}
	return rep
}
