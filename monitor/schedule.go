package monitor

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gigapi/gigapi-ingestwatch/core"
	"github.com/gigapi/gigapi-ingestwatch/querier"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// cronLogger routes cron's own messages to zap
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}

// Scheduler scans every source on a cron schedule and keeps the latest report.
// Each run loads fresh stores, so updated listings are picked up.
type Scheduler struct {
	Open        querier.OpenFunc
	Sources     func(ctx context.Context) ([]string, error)
	KeyFor      func(sourceID string) querier.CacheKey
	Parallelism int
	Timeout     time.Duration

	cron   *cron.Cron
	mu     sync.Mutex
	latest *Report
	err    error
}

// Start schedules scans on spec, a standard five-field cron expression
func (s *Scheduler) Start(ctx context.Context, spec string) error {
	logger := cronLogger{log: core.Logger(ctx)}
	s.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(logger), cron.Recover(logger)), cron.WithLogger(logger))
	if _, err := s.cron.AddFunc(spec, func() { s.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("invalid scan schedule %q: %w", spec, err)
	}
	s.cron.Start()
	core.Infof(ctx, "Scheduled scans on %q", spec)
	return nil
}

// Stop waits for a running scan and stops scheduling
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// RunOnce scans every source now and records the outcome
func (s *Scheduler) RunOnce(ctx context.Context) (*Report, error) {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	report, err := s.scan(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		core.Errorf(ctx, "Scheduled scan failed: %v", err)
		s.err = err
		return nil, err
	}
	s.latest, s.err = report, nil
	return report, nil
}

func (s *Scheduler) scan(ctx context.Context) (*Report, error) {
	ids, err := s.Sources(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	keys := make([]querier.CacheKey, len(ids))
	for i, id := range ids {
		keys[i] = s.KeyFor(id)
	}

	cache := querier.NewCache(s.Open, nil)
	defer cache.Close()
	return Scan(ctx, cache, keys, s.Parallelism)
}

// Latest returns the last successful report and the error of the last run, if it failed
func (s *Scheduler) Latest() (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, s.err
}

// HandleLatest serves the latest report; ?format= selects markdown, json (default) or yaml
func (s *Scheduler) HandleLatest(w http.ResponseWriter, r *http.Request) {
	report, _ := s.Latest()
	if report == nil {
		http.Error(w, "no scan has completed yet", http.StatusServiceUnavailable)
		return
	}
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}
	out, err := report.Render(format)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	switch format {
	case "json":
		w.Header().Set("Content-Type", "application/json")
	case "yaml", "yml":
		w.Header().Set("Content-Type", "application/yaml")
	default:
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	}
	w.Write(out)
}
