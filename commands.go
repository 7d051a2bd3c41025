package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gigapi/gigapi-config/config"
	"github.com/gigapi/gigapi-ingestwatch/core"
	"github.com/gigapi/gigapi-ingestwatch/monitor"
	"github.com/gigapi/gigapi-ingestwatch/querier"
	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

var (
	queryScope   string
	queryFormat  string
	digestFormat string
	scanFormat   string
	scanAll      bool
)

// serveCmd runs the HTTP API and the FlightSQL endpoint
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the query API over HTTP and FlightSQL",
	Long: `Serves /query, /sources/{source}/docs, /sources/{source}/digest, /health and
/metrics on the configured HTTP port, and FlightSQL statement queries on the
FlightSQL port. Ports come from the gigapi configuration.

POST /sources/{source}/reload reloads a source's listings; with cache_ttl set,
stores older than that are reloaded on their next use.

With scan_schedule set, every source is scanned on that cron schedule and the
latest report is served at /scan/latest.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

// queryCmd runs one SQL statement against a source
var queryCmd = &cobra.Command{
	Use:   "query [source] [sql]",
	Short: "Run SQL against a source's file listings",
	Long: `Runs one SQL statement against the "data" relation of a source.

Examples:
  ingestwatch query 195385 'SELECT status, COUNT(*) FROM data GROUP BY status'
  ingestwatch query 195385 --scope combined \
    'SELECT "partition", SUM("rows") FROM data GROUP BY "partition"'`,
	Args: cobra.ExactArgs(2),
	RunE: runQuery,
}

// digestCmd prints the quality digest of a source
var digestCmd = &cobra.Command{
	Use:   "digest [source]",
	Short: "Print today's data quality digest for a source",
	Args:  cobra.ExactArgs(1),
	RunE:  runDigest,
}

// docsCmd prints the documentation of a source
var docsCmd = &cobra.Command{
	Use:   "docs [source]",
	Short: "Print a source's documentation",
	Args:  cobra.ExactArgs(1),
	RunE:  runDocs,
}

// scanCmd checks many sources at once
var scanCmd = &cobra.Command{
	Use:   "scan [source...]",
	Short: "Run the digest and comparison checks over many sources",
	Long: `Loads every named source, or with --all every source present in either
listing, and reports its digest plus the volume, presence, failure, duplicate and
empty-file checks. A source that fails to load is reported and does not stop the scan.`,
	RunE: runScan,
}

func init() {
	queryCmd.Flags().StringVar(&queryScope, "scope", "today", "Relation to query: today or combined")
	queryCmd.Flags().StringVar(&queryFormat, "format", "markdown", "Output format: markdown or json")
	digestCmd.Flags().StringVar(&digestFormat, "format", "markdown", "Output format: markdown, json or yaml")
	scanCmd.Flags().StringVar(&scanFormat, "format", "markdown", "Output format: markdown, json or yaml")
	scanCmd.Flags().BoolVar(&scanAll, "all", false, "Scan every source found in the listings")
}

func runServe(cmd *cobra.Command, args []string) error {
	config.InitConfig("")
	ctx, stop := signal.NotifyContext(core.WithDefaultLogger(context.Background(), "main"), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	metrics := querier.NewMetrics(reg)
	backend, err := cfg.NewBackend(ctx, metrics)
	if err != nil {
		return err
	}
	cache := cfg.NewCache(backend, metrics)
	defer cache.Close()

	mux := http.NewServeMux()
	querier.NewServer(cache, cfg.Key, reg).Register(mux)
	httpServer := &http.Server{Addr: fmt.Sprintf(":%d", config.Config.Port), Handler: mux}
	flightServer := querier.NewFlightSQLServer(cache, cfg.Key)
	defer flightServer.Close()
	grpcServer := querier.NewGRPCServer(flightServer)

	if cfg.ScanSchedule != "" {
		scheduler := &monitor.Scheduler{
			Open:        backend.Open,
			Sources:     backend.Sources,
			KeyFor:      cfg.Key,
			Parallelism: cfg.ScanParallelism,
			Timeout:     timeout,
		}
		if err := scheduler.Start(ctx, cfg.ScanSchedule); err != nil {
			return err
		}
		defer scheduler.Stop()
		mux.HandleFunc("GET /scan/latest", scheduler.HandleLatest)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		core.Infof(ctx, "ingestwatch server running at http://localhost:%d", config.Config.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start main server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		core.Infof(ctx, "FlightSQL server running on port %d", config.Config.FlightSqlPort)
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", config.Config.FlightSqlPort))
		if err != nil {
			return fmt.Errorf("failed to listen: %w", err)
		}
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		<-gctx.Done()
		core.Infof(ctx, "Shutting down")
		grpcServer.GracefulStop()
		return httpServer.Shutdown(context.Background())
	})
	return g.Wait()
}

func runQuery(cmd *cobra.Command, args []string) error {
	scope, ok := core.ParseScope(queryScope)
	if !ok {
		return fmt.Errorf("unknown scope %q", queryScope)
	}
	ctx, cancel := commandContext(cmd, "query")
	defer cancel()

	store, err := openStore(ctx, args[0])
	if err != nil {
		return err
	}
	defer store.Close()

	res, err := store.Run(ctx, scope, args[1])
	if err != nil {
		var qe *core.QueryError
		if errors.As(err, &qe) {
			return errors.New(qe.Hint())
		}
		return err
	}
	switch queryFormat {
	case "json":
		return printJSON(querier.QueryResponse{
			Columns: res.Columns,
			Results: querier.ProcessResultsForJSON(res.Maps()),
			Total:   res.Total,
			Omitted: res.Omitted(),
		})
	case "markdown", "":
		fmt.Println(res.Text())
		return nil
	}
	return fmt.Errorf("unknown format %q", queryFormat)
}

func runDigest(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd, "digest")
	defer cancel()

	store, err := openStore(ctx, args[0])
	if err != nil {
		return err
	}
	defer store.Close()

	d, err := store.QualityDigest(ctx)
	if err != nil {
		return err
	}
	switch digestFormat {
	case "json":
		return printJSON(d)
	case "yaml":
		out, err := yaml.Marshal(d)
		if err != nil {
			return err
		}
		fmt.Print(string(out))
		return nil
	case "markdown", "":
		fmt.Print(d.Text())
		return nil
	}
	return fmt.Errorf("unknown format %q", digestFormat)
}

func runDocs(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd, "docs")
	defer cancel()

	store, err := openStore(ctx, args[0])
	if err != nil {
		return err
	}
	defer store.Close()

	doc, err := store.ReadDocumentation()
	if err != nil {
		return err
	}
	fmt.Print(doc)
	return nil
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd, "scan")
	defer cancel()

	backend, err := cfg.NewBackend(ctx, nil)
	if err != nil {
		return err
	}
	sources := args
	if scanAll {
		if sources, err = backend.Sources(ctx); err != nil {
			return fmt.Errorf("failed to list sources: %w", err)
		}
	}
	if len(sources) == 0 {
		return fmt.Errorf("no sources to scan; name them or pass --all")
	}

	cache := querier.NewCache(backend.Open, nil)
	defer cache.Close()

	report, err := monitor.Scan(ctx, cache, cfg.Keys(sources), cfg.ScanParallelism)
	if err != nil {
		return err
	}
	out, err := report.Render(scanFormat)
	if err != nil {
		return err
	}
	fmt.Print(string(out))
	if !bytesEndWithNewline(out) {
		fmt.Println()
	}
	return nil
}

func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

func bytesEndWithNewline(b []byte) bool {
	return len(b) > 0 && b[len(b)-1] == '\n'
}
