package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gigapi/gigapi-ingestwatch/core"
	"github.com/gigapi/gigapi-ingestwatch/querier"
	"github.com/gigapi/gigapi-ingestwatch/settings"
	"github.com/spf13/cobra"
)

var (
	configPath string
	envFile    string
	timeout    time.Duration

	cfg *settings.Settings
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "ingestwatch",
	Short: "Query and check daily file ingestion per source",
	Long: `ingestwatch loads the file listings of today and the last weekday for a source
into an embedded analytic store and answers SQL over them.

The relation is always named "data". Columns: source_id, filename, rows, status,
is_duplicated, file_size, uploaded_at, status_message, partition, quality_issue.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := settings.LoadDotEnv(envFiles()...); err != nil {
			return err
		}
		s, err := settings.Load(configPath)
		if err != nil {
			return err
		}
		core.SetLogLevel(s.LogLevel)
		cfg = s
		return nil
	},
}

func envFiles() []string {
	if envFile == "" {
		return nil
	}
	return []string{envFile}
}

// commandContext bounds a one-shot command by --timeout
func commandContext(cmd *cobra.Command, name string) (context.Context, context.CancelFunc) {
	base := cmd.Context()
	if base == nil {
		base = context.Background()
	}
	return context.WithTimeout(core.WithDefaultLogger(base, name), timeout)
}

// openStore loads a single source with the configured backend
func openStore(ctx context.Context, sourceID string) (*querier.Store, error) {
	backend, err := cfg.NewBackend(ctx, nil)
	if err != nil {
		return nil, err
	}
	return backend.Open(ctx, cfg.Key(sourceID))
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML settings file (env INGESTWATCH_* overrides)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file to load (default: .env)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "Timeout for one-shot commands")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(digestCmd)
	rootCmd.AddCommand(docsCmd)
	rootCmd.AddCommand(scanCmd)
}

func main() {
	err := rootCmd.Execute()
	core.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
