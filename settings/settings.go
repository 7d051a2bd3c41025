// Package settings loads the monitoring configuration from the environment,
// an optional YAML file and an optional .env file.
package settings

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/gigapi/gigapi-ingestwatch/loader"
	"github.com/gigapi/gigapi-ingestwatch/querier"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "INGESTWATCH"

const (
	BackendFS = "fs"
	BackendS3 = "s3"
)

// S3 locates listings and documents in a bucket; FilesDir and DocsDir become key prefixes
type S3 struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// Settings is the monitoring configuration
type Settings struct {
	FilesDir        string        `mapstructure:"files_dir"`
	DocsDir         string        `mapstructure:"docs_dir"`
	MaxRows         int           `mapstructure:"max_rows"`
	Lenient         bool          `mapstructure:"lenient"`
	LogLevel        string        `mapstructure:"log_level"`
	Backend         string        `mapstructure:"backend"`
	ScanParallelism int           `mapstructure:"scan_parallelism"`
	// ScanSchedule is a five-field cron expression; empty disables scheduled scans
	ScanSchedule    string        `mapstructure:"scan_schedule"`
	// CacheTTL reloads a served store once it is this old, e.g. "1h"; zero keeps it until reloaded
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
	S3              S3            `mapstructure:"s3"`
}

var defaults = map[string]interface{}{
	"files_dir":            "./data/files",
	"docs_dir":             "./data/datasource_cvs",
	"max_rows":             querier.DefaultMaxRows,
	"lenient":              false,
	"log_level":            "info",
	"backend":              BackendFS,
	"scan_parallelism":     4,
	"scan_schedule":        "",
	"cache_ttl":            time.Duration(0),
	"s3.bucket":            "",
	"s3.region":            "",
	"s3.endpoint":          "",
	"s3.access_key_id":     "",
	"s3.secret_access_key": "",
}

// LoadDotEnv loads variables from the given files, .env when none are named.
// Missing files are ignored; variables already set win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads the settings. path names an optional YAML file; environment variables
// prefixed INGESTWATCH_ override it, e.g. INGESTWATCH_S3_BUCKET for s3.bucket.
func Load(path string) (*Settings, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate reports the first inconsistent setting
func (s *Settings) Validate() error {
	switch s.Backend {
	case BackendFS:
	case BackendS3:
		if s.S3.Bucket == "" {
			return errors.New("s3 backend requires s3.bucket")
		}
	default:
		return fmt.Errorf("unknown backend %q", s.Backend)
	}
	if s.CacheTTL < 0 {
		return fmt.Errorf("cache_ttl must not be negative, got %v", s.CacheTTL)
	}
	if s.ScanParallelism < 1 {
		return fmt.Errorf("scan_parallelism must be at least 1, got %d", s.ScanParallelism)
	}
	return nil
}

// Key is the cache key a source is loaded under
func (s *Settings) Key(sourceID string) querier.CacheKey {
	return querier.CacheKey{SourceID: sourceID, FilesDir: s.FilesDir, DocsDir: s.DocsDir}
}

// Keys maps source ids onto cache keys
func (s *Settings) Keys(sourceIDs []string) []querier.CacheKey {
	keys := make([]querier.CacheKey, len(sourceIDs))
	for i, id := range sourceIDs {
		keys[i] = s.Key(id)
	}
	return keys
}

// StoreOptions are the store options the settings call for
func (s *Settings) StoreOptions(metrics *querier.Metrics) querier.Options {
	return querier.Options{MaxRows: s.MaxRows, Lenient: s.Lenient, Metrics: metrics}
}

// NewCache returns the store cache serving b, expiring stores after CacheTTL
func (s *Settings) NewCache(b *Backend, metrics *querier.Metrics) *querier.Cache {
	c := querier.NewCache(b.Open, metrics)
	c.MaxAge = s.CacheTTL
	return c
}

// Backend is where listings and documents are read from
type Backend struct {
	Open querier.OpenFunc
	// Sources lists every source present in today's or last weekday's listing
	Sources func(ctx context.Context) ([]string, error)
}

// NewBackend builds the configured storage backend
func (s *Settings) NewBackend(ctx context.Context, metrics *querier.Metrics) (*Backend, error) {
	opts := s.StoreOptions(metrics)
	if s.Backend == BackendFS {
		return &Backend{
			Open:    querier.FolderOpener(opts),
			Sources: loader.NewDayFolder(s.FilesDir).Sources,
		}, nil
	}

	client, err := loader.NewS3Client(ctx, loader.S3Config{
		Bucket:          s.S3.Bucket,
		Region:          s.S3.Region,
		Endpoint:        s.S3.Endpoint,
		AccessKeyID:     s.S3.AccessKeyID,
		SecretAccessKey: s.S3.SecretAccessKey,
	})
	if err != nil {
		return nil, err
	}
	return &Backend{
		Open: func(ctx context.Context, key querier.CacheKey) (*querier.Store, error) {
			listings := &loader.S3Listings{Client: client, Bucket: s.S3.Bucket, Prefix: key.FilesDir}
			docs := &loader.S3Docs{Client: client, Bucket: s.S3.Bucket, Prefix: key.DocsDir}
			return querier.Open(ctx, key.SourceID, listings, docs, opts)
		},
		Sources: (&loader.S3Listings{Client: client, Bucket: s.S3.Bucket, Prefix: s.FilesDir}).Sources,
	}, nil
}
