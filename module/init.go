package module

import (
	"context"
	"net/http"

	"github.com/gigapi/gigapi-config/config"
	"github.com/gigapi/gigapi-ingestwatch/core"
	"github.com/gigapi/gigapi-ingestwatch/querier"
	"github.com/gigapi/gigapi-ingestwatch/settings"
	"github.com/gigapi/gigapi/v2/modules"
	"github.com/prometheus/client_golang/prometheus"
)

var server *querier.Server

func WithNoError(hndl func(w http.ResponseWriter, r *http.Request),
) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		hndl(w, r)
		return nil
	}
}

// Init registers the ingestion query routes on a gigapi host running in readonly or aio mode
func Init(api modules.Api) {
	if config.Config.Gigapi.Mode != "readonly" && config.Config.Gigapi.Mode != "aio" {
		return
	}
	ctx := core.WithDefaultLogger(context.Background(), "ingestwatch")

	s, err := loadSettings()
	if err != nil {
		panic(err)
	}

	metrics := querier.NewMetrics(prometheus.DefaultRegisterer)
	backend, err := s.NewBackend(ctx, metrics)
	if err != nil {
		panic(err)
	}
	server = querier.NewServer(s.NewCache(backend, metrics), s.Key, nil)

	routes := []struct {
		path    string
		methods []string
		handler func(w http.ResponseWriter, r *http.Request)
	}{
		{"/ingestwatch/query", []string{"POST", "OPTIONS"}, server.HandleQuery},
		{"/ingestwatch/health", []string{"GET", "OPTIONS"}, server.HandleHealth},
		{"/ingestwatch/docs", []string{"GET"}, server.HandleDocs},
		{"/ingestwatch/digest", []string{"GET"}, server.HandleDigest},
		{"/ingestwatch/reload", []string{"POST"}, server.HandleReload},
	}
	for _, rt := range routes {
		api.RegisterRoute(&modules.Route{
			Path:    rt.path,
			Methods: rt.methods,
			Handler: WithNoError(rt.handler),
		})
	}
	core.Infof(ctx, "Registered ingestwatch routes for %s", s.FilesDir)
}

// loadSettings reads envFiles (.env when none are named) before the settings, as the CLI does
func loadSettings(envFiles ...string) (*settings.Settings, error) {
	if err := settings.LoadDotEnv(envFiles...); err != nil {
		return nil, err
	}
	s, err := settings.Load("")
	if err != nil {
		return nil, err
	}
	core.SetLogLevel(s.LogLevel)
	return s, nil
}

func Close() {
	if server != nil {
		server.Close()
	}
}
