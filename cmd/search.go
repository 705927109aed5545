package cmd

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	searchcfg "github.com/hapi-systems/hapi-core/internal/search/config"
	"github.com/hapi-systems/hapi-core/internal/search/embedder"
	"github.com/hapi-systems/hapi-core/internal/search/httpapi"
	"github.com/hapi-systems/hapi-core/internal/search/hubclient"
	"github.com/hapi-systems/hapi-core/internal/search/searchengine"
	"github.com/hapi-systems/hapi-core/internal/search/searchsvc"
	"github.com/hapi-systems/hapi-core/internal/search/syncer"
	"github.com/hapi-systems/hapi-core/internal/search/syncstate"
	"github.com/hapi-systems/hapi-core/internal/telemetry"
)

func searchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search",
		Short: "run the search indexer service",
		Run: func(cmd *cobra.Command, args []string) {
			runSearch()
		},
	}
}

func runSearch() {
	setupLogging()

	cfg, err := searchcfg.Load(resolveConfigPath("HAPI_SEARCH_CONFIG", "hapi-search.json5"))
	if err != nil {
		slog.Error("failed to load search config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid search config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: "hapi-search",
		Endpoint:    os.Getenv("HAPI_SEARCH_OTEL_ENDPOINT"),
		Insecure:    true,
	})
	if err != nil {
		slog.Error("failed to init telemetry", "error", err)
		os.Exit(1)
	}
	defer shutdownTelemetry(context.Background())

	cursor, err := syncstate.Open(syncstate.BackendConfig{
		Backend:     cfg.Search.Backend,
		SQLitePath:  cfg.Search.StateDB,
		PostgresDSN: cfg.Search.PostgresDSN,
	})
	if err != nil {
		slog.Error("failed to open sync state store", "error", err)
		os.Exit(1)
	}
	defer cursor.Close()

	hub := hubclient.New(cfg.Hub.URL, cfg.Hub.APIKey)
	emb := embedder.New(cfg.Embedder.URL, cfg.Embedder.Model)
	engine := searchengine.New(cfg.Meilisearch.URL, cfg.Meilisearch.APIKey)

	if err := engine.InitIndex(ctx); err != nil {
		slog.Error("failed to initialize search index", "error", err)
		os.Exit(1)
	}

	sync := syncer.New(hub, emb, engine, cursor)
	go func() {
		if err := sync.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("syncer stopped unexpectedly", "error", err)
		}
	}()

	svc := searchsvc.New(engine, emb, cfg.HapiURL())
	mux := http.NewServeMux()
	httpapi.New(svc).Routes(mux)

	srv := &http.Server{Addr: cfg.Search.Listen, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownGrace)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("search service listening", "addr", cfg.Search.Listen)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("search http server failed", "error", err)
		os.Exit(1)
	}
}
