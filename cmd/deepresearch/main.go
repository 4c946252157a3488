package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/deepresearch-mcp/orchestrator/internal/adapter/adminhttp"
	_ "github.com/deepresearch-mcp/orchestrator/internal/adapter/desktopnotify"
	"github.com/deepresearch-mcp/orchestrator/internal/adapter/researchprovider"
	"github.com/deepresearch-mcp/orchestrator/internal/adapter/ristretto"
	"github.com/deepresearch-mcp/orchestrator/internal/adapter/sqlite"
	"github.com/deepresearch-mcp/orchestrator/internal/config"
	"github.com/deepresearch-mcp/orchestrator/internal/domain/research"
	"github.com/deepresearch-mcp/orchestrator/internal/engine"
	"github.com/deepresearch-mcp/orchestrator/internal/executor"
	"github.com/deepresearch-mcp/orchestrator/internal/hangdetect"
	"github.com/deepresearch-mcp/orchestrator/internal/logger"
	"github.com/deepresearch-mcp/orchestrator/internal/mcp"
	"github.com/deepresearch-mcp/orchestrator/internal/port/notifier"
	"github.com/deepresearch-mcp/orchestrator/internal/resilience"
	"github.com/deepresearch-mcp/orchestrator/internal/store"
	"github.com/deepresearch-mcp/orchestrator/internal/telemetry"
)

func main() {
	bootLogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(bootLogger)

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closer := logger.New(cfg.Logging)
	defer closer.Close()
	slog.SetDefault(log)

	log.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"store_path", cfg.Store.Path,
		"executor_cap", cfg.DeepResearch.ExecutorCap,
	)

	ctx := context.Background()

	// --- Infrastructure ---

	db, err := sqlite.Open(ctx, cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("sqlite: %w", err)
	}
	defer func() { _ = db.Close() }()
	log.Info("state store opened", "path", cfg.Store.Path)

	sqliteStore := sqlite.NewStore(db, resilience.RetryPolicy{
		Initial:    cfg.Store.RetryInitial,
		Multiplier: resilience.DefaultStateStoreRetry.Multiplier,
		Cap:        cfg.Store.RetryCap,
		MaxRetries: cfg.Store.RetryMax,
	})

	taskCache, err := ristretto.New(cfg.Cache.MaxSizeBytes)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer taskCache.Close()
	st := store.NewCachedStore(sqliteStore, taskCache)

	metrics, err := telemetry.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.Endpoint)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			log.Error("telemetry shutdown failed", "error", err)
		}
	}()

	// --- Provider ---

	credential := os.Getenv(cfg.Provider.CredentialEnv)
	providerClient := researchprovider.NewClient(cfg.Provider.BaseURL, credential)
	providerClient.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))

	// --- Notifier ---

	notify, err := buildNotifier(cfg.Notifier)
	if err != nil {
		return fmt.Errorf("notifier: %w", err)
	}

	// --- Background execution ---

	exec := executor.New(cfg.DeepResearch.ExecutorCap, cfg.DeepResearch.ExecutorQueueSize, nil, log)
	hangs := hangdetect.New()

	eng := engine.New(st, providerClient, exec, notify, hangs, metrics, engine.Config{
		SyncBudget:          cfg.DeepResearch.SyncBudget,
		PollInterval:        cfg.DeepResearch.PollInterval,
		DefaultMaxWaitHours: int(cfg.DeepResearch.MaxWait.Hours()),
	}, log)

	eng.SetOnTerminal(func(_ context.Context, taskID string, _ research.Status) {
		hangs.ClearHistory(taskID)
	})

	if err := eng.RecoverOnStartup(ctx); err != nil {
		return fmt.Errorf("recover on startup: %w", err)
	}
	log.Info("recovered incomplete tasks on startup")

	// --- Admin HTTP surface (health only) ---

	r := chi.NewRouter()
	r.Use(telemetry.HTTPMiddleware(cfg.Telemetry.ServiceName))
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(adminhttp.SecurityHeaders)
	r.Use(adminhttp.Logger)
	r.Get("/healthz", healthHandler(cfg))

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info("starting health endpoint", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("health endpoint failed", "error", err)
		}
	}()

	mcpServer := mcp.NewServer(mcp.ServerConfig{
		Name:    "deepresearch-mcp",
		Version: "0.1.0",
	}, mcp.ServerDeps{Engine: eng})

	mcpCtx, cancelMCP := context.WithCancel(ctx)
	mcpErr := make(chan error, 1)
	go func() {
		log.Info("starting MCP server over stdio")
		mcpErr <- mcpServer.Start(mcpCtx)
	}()

	select {
	case <-done:
		log.Info("shutting down")
	case err := <-mcpErr:
		log.Info("MCP server exited", "error", err)
	}

	cancelMCP()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

// buildNotifier constructs the configured notifier through the notifier
// registry, or returns a nil Notifier (disabling notify_on_done) when no
// provider is configured.
func buildNotifier(cfg config.Notifier) (notifier.Notifier, error) {
	if cfg.Provider == "" {
		return nil, nil
	}
	n, err := notifier.New(cfg.Provider, nil)
	if err != nil {
		return nil, fmt.Errorf("available providers %v: %w", notifier.Available(), err)
	}
	return n, nil
}

// healthHandler reports liveness and the configured store/provider endpoints.
func healthHandler(cfg *config.Config) http.HandlerFunc {
	type healthStatus struct {
		Status      string `json:"status"`
		Store       string `json:"store"`
		ProviderURL string `json:"provider_url"`
	}

	return func(w http.ResponseWriter, _ *http.Request) {
		status := healthStatus{
			Status:      "ok",
			Store:       cfg.Store.Path,
			ProviderURL: cfg.Provider.BaseURL,
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(status)
	}
}
