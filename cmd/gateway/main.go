// Command gateway runs the realtime voice session gateway: it bridges
// browser voice clients to an upstream realtime provider, dispatches
// tool calls across an agent graph, and persists completed
// conversations to a document store.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lumenarc/voicegateway/internal/agent"
	"github.com/lumenarc/voicegateway/internal/config"
	"github.com/lumenarc/voicegateway/internal/convlog"
	"github.com/lumenarc/voicegateway/internal/convlog/store"
	"github.com/lumenarc/voicegateway/internal/credential"
	"github.com/lumenarc/voicegateway/internal/infra"
	"github.com/lumenarc/voicegateway/internal/manager"
	"github.com/lumenarc/voicegateway/internal/upstream"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("gateway exited with error", "err", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	creds := credential.NewClientCredentialsProvider(cfg.CredentialClientID, cfg.CredentialClientSecret, cfg.CredentialTokenURL)

	upstreamClient := upstream.New(upstream.Config{
		Endpoint:   cfg.UpstreamEndpoint,
		APIVersion: cfg.UpstreamAPIVersion,
		Deployment: cfg.UpstreamDeployment,
		Scope:      cfg.CredentialScope,
	}, creds)

	registry := agent.NewRegistry("")
	if err := registry.RegisterRoot(agent.AgentDefinition{
		ID:            "root",
		SystemMessage: "You are a helpful voice assistant.",
		Description:   "Default entry point for every session before any agent switch.",
	}); err != nil {
		return fmt.Errorf("registering root agent: %w", err)
	}
	dispatcher := agent.NewDispatcher(registry, cfg.ToolCallTimeout, logger.With("component", "dispatcher"))

	convLogger, closeStore, err := buildConversationLogger(cfg, creds, logger)
	if err != nil {
		return fmt.Errorf("building conversation logger: %w", err)
	}
	if closeStore != nil {
		defer closeStore()
	}

	mgr := manager.New(registry, dispatcher, upstreamClient, convLogger, nil, logger.With("component", "session-manager"))
	httpServer := manager.NewHTTPServer(mgr, cfg.HTTPAddr, logger.With("component", "manager-http"))

	components := infra.NewComponentManager(logger)
	components.Register(mgr)
	components.Register(httpServer)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := components.Start(ctx); err != nil {
		return fmt.Errorf("starting components: %w", err)
	}

	realtimeServer := startRealtimeServer(mgr, cfg, logger)

	logger.Info("gateway started", "http_addr", cfg.HTTPAddr, "realtime_addr", cfg.RealtimeAddr)
	<-ctx.Done()
	logger.Info("shutdown signal received, draining sessions")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if realtimeServer != nil {
		if err := realtimeServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("realtime server shutdown error", "err", err)
		}
	}
	if err := components.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("stopping components: %w", err)
	}

	logger.Info("gateway stopped gracefully")
	return nil
}

// startRealtimeServer runs the client-facing /realtime WebSocket
// endpoint on its own listener, separate from the chi-routed §6
// companion endpoints, rather than sharing one mux with the rest of
// the HTTP surface.
func startRealtimeServer(mgr *manager.Manager, cfg *config.Config, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/realtime", manager.NewRealtimeHandler(mgr, cfg.OriginAllowed))

	srv := &http.Server{
		Addr:              cfg.RealtimeAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("realtime server error", "err", err)
		}
	}()
	return srv
}

func buildConversationLogger(cfg *config.Config, creds credential.TokenSource, logger *slog.Logger) (*convlog.Logger, func(), error) {
	if cfg.PostgresDSN == "" {
		logger.Warn("POSTGRES_DSN not set; conversation documents will not be persisted")
		return &convlog.Logger{Logger: logger.With("component", "convlog")}, nil, nil
	}

	docStore, err := store.NewPostgresStore(cfg.PostgresDSN, store.DefaultPostgresConfig())
	if err != nil {
		return nil, nil, err
	}
	if err := docStore.Migrate(context.Background()); err != nil {
		docStore.Close()
		return nil, nil, err
	}

	var summarizer convlog.TitleSummarizer
	if cfg.TitleDerivationEnabled() {
		summarizer = convlog.NewAzureSummarizer(cfg.UpstreamEndpoint, cfg.UpstreamAPIVersion, cfg.TitleModelDeployment, cfg.CredentialScope, creds)
	}

	return &convlog.Logger{
		Store:      docStore,
		Summarizer: summarizer,
		Logger:     logger.With("component", "convlog"),
	}, func() { docStore.Close() }, nil
}
