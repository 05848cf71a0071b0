package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/relaybot/relay/internal/attachments"
	"github.com/relaybot/relay/internal/channels"
	"github.com/relaybot/relay/internal/channels/telegram"
	"github.com/relaybot/relay/internal/config"
	"github.com/relaybot/relay/internal/engine"
	"github.com/relaybot/relay/internal/llm"
	"github.com/relaybot/relay/internal/llm/providers"
	"github.com/relaybot/relay/internal/observability"
	"github.com/relaybot/relay/internal/retry"
	"github.com/relaybot/relay/internal/sessions"
	"github.com/relaybot/relay/internal/toolmode"
	"github.com/relaybot/relay/internal/tools"
	"github.com/relaybot/relay/pkg/models"
)

func buildServeCmd() *cobra.Command {
	var configPath string
	var debug bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "relay.yaml", "Path to configuration file")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")
	return cmd
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logCfg := observability.LogConfig{Level: cfg.Logging.Level, Format: cfg.Logging.Format}
	if debug {
		logCfg.Level = "debug"
	}
	logger := observability.NewLogger(logCfg)
	slog.SetDefault(logger)

	logger.Info("starting relay gateway",
		"version", version,
		"commit", commit,
		"config", configPath,
		"provider", cfg.Providers.Default)

	metrics := observability.NewMetrics()

	registry, err := buildProviders(ctx, cfg)
	if err != nil {
		return err
	}
	if len(registry.Names()) == 0 {
		return fmt.Errorf("no provider configured; set at least one api key")
	}

	store := sessions.NewMemoryStore(sessions.Config{
		DefaultBinding: models.Binding{
			Provider: cfg.Providers.Default,
			Model:    cfg.Providers.DefaultModel,
		},
		TTL:         cfg.Sessions.TTL,
		MaxMessages: cfg.Sessions.MaxMessages,
	}, logger)

	toolRegistry := tools.NewRegistry(logger)
	if err := toolRegistry.Register(tools.NewSceneBreakdown()); err != nil {
		return fmt.Errorf("register tools: %w", err)
	}

	attachmentStore, err := attachments.NewStore(attachments.Config{
		CacheDir:          cfg.Attachments.CacheDir,
		MediaTTL:          cfg.Attachments.MediaTTL,
		FileTTL:           cfg.Attachments.FileTTL,
		MaxImageDimension: cfg.Attachments.MaxImageDimension,
	}, logger)
	if err != nil {
		return fmt.Errorf("attachment store: %w", err)
	}

	eng := engine.New(engine.Options{
		Config: engine.Config{
			MaxToolIterations: cfg.Engine.MaxToolIterations,
			RequestTimeout:    cfg.Engine.RequestTimeout,
			SystemPrompt:      cfg.Engine.SystemPrompt,
			MaxTokens:         cfg.Engine.MaxTokens,
			Temperature:       cfg.Engine.Temperature,
		},
		Logger:    logger,
		Store:     store,
		Modes:     toolmode.NewState(),
		Registry:  toolRegistry,
		Retrier:   retry.NewController(retry.Config{MaxAttempts: cfg.Retry.MaxAttempts, Metrics: metrics}, logger),
		Providers: registry,
		Metrics:   metrics,
	})

	watcher := config.NewWatcher(configPath, logger, func(next *config.Config) {
		// Log level is the one setting safe to apply without a
		// restart; everything else waits for the next boot.
		slog.SetDefault(observability.NewLogger(observability.LogConfig{
			Level:  next.Logging.Level,
			Format: next.Logging.Format,
		}))
	})

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := watcher.Start(ctx); err != nil {
		logger.Warn("config watch unavailable", "error", err)
	}
	defer watcher.Close()

	adapters := channels.NewRegistry()
	if cfg.Telegram.Enabled {
		adapter, err := telegram.NewAdapter(telegram.Config{
			Token:    cfg.Telegram.BotToken,
			AdminIDs: cfg.Telegram.AdminIDs,
			Logger:   logger,
			Metrics:  metrics,
		}, eng, attachmentStore, watcher)
		if err != nil {
			return fmt.Errorf("telegram adapter: %w", err)
		}
		adapters.Register(adapter)
	}

	if err := adapters.StartAll(ctx); err != nil {
		return fmt.Errorf("start adapters: %w", err)
	}

	sweeper := cron.New()
	if _, err := sweeper.AddFunc(cfg.Sessions.SweepEvery, func() {
		removed := store.Sweep() + attachmentStore.Sweep(time.Now())
		if removed > 0 {
			logger.Debug("sweep completed", "removed", removed)
		}
	}); err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	metricsSrv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("metrics server listening", "addr", metricsSrv.Addr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	logger.Info("relay gateway started")

	<-ctx.Done()
	logger.Info("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := adapters.StopAll(shutdownCtx); err != nil {
		logger.Error("adapter shutdown failed", "error", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown failed", "error", err)
	}

	logger.Info("relay gateway stopped")
	return nil
}

func buildProviders(ctx context.Context, cfg *config.Config) (*llm.Registry, error) {
	registry := llm.NewRegistry()

	if key := cfg.Providers.Anthropic.APIKey; key != "" {
		p, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:  key,
			BaseURL: cfg.Providers.Anthropic.BaseURL,
		})
		if err != nil {
			return nil, err
		}
		registry.Register(p)
	}

	if key := cfg.Providers.OpenAI.APIKey; key != "" {
		p, err := providers.NewOpenAIProvider(providers.OpenAIConfig{
			APIKey:  key,
			BaseURL: cfg.Providers.OpenAI.BaseURL,
		})
		if err != nil {
			return nil, err
		}
		registry.Register(p)
	}

	if key := cfg.Providers.Google.APIKey; key != "" {
		p, err := providers.NewGoogleProvider(ctx, providers.GoogleConfig{APIKey: key})
		if err != nil {
			return nil, err
		}
		registry.Register(p)
	}

	// Extra entries are OpenAI-compatible endpoints under their own
	// names, so a config may bind sessions to them as defaults.
	for name, creds := range cfg.Providers.Extra {
		p, err := providers.NewOpenAIProvider(providers.OpenAIConfig{
			APIKey:  creds.APIKey,
			BaseURL: creds.BaseURL,
			Name:    name,
		})
		if err != nil {
			return nil, fmt.Errorf("extra provider %s: %w", name, err)
		}
		registry.Register(p)
	}

	return registry, nil
}

func metricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	return mux
}
