package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/leozw/presence-guardian/internal/admin"
	"github.com/leozw/presence-guardian/internal/api"
	"github.com/leozw/presence-guardian/internal/api/handlers"
	"github.com/leozw/presence-guardian/internal/config"
	"github.com/leozw/presence-guardian/internal/discord"
	"github.com/leozw/presence-guardian/internal/logging"
	"github.com/leozw/presence-guardian/internal/metrics"
	"github.com/leozw/presence-guardian/internal/notify"
	"github.com/leozw/presence-guardian/internal/report"
	"github.com/leozw/presence-guardian/internal/scheduler"
	"github.com/leozw/presence-guardian/internal/storage"
	"github.com/leozw/presence-guardian/internal/storage/backends"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	configFile := pflag.StringP("config", "c", "", "path to a config file (default ./config.yaml)")
	pflag.Parse()

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
	if cfg.Discord.Token == "" {
		log.Fatal("DISCORD_TOKEN is required")
	}

	// Setup logger
	logger, cleanup, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer cleanup()

	if err := run(cfg, logger); err != nil {
		logger.Error("Guardian exited with error", zap.Error(err))
		cleanup()
		os.Exit(1)
	}
	logger.Info("Guardian exited")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metricsCollector := metrics.NewCollector(registry, cfg.Mimir)

	// Store
	backend, err := backends.Open(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.Storage.Driver, err)
	}
	store := storage.NewStore(backend,
		storage.WithLogger(logger),
		storage.WithMetrics(metricsCollector),
	)
	defer store.Close()

	if _, err := store.Load(ctx); err != nil {
		return fmt.Errorf("failed to load store: %w", err)
	}

	// Discord
	session, err := discord.New(cfg.Discord.Token, logger)
	if err != nil {
		return err
	}
	if err := session.Open(); err != nil {
		return err
	}
	defer session.Close()

	// Notifications
	dispatcherOpts := []notify.DispatcherOption{
		notify.WithRateLimit(cfg.Notify.RatePerSecond, cfg.Notify.Burst),
		notify.WithSendTimeout(cfg.Notify.SendTimeout),
		notify.WithMetrics(metricsCollector),
	}
	if cfg.Notify.Lark.Enabled() {
		lark := notify.NewLarkNotifier(cfg.Notify.Lark.AppID, cfg.Notify.Lark.AppSecret)
		dispatcherOpts = append(dispatcherOpts, notify.WithMirror(notify.SinkLark, lark, cfg.Notify.Lark.ChatID))
		logger.Info("Mirroring notifications to Lark", zap.String("chat_id", cfg.Notify.Lark.ChatID))
	}
	dispatcher := notify.NewDispatcher(session, notify.SinkDiscord, logger, dispatcherOpts...)

	adminSvc := admin.NewService(store, session, metricsCollector, logger)

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	// Sampler
	sampler := scheduler.NewSampler(store, session, dispatcher, metricsCollector, logger, cfg.Sampler)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := sampler.Start(ctx); err != nil {
			errCh <- fmt.Errorf("sampler stopped: %w", err)
		}
	}()

	// Remote write
	wg.Add(1)
	go func() {
		defer wg.Done()
		metricsCollector.StartRemoteWrite(ctx, logger)
	}()

	// Uptime digest
	if cfg.Summary.Schedule != "" {
		reporter, err := report.New(cfg.Summary.Schedule, store, adminSvc, dispatcher, logger)
		if err != nil {
			return err
		}
		reporter.Start(ctx)
		defer reporter.Stop()
	}

	// API Server
	var srv *http.Server
	if cfg.Server.Enabled {
		server := api.NewServer(cfg, handlers.NewHandler(adminSvc, store, session, logger), registry, logger)
		srv = &http.Server{
			Addr:              ":" + cfg.Server.Port,
			Handler:           server.Router,
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("api server failed: %w", err)
			}
		}()
		logger.Info("API server started", zap.String("port", cfg.Server.Port))
	}

	logger.Info("Guardian started",
		zap.String("storage", cfg.Storage.Driver),
		zap.Duration("interval", cfg.Sampler.Interval),
	)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		logger.Info("Shutting down guardian...", zap.String("signal", sig.String()))
	case runErr = <-errCh:
		logger.Error("Shutting down guardian after failure", zap.Error(runErr))
	}

	cancel()

	if srv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server forced to shutdown", zap.Error(err))
		}
	}

	// The sampler finishes and persists an in-flight tick before returning.
	wg.Wait()
	return runErr
}
