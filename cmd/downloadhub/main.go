package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/italolelis/downloadhub/internal/audit"
	"github.com/italolelis/downloadhub/internal/config"
	"github.com/italolelis/downloadhub/internal/dc"
	"github.com/italolelis/downloadhub/internal/dc/qbittorrent"
	"github.com/italolelis/downloadhub/internal/downloader"
	"github.com/italolelis/downloadhub/internal/events"
	"github.com/italolelis/downloadhub/internal/http/rest"
	"github.com/italolelis/downloadhub/internal/library"
	"github.com/italolelis/downloadhub/internal/logctx"
	"github.com/italolelis/downloadhub/internal/notifier"
	"github.com/italolelis/downloadhub/internal/reconcile"
	"github.com/italolelis/downloadhub/internal/source"
	"github.com/italolelis/downloadhub/internal/storage/sqlite"
	"github.com/italolelis/downloadhub/internal/svc/plex"
	"github.com/italolelis/downloadhub/internal/telemetry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := logctx.New(os.Stdout, cfg.SlogLevel())
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("downloadhub starting...", "version", version, "log_level", cfg.LogLevel)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil {
		logger.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(ctx, cfg.DBPath)
	if err != nil {
		logger.Error("DB error", "err", err)

		return err
	}

	downloads := sqlite.NewInstrumentedDownloadRepository(database, tel)
	libraryFiles := sqlite.NewInstrumentedLibraryRepository(database, tel)
	auditor := audit.NewRecorder(sqlite.NewInstrumentedAuditRepository(database, tel))

	// =========================================================================
	// Start Torrent Engine
	engine := buildEngine(cfg, tel)

	if engine.IsEnabled() && !engine.Login(ctx) {
		logger.Warn("torrent engine login failed, the reconciler will retry", "url", cfg.QBittorrentURL())
	}

	// =========================================================================
	// Start Library
	if err := os.MkdirAll(cfg.DownloadDir, 0o755); err != nil {
		return fmt.Errorf("failed to create download dir: %w", err)
	}

	lib, err := library.NewService(cfg.DownloadDir, libraryFiles)
	if err != nil {
		return fmt.Errorf("failed to start library: %w", err)
	}

	// background holds work that must finish before the database closes.
	var background errgroup.Group

	if cfg.ScanOnStart {
		background.Go(func() error {
			added, err := lib.Scan(ctx)
			if err != nil {
				logger.Error("library scan failed", "err", err)

				return nil
			}

			logger.Info("library scan finished", "added", added, "root", lib.Root())

			return nil
		})
	}

	// =========================================================================
	// Start Event Hub and Orchestration
	hub := events.NewHub(tel)
	sources := source.NewRegistry(source.NewApibay(cfg.Apibay.BaseURL, nil))
	svc := downloader.NewService(engine, downloads, sources, hub, lib.Root(), tel, auditor)

	// =========================================================================
	// Start Reconciler
	reconciler := reconcile.New(engine, downloads, lib, hub,
		reconcile.WithInterval(cfg.PollInterval),
		reconcile.WithTelemetry(tel),
		reconcile.WithListeners(buildListeners(ctx, cfg, tel)...),
	)
	reconciler.Start(ctx)

	// =========================================================================
	// Start API Service

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	server := setupServer(ctx, cfg, svc, lib, hub, engine, auditor, tel)

	go func() {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)
		serverErrors <- server.ListenAndServe()
	}()

	logger.Info("waiting for downloads...",
		"download_dir", lib.Root(),
		"poll_interval", cfg.PollInterval.String(),
		"sources", sources.Names(),
	)

	var runErr error

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		logger.Info("start shutdown")
	}

	// =========================================================================
	// Shutdown
	reconciler.Stop()

	// Give outstanding requests a deadline for completion.
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to gracefully shutdown the server", "err", err)

		if err = server.Close(); err != nil {
			runErr = errors.Join(runErr, fmt.Errorf("could not stop server gracefully: %w", err))
		}
	}

	hub.Close(shutdownCtx)

	if err := tel.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown telemetry", "err", err)
	}

	// no scan write may race the close
	_ = background.Wait()

	if err := database.Close(); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("failed to close database: %w", err))
	}

	logger.Info("shutdown complete")

	return runErr
}

func buildEngine(cfg *config.Config, tel *telemetry.Telemetry) dc.Engine {
	client := qbittorrent.NewClient(
		cfg.QBittorrentURL(),
		cfg.QBittorrent.Username,
		cfg.QBittorrent.Password,
		cfg.QBittorrent.Enabled,
		qbittorrent.WithTimeout(cfg.QBittorrent.Timeout),
		qbittorrent.WithHashDiscovery(cfg.QBittorrent.HashDiscoveryAttempts, cfg.QBittorrent.HashDiscoveryInterval),
	)

	return dc.NewInstrumentedEngine(client, tel)
}

// buildListeners wires the completion side effects that are configured.
func buildListeners(ctx context.Context, cfg *config.Config, tel *telemetry.Telemetry) []reconcile.Listener {
	logger := logctx.LoggerFromContext(ctx)

	var notifiers []notifier.Notifier

	if cfg.Ntfy.Enabled {
		notifiers = append(notifiers, &notifier.NtfyNotifier{
			ServerURL:   cfg.Ntfy.ServerURL,
			Topic:       cfg.Ntfy.Topic,
			AccessToken: cfg.Ntfy.AccessToken,
		})
	}

	if cfg.DiscordWebhookURL != "" {
		notifiers = append(notifiers, &notifier.DiscordNotifier{WebhookURL: cfg.DiscordWebhookURL})
	}

	var listeners []reconcile.Listener

	if len(notifiers) > 0 {
		listeners = append(listeners, notifier.NewDispatcher(tel, notifiers...))
	}

	if cfg.Plex.Enabled {
		listeners = append(listeners, plex.NewClient(cfg.Plex.Host, cfg.Plex.Token))
	}

	logger.Info("completion listeners configured", "notifiers", len(notifiers), "plex", cfg.Plex.Enabled)

	return listeners
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(
	ctx context.Context,
	cfg *config.Config,
	svc *downloader.Service,
	lib *library.Service,
	hub *events.Hub,
	engine dc.Engine,
	auditor *audit.Recorder,
	tel *telemetry.Telemetry,
) *http.Server {
	router := rest.NewRouter(rest.RouterConfig{
		Downloads: svc,
		Library:   lib,
		Hub:       hub,
		Engine:    engine,
		Metrics:   tel.Handler(),
		Audit:     auditor,
		Username:  cfg.API.Username,
		Password:  cfg.API.Password,
		Middlewares: []func(http.Handler) http.Handler{
			telemetry.RequestID,
			telemetry.HTTPLogging,
			telemetry.NewHTTPMiddleware(tel).Middleware,
		},
	})

	return &http.Server{
		Addr:              cfg.Web.BindAddress,
		ReadTimeout:       cfg.Web.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Web.WriteTimeout,
		IdleTimeout:       cfg.Web.IdleTimeout,
		Handler:           otelhttp.NewHandler(router, "downloadhub"),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}
