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

	"github.com/fielddb/fieldsync/internal/bugsink"
	"github.com/fielddb/fieldsync/internal/config"
	"github.com/fielddb/fieldsync/internal/connectivity"
	"github.com/fielddb/fieldsync/internal/host"
	"github.com/fielddb/fieldsync/internal/http/rest"
	"github.com/fielddb/fieldsync/internal/logctx"
	"github.com/fielddb/fieldsync/internal/media"
	"github.com/fielddb/fieldsync/internal/notifier"
	"github.com/fielddb/fieldsync/internal/storage/sqlite"
	"github.com/fielddb/fieldsync/internal/sync"
	"github.com/fielddb/fieldsync/internal/telemetry"
	"github.com/fielddb/fieldsync/internal/transfer"
	"github.com/fielddb/fieldsync/internal/upload"
	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"
)

// triggerQueueSize bounds how many accepted-but-not-started runs can pile up
// before the API starts refusing with 503.
const triggerQueueSize = 16

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := slog.New(logctx.NewTraceHandler(
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}),
	))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	slog.Info("fieldsync starting...", "log_level", cfg.LogLevel)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

// dispatcher queues accepted triggers for the run loop. Dispatch never
// blocks; a full queue bounces the trigger back to the API.
type dispatcher struct {
	syncs   chan sync.Request
	uploads chan upload.Request
}

func newDispatcher() *dispatcher {
	return &dispatcher{
		syncs:   make(chan sync.Request, triggerQueueSize),
		uploads: make(chan upload.Request, triggerQueueSize),
	}
}

func (d *dispatcher) DispatchSync(req sync.Request) error {
	select {
	case d.syncs <- req:
		return nil
	default:
		return rest.ErrBusy
	}
}

func (d *dispatcher) DispatchUpload(req upload.Request) error {
	select {
	case d.uploads <- req:
		return nil
	default:
		return rest.ErrBusy
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Telemetry.ServiceVersion,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("DB error: %w", err)
	}
	defer database.Close()

	datums := sqlite.NewInstrumentedDatumRepository(database, tel)
	mediaRepo := sqlite.NewInstrumentedMediaRepository(database, tel)
	activities := sqlite.NewInstrumentedActivityRepository(database, tel)

	// =========================================================================
	// Start Transfer Client
	clientOpts := []transfer.Option{transfer.WithTimeout(cfg.RequestTimeout)}
	if cfg.InsecureSkipVerify {
		clientOpts = append(clientOpts, transfer.WithInsecureTLS())
	}

	client := transfer.NewClient(clientOpts...)

	// =========================================================================
	// Start Orchestrators
	checker := connectivity.NewInterfaceChecker(cfg.WifiInterfaces, cfg.ProbeAddress, cfg.ProbeTimeout)
	bugs := buildBugReporter(cfg)
	hst := host.New(buildNotifier(cfg, logger), cfg.Retry.MaxAttempts, cfg.Retry.BaseDelay)
	fetcher := media.NewFetcher(client, mediaRepo, cfg.OutputDir)

	syncer := sync.NewSyncer(
		client,
		fetcher,
		datums,
		mediaRepo,
		activities,
		checker,
		bugs,
		tel,
		cfg.DefaultSampleDataURL(),
		cfg.DataServerURL,
		connectivity.ParsePolicy(cfg.Connectivity),
	)

	uploader := upload.NewUploader(
		client,
		activities,
		checker,
		bugs,
		tel,
		cfg.UploadURL,
		cfg.UploadToken,
		cfg.Corpus,
		cfg.DefaultUsername,
		cfg.MinUploadSize,
		cfg.OfflineMode,
	)

	runSync := func(ctx context.Context, req sync.Request) {
		err := hst.Run(ctx, "sync", func(ctx context.Context) error {
			if cfg.PublicUsername != "" {
				if err := client.Authenticate(ctx, cfg.SessionURL, cfg.PublicUsername, cfg.PublicPassword); err != nil {
					return err
				}
			}

			return syncer.Run(ctx, req)
		})
		if err != nil {
			logger.Error("sync run failed", "err", err)
		}
	}

	runUpload := func(ctx context.Context, req upload.Request) {
		err := hst.Run(ctx, "upload", func(ctx context.Context) error {
			_, err := uploader.Run(ctx, req)

			return err
		})
		if err != nil {
			logger.Error("upload run failed", "err", err, "file_path", req.FilePath)
		}
	}

	// =========================================================================
	// Start API Service
	d := newDispatcher()
	server := setupServer(ctx, cfg, d, activities, tel)

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Info("initializing API support", "host", cfg.Web.BindAddress)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

		return nil
	})

	group.Go(func() error {
		<-ctx.Done()
		logger.Info("start shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		return nil
	})

	// =========================================================================
	// Start Main Loop
	group.Go(func() error {
		logger.Info("waiting for sync triggers...",
			"output_dir", cfg.OutputDir,
			"sync_interval", cfg.SyncInterval.String(),
			"connectivity", cfg.Connectivity,
		)

		ticker := time.NewTicker(cfg.SyncInterval)
		defer ticker.Stop()

		// One run at startup seeds an empty store even when no trigger ever
		// arrives.
		runSync(ctx, sync.Request{})

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				runSync(ctx, sync.Request{})
			case req := <-d.syncs:
				runSync(ctx, req)
			case req := <-d.uploads:
				runUpload(ctx, req)
			}
		}
	})

	return group.Wait()
}

func buildNotifier(cfg *config.Config, logger *slog.Logger) notifier.Notifier {
	if cfg.DiscordWebhookURL != "" {
		return &notifier.DiscordNotifier{WebhookURL: cfg.DiscordWebhookURL}
	}

	return &notifier.LogNotifier{Logger: logger}
}

func buildBugReporter(cfg *config.Config) bugsink.Reporter {
	if cfg.BugReport.URL != "" {
		return bugsink.NewHTTPReporter(cfg.BugReport.URL, cfg.BugReport.Username, cfg.BugReport.Password)
	}

	return bugsink.NopReporter{}
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(ctx context.Context, cfg *config.Config, d *dispatcher, activities rest.ActivityLog, tel *telemetry.Telemetry) *http.Server {
	handler := rest.NewTriggerHandler(cfg.Web.Username, cfg.Web.Password, d, activities, tel)

	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)

	r.Handle("/metrics", tel.Handler())
	r.Mount("/", handler.Routes())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      r,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}
