// Package main implements the relayq worker: it claims jobs from the
// durable queue, executes their side effects (message sends, reminder
// fan-out, webhook deliveries), and serves the HTTP surface for
// provider delivery callbacks, health and metrics.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/perchfield/relayq/internal/api"
	"github.com/perchfield/relayq/internal/config"
	"github.com/perchfield/relayq/internal/domain"
	"github.com/perchfield/relayq/internal/messaging"
	"github.com/perchfield/relayq/internal/platform/logger"
	"github.com/perchfield/relayq/internal/platform/postgres"
	"github.com/perchfield/relayq/internal/scheduler"
	"github.com/perchfield/relayq/internal/webhook"
	"github.com/perchfield/relayq/internal/worker"
	"github.com/perchfield/relayq/migrations"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("worker exited with error: %v", err)
	}
}

// run wires the application together and blocks until shutdown.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	appLogger, err := logger.Setup(cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}

	db, err := openDatabase(cfg.Database.URL)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	if err := runMigrations(db); err != nil {
		return err
	}

	// Stores
	jobStore := postgres.NewPostgresJobStore(db, cfg.Queue.LeaseTTL, appLogger)
	messageStore := postgres.NewPostgresMessageStore(db, appLogger)

	// Services and handlers
	provider := messaging.NewHTTPProvider(
		cfg.Messaging.ProviderURL, cfg.Messaging.APIKey, cfg.Messaging.Timeout)
	messageService := messaging.NewService(
		messageStore, jobStore, provider, cfg.Messaging.MaxSendAttempts, appLogger)
	dispatcher := webhook.NewDispatcher(
		jobStore, cfg.Webhook.SigningSecret, cfg.Webhook.Timeout, appLogger)
	notifier := scheduler.NewNotifier(dispatcher, cfg.Webhook.NotifyURL, appLogger)

	w := worker.New(jobStore, worker.Config{
		WorkerID:     cfg.Queue.WorkerID,
		MaxBatch:     cfg.Queue.MaxBatch,
		PollInterval: cfg.Queue.PollInterval,
	}, appLogger)
	w.Register(domain.JobKindMessageSendSMS, messageService.HandleSendJob)
	w.Register(domain.JobKindMessageSendEmail, messageService.HandleSendJob)
	w.Register(domain.JobKindReminderNotBefore, notifier.HandleReminderJob)
	w.Register(domain.JobKindNudgeNotAfter, notifier.HandleReminderJob)
	w.Register(domain.JobKindWebhookDispatch, dispatcher.HandleDispatchJob)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w.Start(ctx)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.NewRouter(api.NewCallbackHandler(messageStore, appLogger)),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		appLogger.Info("http listener started", slog.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		appLogger.Info("shutdown signal received")
	case err := <-serverErr:
		appLogger.Error("http listener failed", slog.String("error", err.Error()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("http shutdown failed", slog.String("error", err.Error()))
	}
	w.Stop()

	return nil
}

// openDatabase opens and pings the PostgreSQL connection pool.
func openDatabase(url string) (*sql.DB, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// runMigrations applies the embedded goose migrations.
func runMigrations(db *sql.DB) error {
	goose.SetLogger(&slogGooseLogger{})
	goose.SetBaseFS(migrations.FS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// slogGooseLogger adapts the goose logger interface to use slog
type slogGooseLogger struct{}

// Printf implements the goose.Logger Printf method by forwarding messages to slog.Info
func (l *slogGooseLogger) Printf(format string, v ...interface{}) {
	slog.Info(fmt.Sprintf(format, v...))
}

// Fatalf implements the goose.Logger Fatalf method by forwarding error messages to slog.Error
// Note: Unlike the standard Fatalf behavior, this does NOT call os.Exit
// to allow main to handle application exit consistently
func (l *slogGooseLogger) Fatalf(format string, v ...interface{}) {
	slog.Error(fmt.Sprintf(format, v...))
}
