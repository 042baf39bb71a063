// Package main implements the relayq scheduler: the periodic trigger
// that scans work item deadlines and enqueues reminder and nudge jobs.
// Scan correctness does not depend on running exactly one scheduler —
// enqueue idempotency absorbs overlap — but an advisory lock keeps
// redundant instances from doing redundant work.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/perchfield/relayq/internal/config"
	"github.com/perchfield/relayq/internal/platform/logger"
	"github.com/perchfield/relayq/internal/platform/postgres"
	"github.com/perchfield/relayq/internal/scheduler"
)

// scanLockID is the advisory lock key shared by all scheduler instances.
const scanLockID = 874021

func main() {
	if err := run(); err != nil {
		log.Fatalf("scheduler exited with error: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	appLogger, err := logger.Setup(cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}

	db, err := sql.Open("pgx", cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	pingCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	jobStore := postgres.NewPostgresJobStore(db, cfg.Queue.LeaseTTL, appLogger)
	workItemStore := postgres.NewPostgresWorkItemStore(db, appLogger)
	scanner := scheduler.NewScanner(workItemStore, jobStore, cfg.Queue.ScanBatch, appLogger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appLogger.Info("scheduler started",
		slog.Duration("scan_interval", cfg.Queue.ScanInterval))

	ticker := time.NewTicker(cfg.Queue.ScanInterval)
	defer ticker.Stop()

	for {
		if err := scanOnce(ctx, db, scanner, appLogger); err != nil {
			appLogger.Error("scan failed", slog.String("error", err.Error()))
		}

		select {
		case <-ctx.Done():
			appLogger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// dueScanner is the slice of scheduler.Scanner the scan pass needs.
type dueScanner interface {
	ScanDueReminders(ctx context.Context) error
}

// scanOnce runs one scan pass if this instance wins the advisory lock.
// Losing the lock means another scheduler is mid-scan; skipping is
// safe because the next tick retries and enqueue is idempotent anyway.
//
// Advisory locks are session-scoped, so lock and unlock must run on
// the same pinned connection. Issuing them through the pool would let
// the unlock land on a different session, returning false as a no-op
// and leaving the lock stuck on the session that took it.
func scanOnce(ctx context.Context, db *sql.DB, scanner dueScanner, log *slog.Logger) error {
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to check out scan connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	var acquired bool
	err = conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, scanLockID).Scan(&acquired)
	if err != nil {
		return fmt.Errorf("failed to take scan lock: %w", err)
	}
	if !acquired {
		log.Debug("scan lock held elsewhere, skipping pass")
		return nil
	}
	defer func() {
		// Detached from ctx so a shutdown signal mid-scan cannot skip
		// the unlock and return a lock-holding session to the pool.
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		var released bool
		err := conn.QueryRowContext(unlockCtx, `SELECT pg_advisory_unlock($1)`, scanLockID).Scan(&released)
		if err != nil {
			log.Error("failed to release scan lock", slog.String("error", err.Error()))
		} else if !released {
			log.Error("scan lock was not held by this session")
		}
	}()

	return scanner.ScanDueReminders(ctx)
}
