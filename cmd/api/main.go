package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/backoffice/internal/config"
	"github.com/congo-pay/backoffice/internal/infra"
	"github.com/congo-pay/backoffice/internal/ledger"
	"github.com/congo-pay/backoffice/internal/logging"
	"github.com/congo-pay/backoffice/internal/notification"
	"github.com/congo-pay/backoffice/internal/outbox"
	"github.com/congo-pay/backoffice/internal/reconcile"
	"github.com/congo-pay/backoffice/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel).With("app", cfg.AppName, "env", cfg.AppEnv)

	ctx := context.Background()

	var store ledger.Store
	if cfg.DatabaseURL != "" {
		if cfg.RunMigrations {
			if err := infra.Migrate(cfg.DatabaseURL, logger); err != nil {
				logger.Error("run migrations", "error", err)
				os.Exit(1)
			}
		}
		db, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL, infra.PoolOptions{})
		if err != nil {
			logger.Error("connect postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		store = ledger.NewPostgresLedger(db)
	} else {
		logger.Warn("DATABASE_URL not set; using in-memory ledger")
		store = ledger.NewInMemory()
	}

	var cache *redis.Client
	if cfg.RedisURL != "" {
		cache, err = infra.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("connect redis", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := cache.Close(); err != nil {
				logger.Warn("close redis", "error", err)
			}
		}()
	}

	srv, err := server.New(cfg, store, cache, logger)
	if err != nil {
		logger.Error("build server", "error", err)
		os.Exit(1)
	}

	workersCtx, stopWorkers := context.WithCancel(ctx)
	var workers sync.WaitGroup
	startWorkers(workersCtx, &workers, cfg, store, cache, logger)

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Listen()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-srvErrCh:
		stopWorkers()
		workers.Wait()
		if err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
	stopWorkers()
	workers.Wait()

	logger.Info("server exited cleanly")
}

// startWorkers launches the outbox relay and the balance reconciler.
func startWorkers(ctx context.Context, wg *sync.WaitGroup, cfg config.Config, store ledger.Store, cache *redis.Client, logger *slog.Logger) {
	publishers := []outbox.Publisher{notification.NewDispatcher(notification.NewLoggerNotifier(logger))}
	if cache != nil {
		publishers = append(publishers, outbox.NewRedisStreamPublisher(cache, cfg.EventStream, cfg.EventStreamMaxLen))
	}
	relay := outbox.NewRelay(store, logger.With("worker", "outbox"), cfg.OutboxBatchSize, publishers...)
	job := reconcile.NewJob(store, logger.With("worker", "reconcile"))

	wg.Add(2)
	go func() {
		defer wg.Done()
		relay.Run(ctx, cfg.OutboxInterval)
	}()
	go func() {
		defer wg.Done()
		job.Run(ctx, cfg.ReconcileInterval)
	}()
}
