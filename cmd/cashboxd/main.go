package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/rapidroute/cashbox/internal/cashbox"
	"github.com/rapidroute/cashbox/internal/config"
	"github.com/rapidroute/cashbox/internal/idempotency"
	"github.com/rapidroute/cashbox/internal/infra"
	"github.com/rapidroute/cashbox/internal/ledger"
	"github.com/rapidroute/cashbox/internal/logging"
	"github.com/rapidroute/cashbox/internal/metrics"
	"github.com/rapidroute/cashbox/internal/migrate"
	"github.com/rapidroute/cashbox/internal/notification"
	"github.com/rapidroute/cashbox/internal/server"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(logging.Options{
		ServiceName: cfg.AppName,
		Level:       logging.ParseLevel(cfg.LogLevel),
		Format:      cfg.LogFormat,
	})
	ctx := logger.WithField(context.Background(), "env", cfg.AppEnv)

	db, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL, infra.PoolOptions{MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
	requireResource(ctx, logger, "postgres", err)
	defer db.Close()

	requireResource(ctx, logger, "migrations", migrate.MaybeAutoRun(ctx, cfg, logger, db))

	cache, err := infra.NewRedisClient(ctx, cfg.RedisURL)
	requireResource(ctx, logger, "redis", err)
	var guard *idempotency.Guard
	alerts := notification.Fanout{notification.NewLoggerNotifier(logger)}
	if cache != nil {
		defer func() {
			if err := cache.Close(); err != nil {
				logger.Warn(ctx, "close redis", err)
			}
		}()
		guard = idempotency.NewGuard(idempotency.NewRedisStore(cache), cfg.IdempotencyTTL, logger)
		alerts = append(alerts, notification.NewRedisNotifier(cache, notification.DefaultChannel))
	} else {
		logger.Warn(ctx, "redis not configured; request de-duplication disabled", nil)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	engine := ledger.NewEngine(ledger.NewPostgresStore(db), ledger.Options{AllowOverdraft: cfg.AllowOverdraft})
	svc := cashbox.NewService(cashbox.Deps{
		Engine:   engine,
		Guard:    guard,
		Metrics:  metrics.NewLedgerMetrics(reg),
		Notifier: alerts,
		Logger:   logger,
	})

	srv := server.New(server.Deps{Cfg: cfg, DB: db, Cache: cache, Gatherer: reg, Logger: logger})

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	if cfg.ReconcileInterval > 0 {
		go func() {
			if err := svc.RunReconciler(runCtx, cfg.ReconcileInterval); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error(runCtx, "reconciler exited", err)
			}
		}()
	}

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Listen()
	}()
	logger.Info(logger.WithField(ctx, "addr", cfg.Address()), "cashbox ops server listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info(logger.WithField(ctx, "signal", sig.String()), "shutdown signal received")
	case err := <-srvErrCh:
		if err != nil {
			logger.Error(ctx, "server error", err)
			os.Exit(1)
		}
		return
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "shutdown error", err)
		os.Exit(1)
	}

	logger.Info(ctx, "server exited cleanly")
}

func requireResource(ctx context.Context, logger *logging.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logger.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
