// Command reconcile checks stored balances and the cashbox cache against the entry
// log, prints the result as JSON and exits 2 when anything disagrees.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/rapidroute/cashbox/internal/cashbox"
	"github.com/rapidroute/cashbox/internal/config"
	"github.com/rapidroute/cashbox/internal/infra"
	"github.com/rapidroute/cashbox/internal/ledger"
	"github.com/rapidroute/cashbox/internal/logging"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(logging.Options{
		ServiceName: "cashbox-reconcile",
		Level:       logging.ParseLevel(cfg.LogLevel),
		Format:      cfg.LogFormat,
		Output:      os.Stderr,
	})
	ctx := logger.WithField(context.Background(), "env", cfg.AppEnv)

	pool, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL, infra.PoolOptions{MaxConns: 2})
	if err != nil {
		logger.Error(ctx, "resource not working: postgres", err)
		os.Exit(1)
	}
	defer pool.Close()

	svc := cashbox.NewService(cashbox.Deps{
		Engine: ledger.NewEngine(ledger.NewPostgresStore(pool), ledger.Options{}),
		Logger: logger,
	})
	check, err := svc.Reconcile(ctx)
	if err != nil {
		desc := cashbox.Describe(err)
		logger.Error(logger.WithField(ctx, "code", desc.Code), "reconciliation failed", err)
		pool.Close()
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(check); err != nil {
		logger.Error(ctx, "encode result", err)
		pool.Close()
		os.Exit(1)
	}
	if !check.OK() {
		pool.Close()
		os.Exit(2)
	}
}
