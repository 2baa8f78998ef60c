package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"github.com/rapidroute/cashbox/internal/config"
	"github.com/rapidroute/cashbox/internal/infra"
	"github.com/rapidroute/cashbox/internal/logging"
	"github.com/rapidroute/cashbox/internal/migrate"
)

func main() {
	_ = godotenv.Load()

	cmd := flag.String("cmd", "up", "migration command: up|up-to|down|status|version|validate")
	version := flag.String("version", "", "target version for -cmd=up-to")
	flag.Parse()

	logger := logging.New(logging.Options{ServiceName: "cashbox-migrate"})
	ctx := logger.WithField(context.Background(), "cmd", *cmd)

	if *cmd == "validate" {
		if err := migrate.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "migration validation failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("migration validation passed")
		return
	}

	cfg, err := config.Load()
	requireResource(ctx, logger, "config", err)
	logger = logging.New(logging.Options{
		ServiceName: "cashbox-migrate",
		Level:       logging.ParseLevel(cfg.LogLevel),
		Format:      cfg.LogFormat,
	})
	ctx = logger.WithFields(context.Background(), map[string]any{"env": cfg.AppEnv, "cmd": *cmd})

	pool, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL, infra.PoolOptions{MaxConns: 2})
	requireResource(ctx, logger, "postgres", err)
	defer pool.Close()
	sqlDB := stdlib.OpenDBFromPool(pool)
	defer sqlDB.Close()

	logger.Info(ctx, "migrate ready")

	var args []string
	switch *cmd {
	case "up", "down", "status", "version":
	case "up-to":
		if *version == "" {
			fmt.Fprintln(os.Stderr, "missing -version for up-to")
			os.Exit(1)
		}
		args = append(args, *version)
	default:
		fmt.Fprintln(os.Stderr, "unknown -cmd value:", *cmd)
		os.Exit(1)
	}
	if err := migrate.Run(ctx, sqlDB, *cmd, args...); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func requireResource(ctx context.Context, logger *logging.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logger.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
