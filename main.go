package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	clts "tailbot/clients"
	"tailbot/config"
	"tailbot/internal/app"
	"tailbot/internal/store"
)

func main() {
	// Optional .env for local runs; env vars win either way.
	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg := config.Load()
	if result := cfg.Validate(); !result.Valid {
		logger.Fatal("invalid configuration", zap.String("errors", (&config.ConfigValidationError{Errors: result.Errors}).Error()))
	}
	logger.Info("starting watcher", zap.Bool("isProd", cfg.IsProd))

	db, err := store.NewSQLiteStore(cfg.Storage.Path, logger)
	if err != nil {
		logger.Fatal("open store", zap.Error(err))
	}
	defer db.Close()

	strategies, err := config.NewLiveStrategies(cfg.StrategiesFile)
	if err != nil {
		logger.Fatal("load strategies", zap.Error(err))
	}
	logger.Info("strategies loaded",
		zap.String("file", cfg.StrategiesFile),
		zap.Int("count", len(strategies.Get())),
	)

	logger.Info("instantiating clients")
	clients, err := clts.NewClients(logger, cfg)
	if err != nil {
		logger.Fatal("instantiate clients", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	// SIGHUP reloads the strategies file.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				logger.Info("reloading strategies file")
				if err := strategies.Reload(); err != nil {
					logger.Warn("strategies reload failed, keeping current set", zap.Error(err))
				}
			}
		}
	}()

	runner := app.NewRunner(clients, cfg, strategies, db)
	if err := runner.Run(ctx); err != nil {
		logger.Fatal("runner failed", zap.Error(err))
	}
}
