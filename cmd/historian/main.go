// cmd/historian is an asynchronous historian service that pops room events
// from a Redis queue and persists them to PostgreSQL.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jason-s-yu/liveroom/internal/cache"
	"github.com/jason-s-yu/liveroom/internal/config"
	"github.com/jason-s-yu/liveroom/internal/database"
	"github.com/jason-s-yu/liveroom/internal/historian"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Fatal("historian exited")
	}
	logger.Info("Historian shutdown complete.")
}

func run(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	if cfg.StoreBackend != config.BackendPostgres {
		return errors.New("the historian needs STORE_BACKEND=postgres")
	}
	if cfg.RedisAddr == "" {
		return errors.New("the historian needs REDIS_ADDR")
	}

	if cfg.MigrateOnStart {
		if err := database.Migrate(cfg.DatabaseURL, logger); err != nil {
			return err
		}
	}
	pool, err := database.Connect(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	rdb, err := cache.Connect(ctx, cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		return err
	}
	defer rdb.Close()

	hs := historian.NewService(
		historian.NewRedisQueue(rdb, cfg.HistoryQueue),
		database.NewEventStore(pool),
		cfg.HistorianBatch,
		cfg.HistorianFlush,
		logger.WithField("component", "historian"),
	)
	return hs.Run(ctx)
}
