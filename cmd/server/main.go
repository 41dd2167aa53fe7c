// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jason-s-yu/liveroom/internal/auth"
	"github.com/jason-s-yu/liveroom/internal/cache"
	"github.com/jason-s-yu/liveroom/internal/config"
	"github.com/jason-s-yu/liveroom/internal/database"
	"github.com/jason-s-yu/liveroom/internal/handlers"
	"github.com/jason-s-yu/liveroom/internal/middleware"
	"github.com/jason-s-yu/liveroom/internal/room"
	"github.com/jason-s-yu/liveroom/internal/room/memstore"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus/promhttp"
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
		logger.WithError(err).Fatal("server exited")
	}
}

func run(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	expiry, err := auth.ParseExpiry(cfg.TokenExpireTime)
	if err != nil {
		return err
	}
	issuer, err := newIssuer(cfg, expiry, logger)
	if err != nil {
		return err
	}

	var (
		store      room.Store
		users      auth.UserDirectory
		serverOpts []handlers.Option
		engineOpts []room.Option
		identities auth.IdentityCache
	)

	switch cfg.StoreBackend {
	case config.BackendPostgres:
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
		store = database.NewRoomStore(pool, cfg.TxMaxAttempts, logger)
		users = database.NewUserStore(pool)
		serverOpts = append(serverOpts, handlers.WithHealthCheck("postgres", pool.Ping))
	case config.BackendMemory:
		mem := memstore.New()
		store, users = mem, mem
		logger.Warn("using in-memory store; state is lost on restart")
	}

	if cfg.RedisAddr != "" {
		rdb, err := cache.Connect(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			return err
		}
		defer rdb.Close()
		events := cache.NewRoomEvents(rdb, cfg.HistoryQueue, cfg.RoomChannelPrefix)
		engineOpts = append(engineOpts, room.WithNotifier(events))
		serverOpts = append(serverOpts,
			handlers.WithRoomWatcher(events),
			handlers.WithHealthCheck("redis", func(ctx context.Context) error { return rdb.Ping(ctx).Err() }),
		)
		identities = cache.NewUserCache(rdb, cfg.IdentityCacheTTL)
		logger.WithField("addr", cfg.RedisAddr).Info("connected to redis")
	} else {
		logger.Warn("REDIS_ADDR not set; room feeds poll and events are not recorded")
	}

	engine := room.NewEngine(store, logger, engineOpts...)
	gateway := auth.NewGateway(issuer, users, identities, logger)
	serverOpts = append(serverOpts, handlers.WithFeedInterval(cfg.RoomFeedInterval))
	srv := handlers.NewServer(engine, gateway, logger, serverOpts...)

	mux := srv.Routes()
	mux.Handle("GET /metrics", promhttp.Handler())

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           middleware.LogMiddleware(logger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Infof("Running on %s", httpServer.Addr)
		errc <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// newIssuer loads the signing keys when both paths are configured and
// generates a throwaway pair otherwise.
func newIssuer(cfg *config.Config, expiry time.Duration, logger logrus.FieldLogger) (*auth.Issuer, error) {
	if cfg.JWTPrivateKey != "" && cfg.JWTPublicKey != "" {
		return auth.NewIssuerFromPath(cfg.JWTPrivateKey, cfg.JWTPublicKey, expiry)
	}
	logger.Warn("JWT key paths not set; generated keys invalidate tokens on restart")
	return auth.NewIssuer(expiry)
}
