package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"findash/internal/api"
	"findash/internal/auth"
	"findash/internal/config"
	"findash/internal/logger"
	"findash/internal/redis"
	"findash/internal/service/chat"
	"findash/internal/service/trading"
	"findash/internal/storage"
)

const shutdownTimeout = 15 * time.Second

func runServer(parent context.Context, opts serveOptions) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if opts.debug {
		cfg.Server.Debug = true
		cfg.Log.Level = "DEBUG"
	}

	log, err := logger.New(cfg.Log.Mode, cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("Starting Finance Dashboard API", "version", api.Version, "address", cfg.Server.Address(), "debug", cfg.Server.Debug)

	db, err := storage.Open(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	rdb, err := redis.NewRedisClient(ctx, cfg)
	if err != nil {
		return fmt.Errorf("create redis client: %w", err)
	}
	defer rdb.Close()

	var (
		locker chat.Locker = chat.NewLocalLocker()
		cache  trading.SnapshotCache
	)
	if rdb != nil {
		log.Info("Redis enabled", "addr", cfg.Redis.Addr)
		locker = chat.NewRedisLocker(rdb, log)
		cache = rdb
	}

	store, err := chat.NewStore(cfg.Chat.Root, locker, log)
	if err != nil {
		return fmt.Errorf("init chat store: %w", err)
	}
	store.StartJanitor(ctx, cfg.Chat.JanitorInterval.Std(), cfg.Chat.PendingTTL.Std())

	tradingService := trading.NewService(db, cfg, cache, log)
	if err := tradingService.ResetSnapshots(ctx); err != nil {
		log.Warn("Could not clear cached snapshots", "error", err)
	}
	if cfg.Trading.CustomQueryEnabled {
		log.Warn("Custom query endpoint enabled", "read_only", cfg.Trading.CustomQueryReadOnly, "token_required", cfg.Trading.CustomQueryToken != "")
	}
	handler := api.NewHandler(tradingService, store, auth.NewService(cfg.Trading.CustomQueryToken), cfg.Chat.MaxUploadBytes)

	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           api.NewRouter(cfg.Server, handler, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server stopped: %w", err)
		}
	case <-ctx.Done():
		log.Info("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown server: %w", err)
	}
	log.Info("Server stopped")
	return nil
}
