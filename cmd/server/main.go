package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-bodymeasure/app"
	"github.com/nvr-ai/go-bodymeasure/cache"
	"github.com/nvr-ai/go-bodymeasure/config"
	"github.com/nvr-ai/go-bodymeasure/logging"
	"github.com/nvr-ai/go-bodymeasure/repository"
	"github.com/nvr-ai/go-bodymeasure/server"
)

// startupTimeout bounds artifact downloads and backing-service pings before serving.
const startupTimeout = 10 * time.Minute

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatalf("server: %v", err)
	}
}

// run starts the service and blocks until it shuts down. Deferred cleanups run on every
// return path.
func run(args []string) error {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	configPath := fs.String("config", os.Getenv("CONFIG_FILE"), "Path to a YAML configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger, err := logging.NewLogger(cfg.Server.LogLevel, cfg.Server.Debug)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	pipeline, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start measurement pipeline", zap.Error(err))
		return err
	}
	defer pipeline.Close() //nolint:errcheck

	opts := server.Options{
		Artifacts:      pipeline.Resolver,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		CORSOrigins:    cfg.Server.CORSOrigins,
		Logger:         logger,
	}
	if cfg.Cache.RedisAddr != "" {
		opts.Cache = initCache(ctx, cfg.Cache, logger)
	}
	if cfg.Database.DSN != "" {
		history, err := initHistory(ctx, cfg.Database, cfg.Server.Debug, logger)
		if err != nil {
			logger.Error("analysis history unavailable", zap.Error(err))
			return err
		}
		opts.History = history
	}

	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           server.New(pipeline.Service, opts).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("starting HTTP server",
		zap.String("addr", srv.Addr), zap.String("model", pipeline.Service.ActiveKey()))
	if err := serveHTTPServer(srv, cfg.Server.ShutdownTimeout, logger); err != nil {
		logger.Error("server exited with error", zap.Error(err))
		return err
	}
	logger.Info("server shutdown complete")
	return nil
}

// initCache connects to Redis. An unreachable Redis disables caching instead of failing
// startup.
func initCache(ctx context.Context, cfg config.CacheConfig, logger *zap.Logger) *cache.PredictionCache {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client, err := cache.Dial(pingCtx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, prediction cache disabled",
			zap.String("addr", cfg.RedisAddr), zap.Error(err))
		return nil
	}
	return cache.NewPredictionCache(cache.NewRedisStore(client), cfg.TTL, logger)
}

func initHistory(ctx context.Context, cfg config.DatabaseConfig, debug bool, logger *zap.Logger) (server.AnalysisStore, error) {
	db, err := repository.Open(ctx, cfg.DSN, debug)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	repo := repository.NewAnalysisRepository(db, logger)
	if err := repo.AutoMigrate(ctx); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return repo, nil
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	sigCh := signalCh
	if sigCh == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(ch)
		sigCh = ch
	}

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
