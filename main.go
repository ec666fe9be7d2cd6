package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/inquest-ai/inquest/internal/chains"
	"github.com/inquest-ai/inquest/internal/compiler"
	"github.com/inquest-ai/inquest/internal/config"
	"github.com/inquest-ai/inquest/internal/httpapi"
	_ "github.com/inquest-ai/inquest/internal/metrics" // register collectors
	"github.com/inquest-ai/inquest/internal/research"
	"github.com/inquest-ai/inquest/internal/saturation"
	"github.com/inquest-ai/inquest/internal/scheduler"
	"github.com/inquest-ai/inquest/internal/service"
	"github.com/inquest-ai/inquest/internal/store"
	"github.com/inquest-ai/inquest/internal/streaming"
	"github.com/inquest-ai/inquest/internal/tree"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	st, err := buildStore(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize store", zap.Error(err))
	}
	defer st.Close()

	var cache *redis.Client
	if cfg.Redis.Enabled {
		cache = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := cache.Ping(pingCtx).Err(); err != nil {
			// Cache is an optimization, not a dependency.
			logger.Warn("Redis unreachable, snapshot caching disabled", zap.Error(err))
			cache = nil
		}
		cancel()
	}

	events := streaming.NewManager(cfg.Streaming.RingCapacity)
	trees := tree.NewManager(st, cache, events, logger)

	client := research.NewHTTPClient(cfg.Research.BaseURL, cfg.Research.Timeout, logger)
	executor := research.NewRateLimitedExecutor(client, cfg.Research.ExecuteRPS, cfg.Research.ExecuteBurst)
	proposer := research.NewRateLimitedProposer(client, cfg.Research.ProposeRPS, cfg.Research.ProposeBurst)
	estimator := saturation.NewOverlapEstimator(logger)

	sched := scheduler.New(st, trees, executor, proposer, estimator, events, logger)
	orch := service.New(trees, sched, chains.NewReconstructor(st), compiler.New(st, logger), logger)

	mux := http.NewServeMux()
	httpapi.NewHandler(orch, cfg.TreeDefaults, logger).RegisterRoutes(mux)
	httpapi.NewStreamingHandler(events, logger).RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("HTTP server listening",
			zap.Int("port", cfg.Server.Port),
			zap.String("store", cfg.Store.Driver),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Shutting down", zap.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", zap.Error(err))
	}
	if err := orch.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Tree expansions interrupted", zap.Error(err))
	}
	logger.Info("Shutdown complete")
}

func buildLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	var zc zap.Config
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func buildStore(cfg *config.Config, logger *zap.Logger) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return store.NewPostgresStore(&store.PostgresConfig{
			Host:     cfg.Store.Postgres.Host,
			Port:     cfg.Store.Postgres.Port,
			User:     cfg.Store.Postgres.User,
			Password: cfg.Store.Postgres.Password,
			Database: cfg.Store.Postgres.Database,
			SSLMode:  cfg.Store.Postgres.SSLMode,
		}, logger)
	case "sqlite":
		return store.NewSQLiteStore(cfg.Store.SQLite.Path, logger)
	default:
		return store.NewMemoryStore(), nil
	}
}
