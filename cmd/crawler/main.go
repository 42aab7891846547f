// Package main wires together the crawler service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/calderareport/crawler/internal/api"
	"github.com/calderareport/crawler/internal/bungie"
	"github.com/calderareport/crawler/internal/clock"
	"github.com/calderareport/crawler/internal/config"
	"github.com/calderareport/crawler/internal/leaderboard"
	"github.com/calderareport/crawler/internal/logging"
	"github.com/calderareport/crawler/internal/pipeline"
	"github.com/calderareport/crawler/internal/signals"
	"github.com/calderareport/crawler/internal/store"
	"github.com/calderareport/crawler/internal/trigger"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close() //nolint:errcheck

	st, err := store.New(ctx, store.Config{
		DSN:             cfg.DB.DSN,
		MaxConns:        cfg.DB.MaxConns,
		MinConns:        cfg.DB.MinConns,
		MaxConnLifetime: time.Duration(cfg.DB.MaxConnLifetimeMinutes) * time.Minute,
	})
	if err != nil {
		logger.Fatal("store init failed", zap.Error(err))
	}
	defer st.Close()

	limiter := bungie.NewLimiter(rdb, int64(cfg.Bungie.RateCeilingPerSec))
	client, err := bungie.NewClient(bungie.Config{
		APIKey:      cfg.Bungie.APIKey,
		BaseURL:     cfg.Bungie.BaseURL,
		Timeout:     time.Duration(cfg.Bungie.TimeoutSeconds) * time.Second,
		MaxAttempts: cfg.Bungie.MaxAttempts,
		RetryDelay:  time.Duration(cfg.Bungie.RetryDelaySec) * time.Second,
	}, limiter, logger.Named("bungie"))
	if err != nil {
		logger.Fatal("bungie client init failed", zap.Error(err))
	}

	lb, err := leaderboard.New(leaderboard.Config{
		ComputeURL:  cfg.Leaderboard.ComputeURL,
		SecurityKey: cfg.Leaderboard.SecurityKey,
		Environment: cfg.Leaderboard.Environment,
	})
	if err != nil {
		logger.Fatal("leaderboard client init failed", zap.Error(err))
	}

	clk := clock.System{}
	orch := pipeline.NewOrchestrator(st, client, signals.NewStore(rdb), lb, clk, pipeline.OrchestratorConfig{
		CharacterQueueDepth: cfg.Pipeline.CharacterQueueDepth,
		ReportQueueDepth:    cfg.Pipeline.ReportQueueDepth,
		PgcrQueueDepth:      cfg.Pipeline.PgcrQueueDepth,
		CharacterWorkers:    cfg.Pipeline.CharacterWorkers,
		ReportWorkers:       cfg.Pipeline.ReportWorkers,
		PgcrWorkers:         cfg.Pipeline.PgcrWorkers,
		PageSize:            cfg.Pipeline.HistoryPageSize,
		PollInterval:        time.Duration(cfg.Pipeline.PollIntervalSeconds) * time.Second,
		IdlePolls:           cfg.Pipeline.IdlePolls,
		EpochCutoff:         cfg.EpochCutoffTime(),
	}, logger.Named("pipeline"))

	runner := trigger.NewRunner(st, orch.Run, logger.Named("trigger"))

	go func() {
		var err error
		switch cfg.Trigger.Mode {
		case "redis":
			listener := trigger.NewRedisListener(rdb, runner, cfg.Trigger.RedisChannel, logger.Named("redis_trigger"))
			err = listener.Run(ctx)
		case "pubsub":
			var listener *trigger.PubSubListener
			listener, err = trigger.NewPubSubListener(ctx, cfg.Trigger.PubSubProject, cfg.Trigger.PubSubSubscription, runner, logger.Named("pubsub_trigger"))
			if err == nil {
				defer listener.Close() //nolint:errcheck
				err = listener.Run(ctx)
			}
		default:
			schedule := trigger.NewSchedule(runner, clk, cfg.Trigger.ScheduleHour, logger.Named("schedule"))
			err = schedule.Run(ctx)
		}
		if err != nil && ctx.Err() == nil {
			logger.Error("trigger loop exited", zap.Error(err))
			stop()
		}
	}()

	ready := func(ctx context.Context) error {
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		if _, err := st.HasQueuedPlayers(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		return nil
	}
	apiServer := api.NewServer(runner, ready, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
