// Command labelapi serves the task submission and query API.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/mohans/labelx/internal/api"
	"github.com/mohans/labelx/internal/config"
	"github.com/mohans/labelx/internal/database"
	"github.com/mohans/labelx/internal/logging"
	"github.com/mohans/labelx/labelx"
)

func main() {
	cfg, err := config.FromArgs(flag.CommandLine, os.Args[1:])
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(2)
	}
	logger := logging.New("labelapi", cfg.LogLevel)
	if err := run(cfg, logger); err != nil {
		logger.Error("labelapi stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	openCtx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
	stateDB, dialect, err := database.Open(openCtx, cfg.StateDriver, cfg.StateDSN, cfg.StoreTimeout)
	cancel()
	if err != nil {
		return err
	}
	defer stateDB.Close()

	warehouseDB, warehouseDialect := stateDB, dialect
	if cfg.WarehouseDriver != "" {
		openCtx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
		warehouseDB, warehouseDialect, err = database.Open(openCtx, cfg.WarehouseDriver, cfg.WarehouseDSN, cfg.StoreTimeout)
		cancel()
		if err != nil {
			return err
		}
		defer warehouseDB.Close()
	}

	store := labelx.NewSQLStore(stateDB, labelx.SQLStoreOptions{Dialect: dialect, Table: cfg.StateTable, Timeout: cfg.StoreTimeout})
	redisOpt := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	pipeline := labelx.NewAsynqPipeline(redisOpt, labelx.PipelineOptions{
		MaxRetry:     cfg.StageMaxRetry,
		StageTimeout: cfg.StageTimeout,
	})
	defer pipeline.Close()

	orchestrator := labelx.NewOrchestrator(
		labelx.NewValidator(labelx.NewDirPatternResolver(cfg.PatternDir)),
		store,
		pipeline,
		labelx.OrchestratorOptions{DefaultQueue: cfg.DefaultQueue, Logger: logger},
	)
	status := labelx.NewStatusService(store, logger, cfg.RecentLimit)
	warehouse := labelx.NewSQLWarehouse(warehouseDB, warehouseDialect, cfg.ResultTablePrefix, cfg.StoreTimeout)
	results := labelx.NewResultQueryBuilder(warehouse, warehouse, labelx.ResultQueryOptions{
		Dialect:     warehouseDialect,
		TablePrefix: cfg.ResultTablePrefix,
		SampleLimit: cfg.SampleLimit,
		Logger:      logger,
	})

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer rdb.Close()

	router := api.SetupRoutes(api.NewHandlers(orchestrator, status, results, logger), api.Options{
		Logger:      logger,
		Title:       cfg.APITitle,
		Version:     cfg.APIVersion,
		Description: cfg.APIDescription,
		JWTSecret:   cfg.JWTSecret,
		SubmitRate:  cfg.SubmitRate,
		SubmitBurst: cfg.SubmitBurst,
		Checks: map[string]api.Check{
			"state":     pingDB(stateDB),
			"warehouse": pingDB(warehouseDB),
			"broker":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		},
		CheckTimeout: cfg.StoreTimeout,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("labelapi listening", "addr", cfg.HTTPAddr, "state_driver", dialect.Name)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func pingDB(db *sql.DB) api.Check {
	return func(ctx context.Context) error { return db.PingContext(ctx) }
}
