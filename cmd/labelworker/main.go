// Command labelworker runs both pipeline stages and the orphan reconciler.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohans/labelx/internal/config"
	"github.com/mohans/labelx/internal/database"
	"github.com/mohans/labelx/internal/logging"
	"github.com/mohans/labelx/internal/metrics"
	"github.com/mohans/labelx/internal/reconcile"
	"github.com/mohans/labelx/internal/stages"
	"github.com/mohans/labelx/labelx"
)

func main() {
	cfg, err := config.FromArgs(flag.CommandLine, os.Args[1:])
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(2)
	}
	logger := logging.New("labelworker", cfg.LogLevel)
	if err := run(cfg, logger); err != nil {
		logger.Error("labelworker stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	labelRunner, err := stages.NewRunner(cfg.LabelCommand, cfg.MaxOutputBytes)
	if err != nil {
		return errors.New("LABEL_COMMAND is required")
	}
	generateRunner, err := stages.NewRunner(cfg.GenerateCommand, cfg.MaxOutputBytes)
	if err != nil {
		return errors.New("GENERATE_COMMAND is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.StoreTimeout)
	db, dialect, err := database.Open(ctx, cfg.StateDriver, cfg.StateDSN, cfg.StoreTimeout)
	cancel()
	if err != nil {
		return err
	}
	defer db.Close()

	store := labelx.NewSQLStore(db, labelx.SQLStoreOptions{Dialect: dialect, Table: cfg.StateTable, Timeout: cfg.StoreTimeout})
	ctx, cancel = context.WithTimeout(context.Background(), cfg.StoreTimeout)
	err = store.EnsureSchema(ctx)
	cancel()
	if err != nil {
		return err
	}

	redisOpt := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	pipeline := labelx.NewAsynqPipeline(redisOpt, labelx.PipelineOptions{
		MaxRetry:     cfg.StageMaxRetry,
		StageTimeout: cfg.StageTimeout,
	})
	defer pipeline.Close()

	processor := labelx.NewProcessor(redisOpt, store, pipeline,
		stages.NewLabeler(labelRunner),
		stages.NewGenerator(generateRunner),
		labelx.ProcessorConfig{
			Concurrency:   cfg.WorkerConcurrency,
			Queues:        cfg.WorkerQueues,
			Logger:        logger,
			OnStageStatus: metrics.ObserveStage,
			StoreTimeout:  cfg.StoreTimeout,
		},
	)

	inspector := asynq.NewInspector(redisOpt)
	defer inspector.Close()
	reconciler := reconcile.New(inspector, store, reconcile.Options{
		Grace:      cfg.ReconcileGrace,
		Backfill:   cfg.ReconcileBackfill,
		Logger:     logger,
		OnOrphan:   func(string) { metrics.OrphanFound() },
		OnBackfill: func(string) { metrics.OrphanBackfilled() },
	})
	if err := reconciler.Start(cfg.ReconcileSchedule); err != nil {
		return err
	}
	defer reconciler.Stop()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	metricsSrv := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(ctx)
	}()

	logger.Info("labelworker starting", "queues", cfg.WorkerQueues, "concurrency", cfg.WorkerConcurrency)
	// Run blocks until SIGINT/SIGTERM and drains in-flight stages.
	return processor.Start()
}
