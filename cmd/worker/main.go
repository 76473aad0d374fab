package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-dw/meridian-dw/internal/app"
	"github.com/meridian-dw/meridian-dw/internal/cleanse"
	"github.com/meridian-dw/meridian-dw/internal/observability"
	"github.com/meridian-dw/meridian-dw/internal/pipeline"
	pipelinehttp "github.com/meridian-dw/meridian-dw/internal/pipeline/http"
	"github.com/meridian-dw/meridian-dw/internal/platform/cache"
	"github.com/meridian-dw/meridian-dw/internal/platform/db"
	"github.com/meridian-dw/meridian-dw/internal/quality"
	"github.com/meridian-dw/meridian-dw/internal/staging"
	"github.com/meridian-dw/meridian-dw/internal/warehouse"
	"github.com/meridian-dw/meridian-dw/jobs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	if err := db.Migrate(cfg.PGDSN); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, report cache invalidation disabled", slog.Any("error", err))
		redisClient = nil
	}
	defer func() {
		if redisClient != nil {
			_ = redisClient.Close()
		}
	}()

	metrics := observability.NewMetrics()
	pipelineSvc := buildPipeline(pool, cfg, logger, metrics)
	warehouseSvc := warehouse.NewService(warehouse.NewRepository(pool), warehouse.ServiceConfig{}, logger)
	reportCache := pipelinehttp.NewCache(redisClient, 5*time.Minute)

	handlers := []jobs.TaskHandler{
		{Type: jobs.TaskPipelineRun, Handler: jobs.NewPipelineRunHandler(pipelineSvc, reportCache, logger)},
		{Type: jobs.TaskAggregatesRefresh, Handler: jobs.NewAggregatesRefreshHandler(warehouseSvc, logger)},
	}

	var cron []jobs.CronRegistration
	if cfg.PipelineCron != "" {
		task, err := jobs.NewPipelineRunTask()
		if err != nil {
			return err
		}
		cron = append(cron, jobs.CronRegistration{
			Spec:    cfg.PipelineCron,
			Task:    task,
			Options: []asynq.Option{asynq.Queue(jobs.QueueDefault), asynq.MaxRetry(1)},
		})
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers:  handlers,
		Cron:      cron,
	})
	if err != nil {
		return err
	}
	logger.Info("worker started",
		slog.String("cron", cfg.PipelineCron),
		slog.Int("handlers", len(handlers)))
	return worker.Run(ctx)
}

// buildPipeline wires the full pipeline service from configuration.
func buildPipeline(pool *pgxpool.Pool, cfg *app.Config, logger *slog.Logger, metrics *observability.Metrics) *pipeline.Service {
	stagingRepo := staging.NewRepository(pool)
	calendarStart, _ := time.Parse("2006-01-02", cfg.CalendarStart)
	calendarEnd, _ := time.Parse("2006-01-02", cfg.CalendarEnd)

	return pipeline.NewService(pipeline.ServiceParams{
		Source:   stagingRepo,
		Ingestor: staging.NewIngestor(stagingRepo, logger),
		Quality: quality.NewService(quality.Weights{
			Completeness: cfg.QualityWeightCompleteness,
			Uniqueness:   cfg.QualityWeightUniqueness,
			Referential:  cfg.QualityWeightReferential,
			Range:        cfg.QualityWeightRange,
		}, cfg.QualityThreshold, logger),
		Cleanser: cleanse.NewService(cleanse.NewRepository(pool), cleanse.ServiceConfig{
			Policies: cleanse.Policies{
				Customers:    cleanse.LoadPolicy(cfg.CustomerLoadPolicy),
				Products:     cleanse.LoadPolicy(cfg.ProductLoadPolicy),
				Transactions: cleanse.LoadPolicy(cfg.TransactionLoadPolicy),
				Items:        cleanse.LoadPolicy(cfg.ItemLoadPolicy),
			},
			RejectionCeiling:   cfg.RejectionCeiling,
			LineTotalTolerance: cfg.LineTotalTolerance,
		}, logger),
		Loader: warehouse.NewService(warehouse.NewRepository(pool), warehouse.ServiceConfig{
			CalendarStart: calendarStart,
			CalendarEnd:   calendarEnd,
		}, logger),
		Store: pipeline.NewRepository(pool),
		Config: pipeline.Config{
			IngestDir:   cfg.IngestDir,
			QualityGate: cfg.QualityGate,
		},
		Metrics: metrics,
		Logger:  logger,
	})
}
