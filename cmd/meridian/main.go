package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-dw/meridian-dw/cmd/meridian/cli"
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

	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	switch command {
	case "serve":
		err = serve(ctx, cfg, logger)
	case "migrate":
		err = db.Migrate(cfg.PGDSN)
	case "run":
		err = runOnce(ctx, cfg, logger)
	case "jobs":
		err = jobsCommand(ctx, cfg, os.Args[2:])
	default:
		err = fmt.Errorf("unknown command %q (expected serve, migrate, run or jobs)", command)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("meridian exited", slog.String("command", command), slog.Any("error", err))
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
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
		logger.Warn("redis unavailable, report cache disabled", slog.Any("error", err))
		redisClient = nil
	}
	defer func() {
		if redisClient != nil {
			_ = redisClient.Close()
		}
	}()

	metrics := observability.NewMetrics()
	reportCache := pipelinehttp.NewCache(redisClient, 5*time.Minute)

	enqueuer := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() { _ = enqueuer.Close() }()

	handler := pipelinehttp.NewHandler(logger, pipeline.NewRepository(pool), enqueuer, reportCache)
	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		PipelineHandler: handler,
		Metrics:         metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func runOnce(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	if err := db.Migrate(cfg.PGDSN); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	svc := buildPipeline(pool, cfg, logger, nil)
	report, err := svc.Run(ctx)
	if err != nil {
		return err
	}
	payload, marshalErr := json.MarshalIndent(report, "", "  ")
	if marshalErr != nil {
		return marshalErr
	}
	fmt.Println(string(payload))
	if report.Status != pipeline.StatusSucceeded {
		return fmt.Errorf("run %s finished with status %s", report.RunID, report.Status)
	}
	return nil
}

func jobsCommand(ctx context.Context, cfg *app.Config, args []string) error {
	jobsCLI := cli.NewJobsCLI(cfg.RedisAddr)
	defer func() { _ = jobsCLI.Close() }()

	if len(args) == 0 {
		return errors.New("usage: meridian jobs <trigger TASK|stats>")
	}
	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			return errors.New("usage: meridian jobs trigger TASK")
		}
		taskID, err := jobsCLI.Trigger(ctx, args[1])
		if err != nil {
			return err
		}
		fmt.Printf("enqueued %s task_id=%s\n", args[1], taskID)
		return nil
	case "stats":
		stats, err := jobsCLI.InspectQueue(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
		return nil
	default:
		return fmt.Errorf("unknown jobs subcommand %q", args[0])
	}
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

