package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-dw/meridian-dw/internal/cleanse"
	"github.com/meridian-dw/meridian-dw/internal/observability"
	"github.com/meridian-dw/meridian-dw/internal/quality"
	"github.com/meridian-dw/meridian-dw/internal/staging"
	"github.com/meridian-dw/meridian-dw/internal/warehouse"
)

// SnapshotSource reads one consistent staging snapshot.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (staging.Snapshot, error)
}

// Ingestor reloads staging from a CSV drop directory.
type Ingestor interface {
	IngestDir(ctx context.Context, dir string) (staging.IngestResult, error)
}

// Validator scores a staging snapshot.
type Validator interface {
	Validate(snap staging.Snapshot) quality.Report
}

// Cleanser moves a snapshot into production.
type Cleanser interface {
	Run(ctx context.Context, snap staging.Snapshot) (cleanse.Result, error)
}

// Loader moves production into the warehouse.
type Loader interface {
	Run(ctx context.Context, runDate time.Time) (warehouse.Result, error)
}

// ReportStore persists run reports.
type ReportStore interface {
	Save(ctx context.Context, report RunReport) error
}

// Config carries the orchestration knobs.
type Config struct {
	// IngestDir enables the optional CSV ingestion stage when non-empty.
	IngestDir string
	// QualityGate halts the run before cleansing when the quality score is
	// below threshold. The validator itself never blocks.
	QualityGate bool
}

// Service sequences the pipeline stages and owns the run report.
type Service struct {
	source   SnapshotSource
	ingestor Ingestor
	quality  Validator
	cleanser Cleanser
	loader   Loader
	store    ReportStore
	cfg      Config
	metrics  *observability.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// ServiceParams groups dependencies for NewService.
type ServiceParams struct {
	Source   SnapshotSource
	Ingestor Ingestor
	Quality  Validator
	Cleanser Cleanser
	Loader   Loader
	Store    ReportStore
	Config   Config
	Metrics  *observability.Metrics
	Logger   *slog.Logger
}

// NewService builds Service.
func NewService(params ServiceParams) *Service {
	return &Service{
		source:   params.Source,
		ingestor: params.Ingestor,
		quality:  params.Quality,
		cleanser: params.Cleanser,
		loader:   params.Loader,
		store:    params.Store,
		cfg:      params.Config,
		metrics:  params.Metrics,
		logger:   params.Logger,
		now:      time.Now,
	}
}

// Run executes the full pipeline once and persists the report. A non-nil
// error means the run was fatal; threshold breaches are reported through
// the run status instead.
func (s *Service) Run(ctx context.Context) (RunReport, error) {
	report := RunReport{
		RunID:     uuid.New(),
		StartedAt: s.now().UTC(),
		Status:    StatusSucceeded,
	}
	logger := s.logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("run_id", report.RunID.String()))
	logger.Info("pipeline run started")

	err := s.runStages(ctx, &report, logger)
	report.FinishedAt = s.now().UTC()
	if err != nil {
		report.Status = StatusFatal
		report.Error = err.Error()
	}

	s.observeRun(report)
	if s.store != nil {
		if saveErr := s.store.Save(ctx, report); saveErr != nil {
			if err == nil {
				return report, fmt.Errorf("pipeline: save report: %w", saveErr)
			}
			logger.Error("run report not persisted", slog.Any("error", saveErr))
		}
	}
	logger.Info("pipeline run finished",
		slog.String("status", string(report.Status)),
		slog.Float64("quality_score", report.QualityScore),
		slog.Duration("took", report.FinishedAt.Sub(report.StartedAt)))
	return report, err
}

func (s *Service) runStages(ctx context.Context, report *RunReport, logger *slog.Logger) error {
	if s.cfg.IngestDir != "" {
		if s.ingestor == nil {
			return errors.New("pipeline: ingest dir configured without ingestor")
		}
		stage := s.startStage(StageIngest)
		res, err := s.ingestor.IngestDir(ctx, s.cfg.IngestDir)
		if err != nil {
			s.finishStage(report, stage, false)
			return err
		}
		stage.In = res.Customers + res.Products + res.Transactions + res.Items
		stage.Out = stage.In
		stage.Detail = res
		s.finishStage(report, stage, true)
	}

	snap, err := s.source.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("pipeline: staging snapshot: %w", err)
	}

	stage := s.startStage(StageQuality)
	qreport := s.quality.Validate(snap)
	stage.In = qreport.TotalRows
	stage.Out = qreport.TotalRows
	stage.Detail = qreport
	report.QualityScore = qreport.Score
	report.QualityGrade = qreport.Grade
	s.finishStage(report, stage, qreport.Passed)
	if s.cfg.QualityGate && !qreport.Passed {
		logger.Warn("quality gate closed, halting run",
			slog.Float64("score", qreport.Score),
			slog.Float64("threshold", qreport.Threshold))
		report.Status = StatusFailed
		return nil
	}

	stage = s.startStage(StageCleanse)
	cres, err := s.cleanser.Run(ctx, snap)
	if err != nil && !errors.Is(err, cleanse.ErrStageFailed) {
		s.finishStage(report, stage, false)
		return err
	}
	stage.In = cres.In
	stage.Out = cres.Inserted + cres.Skipped
	stage.Rejected = cres.Rejected
	stage.Detail = cres
	if errors.Is(err, cleanse.ErrStageFailed) {
		logger.Warn("cleansing rejection rate above ceiling, halting run",
			slog.Float64("rejection_rate", cres.RejectionRate))
		s.finishStage(report, stage, false)
		report.Status = StatusFailed
		return nil
	}
	s.finishStage(report, stage, true)

	stage = s.startStage(StageWarehouse)
	wres, err := s.loader.Run(ctx, s.now().UTC())
	if err != nil {
		s.finishStage(report, stage, false)
		return err
	}
	stage.In = wres.Facts.In
	stage.Out = wres.Facts.Inserted + wres.Facts.Skipped
	stage.Rejected = wres.Facts.Rejected
	stage.Detail = wres
	s.finishStage(report, stage, true)
	return nil
}

type stageTimer struct {
	StageReport
	started time.Time
}

func (s *Service) startStage(name string) *stageTimer {
	return &stageTimer{StageReport: StageReport{Name: name}, started: s.now()}
}

func (s *Service) finishStage(report *RunReport, stage *stageTimer, success bool) {
	took := s.now().Sub(stage.started)
	stage.DurationMS = took.Milliseconds()
	stage.Success = success
	report.Stages = append(report.Stages, stage.StageReport)
	if s.metrics != nil {
		rejected := stage.Rejected
		loaded := stage.Out
		s.metrics.ObserveStage(stage.Name, took, loaded, 0, rejected)
	}
}

func (s *Service) observeRun(report RunReport) {
	if s.metrics != nil {
		s.metrics.ObserveRun(string(report.Status), report.QualityScore)
	}
}
