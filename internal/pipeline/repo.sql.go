package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RunSummary is the list-view projection of a stored run.
type RunSummary struct {
	RunID        uuid.UUID `json:"run_id"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	Status       Status    `json:"status"`
	QualityScore float64   `json:"quality_score"`
}

// Repository persists run reports in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Save stores the full report as JSON alongside its summary columns.
func (r *Repository) Save(ctx context.Context, report RunReport) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("pipeline: marshal report: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO pipeline_runs (run_id, started_at, finished_at, status, quality_score, report)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		report.RunID, report.StartedAt, report.FinishedAt, string(report.Status), report.QualityScore, payload)
	if err != nil {
		return fmt.Errorf("pipeline: save report: %w", err)
	}
	return nil
}

// Get returns the stored report document for one run.
func (r *Repository) Get(ctx context.Context, runID uuid.UUID) (json.RawMessage, error) {
	var payload []byte
	err := r.pool.QueryRow(ctx,
		`SELECT report FROM pipeline_runs WHERE run_id = $1`, runID).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pipeline: get report: %w", err)
	}
	return payload, nil
}

// Latest returns the most recently started run's report document.
func (r *Repository) Latest(ctx context.Context) (json.RawMessage, error) {
	var payload []byte
	err := r.pool.QueryRow(ctx,
		`SELECT report FROM pipeline_runs ORDER BY started_at DESC LIMIT 1`).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pipeline: latest report: %w", err)
	}
	return payload, nil
}

// List returns run summaries, newest first.
func (r *Repository) List(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT run_id, started_at, finished_at, status, quality_score
		FROM pipeline_runs
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("pipeline: list runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var s RunSummary
		var score *float64
		if err := rows.Scan(&s.RunID, &s.StartedAt, &s.FinishedAt, &s.Status, &score); err != nil {
			return nil, err
		}
		if score != nil {
			s.QualityScore = *score
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
