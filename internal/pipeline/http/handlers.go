package pipelinehttp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/meridian-dw/meridian-dw/internal/pipeline"
	"github.com/meridian-dw/meridian-dw/internal/platform/httpx"
)

// ReportReader reads stored run reports.
type ReportReader interface {
	Get(ctx context.Context, runID uuid.UUID) (json.RawMessage, error)
	Latest(ctx context.Context) (json.RawMessage, error)
	List(ctx context.Context, limit int) ([]pipeline.RunSummary, error)
}

// RunEnqueuer schedules a pipeline run for background execution.
type RunEnqueuer interface {
	EnqueuePipelineRun(ctx context.Context) (string, error)
}

// Handler serves the run report API.
type Handler struct {
	logger   *slog.Logger
	reports  ReportReader
	enqueuer RunEnqueuer
	cache    *Cache
	group    singleflight.Group
}

// NewHandler constructs the pipeline HTTP handler.
func NewHandler(logger *slog.Logger, reports ReportReader, enqueuer RunEnqueuer, cache *Cache) *Handler {
	return &Handler{logger: logger, reports: reports, enqueuer: enqueuer, cache: cache}
}

// MountRoutes registers the report endpoints. The trigger endpoint goes
// behind the supplied guard.
func (h *Handler) MountRoutes(r chi.Router, guard func(http.Handler) http.Handler) {
	if h == nil {
		return
	}
	r.Get("/runs", h.handleListRuns)
	r.Get("/runs/latest", h.handleLatestRun)
	r.Get("/runs/{runID}", h.handleGetRun)
	r.Group(func(gr chi.Router) {
		if guard != nil {
			gr.Use(guard)
		}
		gr.Post("/runs", h.handleTriggerRun)
	})
}

func (h *Handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	payload, err := h.cached(ctx, "runs:list:"+strconv.Itoa(limit), func(ctx context.Context) (any, error) {
		runs, err := h.reports.List(ctx, limit)
		if err != nil {
			return nil, err
		}
		if runs == nil {
			runs = []pipeline.RunSummary{}
		}
		return runs, nil
	})
	if err != nil {
		h.respondError(w, "list runs", err)
		return
	}
	writeRaw(w, payload)
}

func (h *Handler) handleLatestRun(w http.ResponseWriter, r *http.Request) {
	payload, err := h.cached(r.Context(), "runs:latest", func(ctx context.Context) (any, error) {
		return h.reports.Latest(ctx)
	})
	if err != nil {
		h.respondError(w, "latest run", err)
		return
	}
	writeRaw(w, payload)
}

func (h *Handler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID, err := uuid.Parse(chi.URLParam(r, "runID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid run id", "run id must be a UUID")
		return
	}
	payload, err := h.cached(r.Context(), "runs:"+runID.String(), func(ctx context.Context) (any, error) {
		return h.reports.Get(ctx, runID)
	})
	if err != nil {
		h.respondError(w, "get run", err)
		return
	}
	writeRaw(w, payload)
}

func (h *Handler) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.enqueuer == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Runs disabled", "no worker is configured to execute runs")
		return
	}
	taskID, err := h.enqueuer.EnqueuePipelineRun(ctx)
	if errors.Is(err, pipeline.ErrRunAlreadyQueued) {
		httpx.Problem(w, http.StatusConflict, "Run already queued", "a pipeline run is already queued or executing")
		return
	}
	if err != nil {
		h.respondError(w, "trigger run", err)
		return
	}
	if err := h.cache.Bump(ctx); err != nil {
		h.logger.Warn("report cache not invalidated", slog.Any("error", err))
	}
	httpx.JSON(w, http.StatusAccepted, map[string]string{"task_id": taskID})
}

// cached collapses concurrent identical reads and serves them from Redis.
func (h *Handler) cached(ctx context.Context, key string, loader func(context.Context) (any, error)) ([]byte, error) {
	value, err, _ := h.group.Do(key, func() (any, error) {
		cacheKey, err := h.cache.BuildKey(ctx, key)
		if err != nil {
			// cache trouble is not worth failing the read
			h.logger.Warn("report cache unavailable", slog.Any("error", err))
			value, err := loader(ctx)
			if err != nil {
				return nil, err
			}
			return json.Marshal(value)
		}
		return h.cache.FetchJSON(ctx, cacheKey, loader)
	})
	if err != nil {
		return nil, err
	}
	return value.([]byte), nil
}

func (h *Handler) respondError(w http.ResponseWriter, action string, err error) {
	if errors.Is(err, pipeline.ErrRunNotFound) {
		httpx.RespondError(w, httpx.ErrNotFound)
		return
	}
	h.logger.Error("pipeline api failure", slog.String("action", action), slog.Any("error", err))
	httpx.Problem(w, http.StatusInternalServerError, "Internal error", "the request could not be completed")
}

func writeRaw(w http.ResponseWriter, payload []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}
