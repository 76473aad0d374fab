package pipelinehttp

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/meridian-dw/meridian-dw/internal/pipeline"
)

type mockReports struct {
	reports     map[uuid.UUID]json.RawMessage
	latestCalls int
}

func (m *mockReports) Get(_ context.Context, runID uuid.UUID) (json.RawMessage, error) {
	payload, ok := m.reports[runID]
	if !ok {
		return nil, pipeline.ErrRunNotFound
	}
	return payload, nil
}

func (m *mockReports) Latest(context.Context) (json.RawMessage, error) {
	m.latestCalls++
	for _, payload := range m.reports {
		return payload, nil
	}
	return nil, pipeline.ErrRunNotFound
}

func (m *mockReports) List(context.Context, int) ([]pipeline.RunSummary, error) {
	var out []pipeline.RunSummary
	for id := range m.reports {
		out = append(out, pipeline.RunSummary{RunID: id, Status: pipeline.StatusSucceeded})
	}
	return out, nil
}

type mockEnqueuer struct {
	calls int
	err   error
}

func (m *mockEnqueuer) EnqueuePipelineRun(context.Context) (string, error) {
	m.calls++
	return "task-1", m.err
}

func newTestRouter(t *testing.T, reports ReportReader, enqueuer RunEnqueuer) (chi.Router, *Cache) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cache := NewCache(client, time.Minute)

	h := NewHandler(slog.New(slog.DiscardHandler), reports, enqueuer, cache)
	r := chi.NewRouter()
	h.MountRoutes(r, nil)
	return r, cache
}

func runFixture() (*mockReports, uuid.UUID) {
	runID := uuid.New()
	payload, _ := json.Marshal(map[string]any{"run_id": runID, "status": "succeeded"})
	return &mockReports{reports: map[uuid.UUID]json.RawMessage{runID: payload}}, runID
}

func TestGetRunByID(t *testing.T) {
	reports, runID := runFixture()
	router, _ := newTestRouter(t, reports, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs/"+runID.String(), nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "succeeded", body["status"])
}

func TestGetRunNotFound(t *testing.T) {
	reports, _ := runFixture()
	router, _ := newTestRouter(t, reports, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs/"+uuid.NewString(), nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetRunBadID(t *testing.T) {
	reports, _ := runFixture()
	router, _ := newTestRouter(t, reports, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs/not-a-uuid", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLatestRunServedFromCache(t *testing.T) {
	reports, _ := runFixture()
	router, _ := newTestRouter(t, reports, nil)

	for range 3 {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs/latest", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}
	require.Equal(t, 1, reports.latestCalls)
}

func TestTriggerRunInvalidatesCache(t *testing.T) {
	reports, _ := runFixture()
	enqueuer := &mockEnqueuer{}
	router, _ := newTestRouter(t, reports, enqueuer)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs/latest", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/runs", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, 1, enqueuer.calls)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs/latest", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	// version bump forces a fresh read after the trigger
	require.Equal(t, 2, reports.latestCalls)
}

func TestTriggerRunWithoutWorker(t *testing.T) {
	reports, _ := runFixture()
	router, _ := newTestRouter(t, reports, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/runs", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestListRuns(t *testing.T) {
	reports, runID := runFixture()
	router, _ := newTestRouter(t, reports, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var out []pipeline.RunSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 1)
	require.Equal(t, runID, out[0].RunID)
}
