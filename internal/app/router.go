package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	pipelinehttp "github.com/meridian-dw/meridian-dw/internal/pipeline/http"
	"github.com/meridian-dw/meridian-dw/internal/observability"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger          *slog.Logger
	Config          *Config
	PipelineHandler *pipelinehttp.Handler
	Metrics         *observability.Metrics
}

// NewRouter constructs the chi.Router for the report API.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	if params.PipelineHandler != nil {
		tokenHash := ""
		if params.Config != nil {
			tokenHash = params.Config.APITokenHash
		}
		r.Route("/api", func(api chi.Router) {
			params.PipelineHandler.MountRoutes(api, RequireToken(tokenHash))
		})
	}

	return r
}
