// Package api is the illustrative HTTP/SSE edge of spec §6.1: "the surface
// is an HTTP API consumed by an external UI; only core-relevant endpoints
// are in scope" — job CRUD, engine lifecycle control, and event
// subscription. Authentication, file upload/download, and the rest of a
// production REST surface are explicit non-goals; every route here exists
// to exercise a core operation end to end, not to be a complete API.
//
// Grounded on the teacher's internal/api/chi_router.go: the same
// chi.NewRouter + chi/v5 middleware.RequestID/RealIP/Recoverer + go-chi/cors
// global stack and route-group-per-concern shape, with the
// authentication/authorization and Swagger-doc middleware dropped (see
// DESIGN.md for the dropped teacher deps this implies).
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/audiobook-maker/engine-core/internal/database"
	"github.com/audiobook-maker/engine-core/internal/eventbus"
	"github.com/audiobook-maker/engine-core/internal/jobstore"
	"github.com/audiobook-maker/engine-core/internal/models"
)

// EngineManager is the subset of *enginemanager.Manager the edge exposes
// control-plane operations for, one instance per models.EngineKind.
type EngineManager interface {
	Variants(ctx context.Context) ([]*models.EngineVariant, error)
	SetEnabled(ctx context.Context, variantID string, enabled bool) error
	SetDefault(ctx context.Context, variantID string) error
	SetKeepWarm(ctx context.Context, variantID string, keepWarm bool) error
	EnsureReady(ctx context.Context, variantID, model string) error
	Stop(ctx context.Context, variantID, reason string) error
	DiscoverModels(ctx context.Context, variantID string) ([]models.EngineModel, error)
}

// Router wires the job store, the read-model database, the per-kind engine
// managers, and the event bus into chi routes. It holds no business logic
// of its own beyond request parsing and response shaping.
type Router struct {
	jobs    *jobstore.Store
	db      *database.DB
	engines map[models.EngineKind]EngineManager
	bus     *eventbus.Bus
	cors    cors.Options
}

// New builds a Router. engines must have one entry per models.EngineKind
// the deployment supports.
func New(jobs *jobstore.Store, db *database.DB, engines map[models.EngineKind]EngineManager, bus *eventbus.Bus) *Router {
	return &Router{
		jobs:    jobs,
		db:      db,
		engines: engines,
		bus:     bus,
		cors: cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "DELETE"},
			AllowedHeaders:   []string{"Accept", "Content-Type"},
			AllowCredentials: false,
			MaxAge:           300,
		},
	}
}

// SetupChi builds the route tree.
func (router *Router) SetupChi() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(router.cors))

	r.Get("/healthz", router.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1/jobs", func(r chi.Router) {
		r.Get("/", router.handleListJobs)
		r.Post("/", router.handleCreateJob)
		r.Get("/{jobID}", router.handleGetJob)
		r.Post("/{jobID}/cancel", router.handleCancelJob)
		r.Post("/{jobID}/resume", router.handleResumeJob)
		r.Delete("/{jobID}", router.handleDeleteJob)
	})

	r.Route("/api/v1/engines/{kind}", func(r chi.Router) {
		r.Get("/", router.handleListEngines)
		r.Post("/{variantID}/enable", router.handleSetEnabled(true))
		r.Post("/{variantID}/disable", router.handleSetEnabled(false))
		r.Post("/{variantID}/start", router.handleStartEngine)
		r.Post("/{variantID}/stop", router.handleStopEngine)
		r.Post("/{variantID}/keep-warm", router.handleSetKeepWarm)
		r.Post("/{variantID}/default", router.handleSetDefault)
		r.Post("/{variantID}/discover", router.handleDiscoverModels)
	})

	r.Get("/api/v1/events", router.handleSubscribeEvents)

	return r
}

func (router *Router) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (router *Router) engineManager(w http.ResponseWriter, r *http.Request) (EngineManager, bool) {
	kind := models.EngineKind(chi.URLParam(r, "kind"))
	mgr, ok := router.engines[kind]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown engine kind: "+string(kind))
		return nil, false
	}
	return mgr, true
}
