package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/botdeployer/deployer/internal/bots"
	"github.com/botdeployer/deployer/internal/config"
	"github.com/botdeployer/deployer/internal/deploy"
	"github.com/botdeployer/deployer/internal/metrics"
	"github.com/botdeployer/deployer/internal/ratelimit"
	"github.com/botdeployer/deployer/internal/ws"
)

const deployRateWindow = time.Minute

// BotRegistry resolves bot ids to presets.
type BotRegistry interface {
	Lookup(id string) (*bots.Profile, bool)
	List() []*bots.Profile
}

// Launcher starts the lifecycle of a freshly created deployment without
// blocking the request.
type Launcher interface {
	Start(id string)
}

type Dependencies struct {
	Config   *config.Config
	Logger   *slog.Logger
	Bots     BotRegistry
	Store    deploy.DeployStore
	Launcher Launcher

	// Optional.
	Streams *ws.Server
	Metrics *metrics.Metrics
	Limiter ratelimit.Limiter
}

func NewRouter(deps Dependencies) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	h := NewHandlers(deps)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(deps.Logger))
	r.Use(middleware.Recoverer)
	r.Use(instrument(deps.Metrics))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Message: "Not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Message: "Method not allowed"})
	})

	// Health & Info
	r.Get("/health", h.Health)
	r.Get("/info", h.Info)
	r.Get("/stats", h.Stats)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	// Bot presets
	r.Get("/bots", h.ListBots)
	r.Get("/bots/{id}", h.GetBot)

	// Deployments
	r.With(rateLimit(deps.Limiter, deps.Config.DeployRateLimit, deployRateWindow, "/deploy", deps.Metrics)).
		Post("/deploy", h.Deploy)
	r.Get("/deployments", h.ListDeployments)
	r.Get("/deployment/{id}", h.GetDeployment)
	r.Get("/deployment/{id}/env", h.GetDeploymentEnv)

	// WebSocket
	if deps.Streams != nil {
		r.Get("/ws/deployment/{id}", deps.Streams.HandleDeployment)
	}

	return r
}
