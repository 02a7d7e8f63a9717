package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/botdeployer/deployer/internal/deploy"
	"github.com/botdeployer/deployer/internal/policy"
)

const maxDeployBody = 1 << 20

var startTime = time.Now()

type Handlers struct {
	deps Dependencies
}

func NewHandlers(deps Dependencies) *Handlers {
	return &Handlers{deps: deps}
}

type ErrorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

type DeployResponse struct {
	ID      string        `json:"id"`
	Status  deploy.Status `json:"status"`
	Message string        `json:"message"`
	URL     string        `json:"url"`
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handlers) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"node_id":        h.deps.Config.NodeID,
		"version":        "0.1.0",
		"uptime_seconds": int(time.Since(startTime).Seconds()),
		"base_url":       h.deps.Config.BaseURL,
	})
}

func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	list, err := h.deps.Store.List()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Message: "Error listing deployments", Error: err.Error()})
		return
	}

	counts := map[deploy.Status]int{
		deploy.StatusInitializing: 0,
		deploy.StatusRunning:      0,
		deploy.StatusFailed:       0,
	}
	for _, d := range list {
		counts[d.Status]++
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"node_id":        h.deps.Config.NodeID,
		"uptime_seconds": int(time.Since(startTime).Seconds()),
		"deployments": map[string]int{
			"total":        len(list),
			"initializing": counts[deploy.StatusInitializing],
			"running":      counts[deploy.StatusRunning],
			"failed":       counts[deploy.StatusFailed],
		},
	})
}

func (h *Handlers) ListBots(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"bots": h.deps.Bots.List()})
}

func (h *Handlers) GetBot(w http.ResponseWriter, r *http.Request) {
	p, ok := h.deps.Bots.Lookup(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Message: "Bot not found"})
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Deploy accepts {"botId": ..., ...config}. Everything except botId is
// stored verbatim as the deployment config.
func (h *Handlers) Deploy(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxDeployBody)).Decode(&body); err != nil || body == nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Message: "Invalid request body"})
		return
	}

	botID, _ := body["botId"].(string)
	if _, ok := h.deps.Bots.Lookup(botID); !ok {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Message: "Invalid bot ID"})
		return
	}
	delete(body, "botId")

	d, err := h.deps.Store.Create(botID, body)
	if err != nil {
		h.deps.Logger.Error("deployment create failed", "bot_id", botID, "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Message: "Deployment failed", Error: err.Error()})
		return
	}
	h.deps.Metrics.DeploymentCreated(botID)
	h.deps.Launcher.Start(d.ID)

	h.deps.Logger.Info("deployment created", "deployment_id", d.ID, "bot_id", botID)
	writeJSON(w, http.StatusOK, DeployResponse{
		ID:      d.ID,
		Status:  d.Status,
		Message: "Deployment started successfully",
		URL:     h.deps.Config.DeploymentURL(d.ID),
	})
}

func (h *Handlers) ListDeployments(w http.ResponseWriter, r *http.Request) {
	list, err := h.deps.Store.List()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Message: "Error listing deployments", Error: err.Error()})
		return
	}
	if status := r.URL.Query().Get("status"); status != "" {
		filtered := list[:0]
		for _, d := range list {
			if string(d.Status) == status {
				filtered = append(filtered, d)
			}
		}
		list = filtered
	}
	if list == nil {
		list = []*deploy.Deployment{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"deployments": list,
		"total":       len(list),
	})
}

func (h *Handlers) GetDeployment(w http.ResponseWriter, r *http.Request) {
	d, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// GetDeploymentEnv renders the deployment config as an env file.
func (h *Handlers) GetDeploymentEnv(w http.ResponseWriter, r *http.Request) {
	d, ok := h.lookup(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(policy.EnvFile(d.Config)))
}

func (h *Handlers) lookup(w http.ResponseWriter, r *http.Request) (*deploy.Deployment, bool) {
	id := chi.URLParam(r, "id")
	d, err := h.deps.Store.Get(id)
	if errors.Is(err, deploy.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Message: "Deployment not found"})
		return nil, false
	}
	if err != nil {
		h.deps.Logger.Error("deployment fetch failed", "deployment_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Message: "Error fetching deployment", Error: err.Error()})
		return nil, false
	}
	return d, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
