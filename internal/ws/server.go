package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/botdeployer/deployer/internal/deploy"
)

const writeTimeout = 5 * time.Second

// Server streams a deployment's log to websocket clients until the
// deployment reaches a terminal status.
type Server struct {
	hub    *Hub
	store  deploy.DeployStore
	logger *slog.Logger
}

func NewServer(hub *Hub, store deploy.DeployStore, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{hub: hub, store: store, logger: logger}
}

func (s *Server) HandleDeployment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	log := s.logger.With("deployment_id", id)

	// subscribe before the snapshot so no line falls between the two
	updates, unsubscribe := s.hub.Subscribe(id)
	defer unsubscribe()

	snap, err := s.store.Get(id)
	if errors.Is(err, deploy.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Deployment not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"message": "Error fetching deployment",
			"error":   err.Error(),
		})
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		log.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	// clients never send anything; CloseRead handles pings and close frames
	ctx := conn.CloseRead(r.Context())

	if err := write(ctx, conn, SnapshotMessage{Type: TypeSnapshot, Deployment: snap}); err != nil {
		log.Debug("snapshot write failed", "error", err)
		return
	}
	if snap.Status.Terminal() {
		conn.Close(websocket.StatusNormalClosure, "deployment finished")
		return
	}

	next := len(snap.Logs)
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				conn.Close(websocket.StatusTryAgainLater, "subscriber too slow")
				return
			}
			if !u.HasLog() {
				msg := StatusMessage{Type: TypeStatus, ID: u.ID, Status: u.Status, UpdatedAt: u.UpdatedAt}
				if err := write(ctx, conn, msg); err != nil {
					log.Debug("status write failed", "error", err)
					return
				}
				continue
			}
			if u.Index < next {
				continue
			}
			next = u.Index + 1

			msg := LogMessage{Type: TypeLog, ID: u.ID, Index: u.Index, Line: u.Log, Status: u.Status}
			if err := write(ctx, conn, msg); err != nil {
				log.Debug("log write failed", "error", err)
				return
			}
			// a terminal status is always followed by exactly one closing line
			if u.Status.Terminal() {
				conn.Close(websocket.StatusNormalClosure, "deployment finished")
				return
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, v any) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
