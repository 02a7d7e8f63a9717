package deploy

import (
	"errors"
	"maps"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusInitializing Status = "initializing"
	StatusRunning      Status = "running"
	StatusFailed       Status = "failed"
)

// Terminal reports whether no further status change is allowed.
func (s Status) Terminal() bool {
	return s == StatusRunning || s == StatusFailed
}

// CanTransition reports whether a record in status s may move to next.
// Only initializing records move, and only into a terminal status.
func (s Status) CanTransition(next Status) bool {
	return s == StatusInitializing && next.Terminal()
}

const InitialLog = "Deployment initialized"

const logTimeFormat = "2006-01-02T15:04:05.000Z07:00"

var ErrNotFound = errors.New("deployment not found")

type Deployment struct {
	ID        string         `json:"id"`
	BotID     string         `json:"botId"`
	Status    Status         `json:"status"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	Logs      []string       `json:"logs"`
	Config    map[string]any `json:"config"`
}

func New(botID string, config map[string]any) *Deployment {
	now := time.Now().UTC()
	cfg := make(map[string]any, len(config))
	maps.Copy(cfg, config)
	return &Deployment{
		ID:        uuid.NewString(),
		BotID:     botID,
		Status:    StatusInitializing,
		CreatedAt: now,
		UpdatedAt: now,
		Logs:      []string{FormatLog(now, InitialLog)},
		Config:    cfg,
	}
}

// FormatLog renders a log line as "[timestamp] message".
func FormatLog(t time.Time, message string) string {
	return "[" + t.UTC().Format(logTimeFormat) + "] " + message
}

// Clone returns a copy that shares nothing mutable with d.
func (d *Deployment) Clone() *Deployment {
	c := *d
	c.Logs = append([]string(nil), d.Logs...)
	c.Config = maps.Clone(d.Config)
	if c.Config == nil {
		c.Config = map[string]any{}
	}
	return &c
}

func (d *Deployment) appendLog(message string) Update {
	now := time.Now().UTC()
	if now.Before(d.UpdatedAt) {
		now = d.UpdatedAt
	}
	line := FormatLog(now, message)
	d.Logs = append(d.Logs, line)
	d.UpdatedAt = now
	return Update{
		ID:        d.ID,
		Status:    d.Status,
		Log:       line,
		Index:     len(d.Logs) - 1,
		UpdatedAt: now,
	}
}

func (d *Deployment) setStatus(status Status) (Update, bool) {
	if !d.Status.CanTransition(status) {
		return Update{}, false
	}
	d.Status = status
	return Update{
		ID:        d.ID,
		Status:    status,
		Index:     -1,
		UpdatedAt: d.UpdatedAt,
	}, true
}

// finish moves d to a terminal status and appends its closing line in one
// step. Nothing changes if the transition is not allowed.
func (d *Deployment) finish(status Status, message string) ([]Update, bool) {
	su, ok := d.setStatus(status)
	if !ok {
		return nil, false
	}
	return []Update{su, d.appendLog(message)}, true
}

// Update describes a single mutation of a deployment: either an appended log
// line (Index >= 0) or a status change (Index == -1).
type Update struct {
	ID        string    `json:"id"`
	Status    Status    `json:"status"`
	Log       string    `json:"log,omitempty"`
	Index     int       `json:"index"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (u Update) HasLog() bool {
	return u.Index >= 0
}

// Listener is notified after every successful mutation, outside the store lock.
type Listener func(Update)
