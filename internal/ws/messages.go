package ws

import (
	"time"

	"github.com/botdeployer/deployer/internal/deploy"
)

const (
	TypeSnapshot = "snapshot"
	TypeLog      = "log"
	TypeStatus   = "status"
)

type BaseMessage struct {
	Type string `json:"type"`
}

// Server → client

// SnapshotMessage is sent once, right after the upgrade.
type SnapshotMessage struct {
	Type       string             `json:"type"`
	Deployment *deploy.Deployment `json:"deployment"`
}

type LogMessage struct {
	Type   string        `json:"type"`
	ID     string        `json:"id"`
	Index  int           `json:"index"`
	Line   string        `json:"line"`
	Status deploy.Status `json:"status"`
}

type StatusMessage struct {
	Type      string        `json:"type"`
	ID        string        `json:"id"`
	Status    deploy.Status `json:"status"`
	UpdatedAt time.Time     `json:"updatedAt"`
}
