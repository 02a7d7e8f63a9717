package policy

import (
	"context"
	"errors"
	"strings"
	"unicode"

	"github.com/botdeployer/deployer/internal/deploy"
)

const sessionKey = "SESSION_ID"

// MinSessionLength is exclusive: a session id must be longer than this.
const MinSessionLength = 10

var (
	ErrSessionMissing = errors.New("session id is required")
	ErrSessionShort   = errors.New("session id is too short")
	ErrSessionSpaces  = errors.New("session id must not contain whitespace")
)

// SessionGate runs a local shape check on SESSION_ID. It never contacts
// WhatsApp.
type SessionGate struct{}

func (SessionGate) Check(_ context.Context, d *deploy.Deployment) error {
	return ValidateSession(stringValue(d.Config[sessionKey]))
}

func ValidateSession(id string) error {
	switch {
	case id == "":
		return ErrSessionMissing
	case strings.IndexFunc(id, unicode.IsSpace) >= 0:
		return ErrSessionSpaces
	case len(id) <= MinSessionLength:
		return ErrSessionShort
	}
	return nil
}
