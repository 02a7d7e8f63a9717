package policy

import (
	"context"
	"regexp"
	"strings"

	"github.com/botdeployer/deployer/internal/deploy"
)

var envKeyPattern = regexp.MustCompile(`^[A-Z_][A-Z0-9_]*$`)

var validModes = map[string]bool{"public": true, "self": true, "private": true}

// ConfigGate checks the submitted config against the bot's rules before the
// environment gets configured.
type ConfigGate struct{}

func (ConfigGate) Check(_ context.Context, d *deploy.Deployment) error {
	return ValidateConfig(d.BotID, d.Config)
}

// ValidateConfig returns a *ValidationError naming every bad field, or nil.
func ValidateConfig(botID string, config map[string]any) error {
	verr := &ValidationError{}

	for key, value := range config {
		if !envKeyPattern.MatchString(key) {
			verr.add(key, "not a valid environment variable name")
			continue
		}
		if strings.ContainsAny(stringValue(value), "\r\n") {
			verr.add(key, "value must be a single line")
		}
	}

	if mode, ok := config["MODE"]; ok {
		if !validModes[strings.ToLower(stringValue(mode))] {
			verr.add("MODE", "must be one of public, self, private")
		}
	}

	if botID == "demon-slayer" && stringValue(config["AUTOLIKE_STATUS"]) != "true" {
		verr.add("AUTOLIKE_STATUS", "Demon Slayer requires Auto Like Status to be enabled")
	}

	return verr.orNil()
}
