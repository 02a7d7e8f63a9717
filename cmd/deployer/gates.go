package main

import (
	"fmt"
	"log/slog"

	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"

	"github.com/botdeployer/deployer/internal/bots"
	"github.com/botdeployer/deployer/internal/config"
	"github.com/botdeployer/deployer/internal/lifecycle"
	"github.com/botdeployer/deployer/internal/policy"
)

// gateOptions turns the *_CHECK settings into driver options. With none set
// every deployment reaches running.
func gateOptions(cfg *config.Config, registry *bots.Registry, logger *slog.Logger) ([]lifecycle.Option, error) {
	var opts []lifecycle.Option

	if cfg.PolicyScript != "" {
		gate, err := policy.LoadScriptGate(cfg.PolicyScript, 0, logger)
		if err != nil {
			return nil, fmt.Errorf("policy script: %w", err)
		}
		opts = append(opts, lifecycle.WithGate(lifecycle.StageValidateSession, gate))
		logger.Info("policy script enabled", "path", cfg.PolicyScript)
	}
	if cfg.SessionCheck {
		opts = append(opts, lifecycle.WithGate(lifecycle.StageValidateSession, policy.SessionGate{}))
		logger.Info("session check enabled")
	}
	if cfg.RepoCheck {
		var auth transport.AuthMethod
		if cfg.GitToken != "" {
			auth = &githttp.BasicAuth{Username: cfg.GitUsername, Password: cfg.GitToken}
		}
		opts = append(opts,
			lifecycle.WithGate(lifecycle.StageDownloadSource, policy.NewRepoGate(registry, auth, 0)),
			lifecycle.WithRetry(lifecycle.StageDownloadSource, lifecycle.DefaultRetryPolicy),
		)
		logger.Info("repository check enabled", "authenticated", auth != nil)
	}
	if cfg.ConfigCheck {
		opts = append(opts, lifecycle.WithGate(lifecycle.StageConfigureEnvironment, policy.ConfigGate{}))
		logger.Info("config check enabled")
	}
	return opts, nil
}
