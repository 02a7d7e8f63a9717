package policy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/storage/memory"

	"github.com/botdeployer/deployer/internal/deploy"
	"github.com/botdeployer/deployer/internal/lifecycle"
)

const defaultRepoTimeout = 10 * time.Second

// RepoResolver maps a bot id to the git URL of its source.
type RepoResolver interface {
	RepoURL(botID string) (string, bool)
}

// RepoGate checks that the bot's repository answers an ls-remote. Nothing is
// cloned. Network trouble is reported as transient so the stage retries.
type RepoGate struct {
	Resolver RepoResolver
	Auth     transport.AuthMethod
	Timeout  time.Duration
}

func NewRepoGate(resolver RepoResolver, auth transport.AuthMethod, timeout time.Duration) *RepoGate {
	if timeout <= 0 {
		timeout = defaultRepoTimeout
	}
	return &RepoGate{Resolver: resolver, Auth: auth, Timeout: timeout}
}

func (g *RepoGate) Check(ctx context.Context, d *deploy.Deployment) error {
	url, ok := g.Resolver.RepoURL(d.BotID)
	if !ok || url == "" {
		return fmt.Errorf("no repository configured for bot %q", d.BotID)
	}

	timeout := g.Timeout
	if timeout <= 0 {
		timeout = defaultRepoTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	remote := git.NewRemote(memory.NewStorage(), &config.RemoteConfig{
		Name: "origin",
		URLs: []string{url},
	})
	refs, err := remote.ListContext(ctx, &git.ListOptions{Auth: g.Auth})
	if err != nil {
		return classifyRepoError(err)
	}
	if len(refs) == 0 {
		return errors.New("repository has no refs")
	}
	return nil
}

func classifyRepoError(err error) error {
	switch {
	case errors.Is(err, transport.ErrRepositoryNotFound):
		return errors.New("repository not found")
	case errors.Is(err, transport.ErrEmptyRemoteRepository):
		return errors.New("repository is empty")
	case errors.Is(err, transport.ErrAuthenticationRequired),
		errors.Is(err, transport.ErrAuthorizationFailed),
		errors.Is(err, transport.ErrInvalidAuthMethod):
		return fmt.Errorf("repository access denied: %w", err)
	}
	return lifecycle.Transient(fmt.Errorf("repository unreachable: %w", err))
}
