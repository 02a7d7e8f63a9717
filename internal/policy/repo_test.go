package policy

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-git/v5/plumbing/transport"

	"github.com/botdeployer/deployer/internal/deploy"
	"github.com/botdeployer/deployer/internal/lifecycle"
)

type staticRepos map[string]string

func (s staticRepos) RepoURL(botID string) (string, bool) {
	url, ok := s[botID]
	return url, ok
}

func TestRepoGate_UnknownBot(t *testing.T) {
	gate := NewRepoGate(staticRepos{}, nil, time.Second)
	err := gate.Check(context.Background(), deploy.New("nope", nil))
	if err == nil || lifecycle.IsTransient(err) {
		t.Errorf("expected permanent error, got %v", err)
	}
}

func TestRepoGate_NotFound(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	gate := NewRepoGate(staticRepos{"joel-xmd": server.URL + "/missing.git"}, nil, 5*time.Second)
	err := gate.Check(context.Background(), deploy.New("joel-xmd", nil))
	if err == nil {
		t.Fatal("expected error")
	}
	if lifecycle.IsTransient(err) {
		t.Errorf("not found should not be retried: %v", err)
	}
	if err.Error() != "repository not found" {
		t.Errorf("unexpected error %q", err)
	}
}

func TestRepoGate_AuthRequired(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	gate := NewRepoGate(staticRepos{"joel-xmd": server.URL + "/private.git"}, nil, 5*time.Second)
	err := gate.Check(context.Background(), deploy.New("joel-xmd", nil))
	if err == nil || lifecycle.IsTransient(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if !strings.Contains(err.Error(), "access denied") {
		t.Errorf("unexpected error %q", err)
	}
}

func TestRepoGate_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL + "/bot.git"
	server.Close()

	gate := NewRepoGate(staticRepos{"joel-xmd": url}, nil, 2*time.Second)
	err := gate.Check(context.Background(), deploy.New("joel-xmd", nil))
	if !lifecycle.IsTransient(err) {
		t.Errorf("expected transient error, got %v", err)
	}
}

func TestClassifyRepoError(t *testing.T) {
	cases := []struct {
		err       error
		transient bool
	}{
		{transport.ErrRepositoryNotFound, false},
		{transport.ErrEmptyRemoteRepository, false},
		{transport.ErrAuthenticationRequired, false},
		{transport.ErrAuthorizationFailed, false},
		{errors.New("dial tcp: connection refused"), true},
		{context.DeadlineExceeded, true},
	}
	for _, c := range cases {
		if got := lifecycle.IsTransient(classifyRepoError(c.err)); got != c.transient {
			t.Errorf("%v: expected transient=%v, got %v", c.err, c.transient, got)
		}
	}
}
