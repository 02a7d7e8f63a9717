package cli

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botdeployer/deployer/internal/api"
	"github.com/botdeployer/deployer/internal/bots"
	"github.com/botdeployer/deployer/internal/config"
	"github.com/botdeployer/deployer/internal/deploy"
	"github.com/botdeployer/deployer/internal/lifecycle"
	"github.com/botdeployer/deployer/internal/policy"
	"github.com/botdeployer/deployer/internal/ws"
)

func newServer(t *testing.T, opts ...lifecycle.Option) (*httptest.Server, *deploy.Store) {
	t.Helper()
	color.NoColor = true

	hub := ws.NewHub(nil)
	store := deploy.NewStore(deploy.WithListener(hub.Publish))
	driver, err := lifecycle.NewDriver(store, append([]lifecycle.Option{lifecycle.WithDelayScale(0.001)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { driver.Shutdown(context.Background()) })

	router := api.NewRouter(api.Dependencies{
		Config:   &config.Config{NodeID: "test", HTTPPort: 8000, BaseURL: "http://deployer.test"},
		Bots:     bots.Default(),
		Store:    store,
		Launcher: driver,
		Streams:  ws.NewServer(hub, store, nil),
	})
	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)
	return ts, store
}

func run(t *testing.T, server string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCmd(&out)
	cmd.SetArgs(append([]string{"--server", server}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestBotsCmd(t *testing.T) {
	ts, _ := newServer(t)

	out, err := run(t, ts.URL, "bots")
	require.NoError(t, err)
	assert.Contains(t, out, "demon-slayer")
	assert.Contains(t, out, "Cloud AI")
}

func TestDeployCmd_Watch(t *testing.T) {
	ts, store := newServer(t)

	out, err := run(t, ts.URL, "deploy", "demon-slayer", "--set", "SESSION_ID=abc1234567", "--set", "AUTO_REACT=false", "--watch")
	require.NoError(t, err)
	assert.Contains(t, out, "Deployment started successfully")
	assert.Contains(t, out, lifecycle.CompletedMessage)
	assert.Contains(t, out, "is running")

	list, _ := store.List()
	require.Len(t, list, 1)
	cfg := list[0].Config
	assert.Equal(t, "abc1234567", cfg["SESSION_ID"])
	assert.Equal(t, false, cfg["AUTO_REACT"])
	assert.Equal(t, true, cfg["AUTOLIKE_STATUS"], "preset defaults are merged")
}

func TestDeployCmd_NoDefaults(t *testing.T) {
	ts, store := newServer(t)

	_, err := run(t, ts.URL, "deploy", "joel-xmd", "--defaults=false", "--set", "SESSION_ID=abc1234567")
	require.NoError(t, err)

	list, _ := store.List()
	require.Len(t, list, 1)
	assert.Equal(t, map[string]any{"SESSION_ID": "abc1234567"}, list[0].Config)
}

func TestDeployCmd_WatchFailure(t *testing.T) {
	ts, _ := newServer(t, lifecycle.WithGate(lifecycle.StageValidateSession, policy.SessionGate{}))

	out, err := run(t, ts.URL, "deploy", "joel-xmd", "--set", "SESSION_ID=short", "--watch")
	require.Error(t, err)
	assert.Contains(t, out, "Validating session ID failed")
	assert.Contains(t, out, "is failed")
}

func TestDeployCmd_Errors(t *testing.T) {
	ts, _ := newServer(t)

	_, err := run(t, ts.URL, "deploy", "nope", "--defaults=false")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid bot ID")

	_, err = run(t, ts.URL, "deploy", "joel-xmd", "--set", "NOEQUALS")
	require.Error(t, err)

	_, err = run(t, ts.URL, "deploy")
	require.Error(t, err)
}

func TestStatusCmd(t *testing.T) {
	ts, store := newServer(t)
	d, _ := store.Create("cloud-ai", map[string]any{"MODE": "self"})

	out, err := run(t, ts.URL, "status", d.ID)
	require.NoError(t, err)
	assert.Contains(t, out, d.ID)
	assert.Contains(t, out, "initializing")
	assert.Contains(t, out, deploy.InitialLog)

	_, err = run(t, ts.URL, "status", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Deployment not found")
}

func TestStatusCmd_WatchPolls(t *testing.T) {
	ts, store := newServer(t)
	d, _ := store.Create("cloud-ai", nil)
	store.Finish(d.ID, deploy.StatusRunning, lifecycle.CompletedMessage)

	out, err := run(t, ts.URL, "status", d.ID, "--watch", "--interval", "10ms")
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, lifecycle.CompletedMessage))
	assert.Contains(t, out, "is running")
}

func TestListCmd(t *testing.T) {
	ts, store := newServer(t)

	out, err := run(t, ts.URL, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No deployments found")

	d, _ := store.Create("joel-xmd", nil)
	out, err = run(t, ts.URL, "list", "--status", "initializing")
	require.NoError(t, err)
	assert.Contains(t, out, d.ID)
}

func TestParseSets(t *testing.T) {
	got, err := parseSets([]string{"A=1", "B=true", "C=a=b", "D="})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"A": "1", "B": true, "C": "a=b", "D": ""}, got)

	_, err = parseSets([]string{"=x"})
	assert.Error(t, err)
}

func TestExamplesUseKnownFlags(t *testing.T) {
	for _, sub := range NewRootCmd(&bytes.Buffer{}).Commands() {
		for _, line := range strings.Split(sub.Example, "\n") {
			fields := strings.Fields(line)
			if len(fields) < 2 || fields[0] != "deployctl" {
				continue
			}
			root := NewRootCmd(&bytes.Buffer{})
			cmd, rest, err := root.Find(fields[1:])
			require.NoError(t, err, line)
			assert.NoError(t, cmd.ParseFlags(rest), line)
		}
	}
}
