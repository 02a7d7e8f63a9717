package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/botdeployer/deployer/internal/bots"
	"github.com/botdeployer/deployer/internal/config"
	"github.com/botdeployer/deployer/internal/deploy"
	"github.com/botdeployer/deployer/internal/metrics"
)

type recordingLauncher struct {
	mu  sync.Mutex
	ids []string
}

func (l *recordingLauncher) Start(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ids = append(l.ids, id)
}

// brokenStore fails every read and create.
type brokenStore struct{}

var errDisk = errors.New("disk on fire")

func (brokenStore) Create(string, map[string]any) (*deploy.Deployment, error) { return nil, errDisk }
func (brokenStore) Get(string) (*deploy.Deployment, error)                    { return nil, errDisk }
func (brokenStore) AppendLog(string, string)                                  {}
func (brokenStore) SetStatus(string, deploy.Status)                           {}
func (brokenStore) Finish(string, deploy.Status, string) bool                  { return false }
func (brokenStore) List() ([]*deploy.Deployment, error)                       { return nil, errDisk }

func testConfig() *config.Config {
	return &config.Config{NodeID: "test-node", HTTPPort: 8000, BaseURL: "http://deployer.test/"}
}

func newTestRouter(store deploy.DeployStore, launcher Launcher) http.Handler {
	return NewRouter(Dependencies{
		Config:   testConfig(),
		Bots:     bots.Default(),
		Store:    store,
		Launcher: launcher,
	})
}

func TestHealth(t *testing.T) {
	router := newTestRouter(deploy.NewStore(), &recordingLauncher{})

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	var resp map[string]string
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["status"] != "healthy" {
		t.Errorf("expected healthy, got %s", resp["status"])
	}
}

func TestInfo(t *testing.T) {
	router := newTestRouter(deploy.NewStore(), &recordingLauncher{})

	req := httptest.NewRequest("GET", "/info", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["node_id"] != "test-node" {
		t.Errorf("expected test-node, got %v", resp["node_id"])
	}
}

func TestStats(t *testing.T) {
	store := deploy.NewStore()
	a, _ := store.Create("joel-xmd", nil)
	store.Create("cloud-ai", nil)
	store.SetStatus(a.ID, deploy.StatusRunning)
	router := newTestRouter(store, &recordingLauncher{})

	req := httptest.NewRequest("GET", "/stats", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)

	deployments := resp["deployments"].(map[string]any)
	if deployments["total"].(float64) != 2 {
		t.Errorf("expected 2 total, got %v", deployments["total"])
	}
	if deployments["running"].(float64) != 1 || deployments["initializing"].(float64) != 1 {
		t.Errorf("unexpected counts %v", deployments)
	}
}

func TestListBots(t *testing.T) {
	router := newTestRouter(deploy.NewStore(), &recordingLauncher{})

	req := httptest.NewRequest("GET", "/bots", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp struct {
		Bots []bots.Profile `json:"bots"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Bots) != 3 {
		t.Fatalf("expected 3 bots, got %d", len(resp.Bots))
	}
	if resp.Bots[0].ID != "cloud-ai" {
		t.Errorf("expected sorted ids, got %s first", resp.Bots[0].ID)
	}
}

func TestGetBot(t *testing.T) {
	router := newTestRouter(deploy.NewStore(), &recordingLauncher{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/bots/demon-slayer", nil))
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/bots/nope", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestUnknownRoute(t *testing.T) {
	router := newTestRouter(deploy.NewStore(), &recordingLauncher{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/nowhere", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
	if !strings.Contains(w.Header().Get("Content-Type"), "application/json") {
		t.Errorf("expected json content type, got %q", w.Header().Get("Content-Type"))
	}
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	router := NewRouter(Dependencies{
		Config:   testConfig(),
		Bots:     bots.Default(),
		Store:    deploy.NewStore(),
		Launcher: &recordingLauncher{},
		Metrics:  m,
	})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/health", nil))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `deployer_http_requests_total{method="GET",route="/health",status="200"} 1`) {
		t.Error("expected request counter for /health")
	}
}
