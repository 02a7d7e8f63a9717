// Package client talks to the deployer HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"strings"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/botdeployer/deployer/internal/api"
	"github.com/botdeployer/deployer/internal/bots"
	"github.com/botdeployer/deployer/internal/deploy"
	"github.com/botdeployer/deployer/internal/ws"
)

const DefaultPollInterval = 3 * time.Second

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Message    string
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s (%d): %s", e.Message, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("%s (%d)", e.Message, e.StatusCode)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

func (c *Client) Bots(ctx context.Context) ([]*bots.Profile, error) {
	var resp struct {
		Bots []*bots.Profile `json:"bots"`
	}
	if err := c.do(ctx, http.MethodGet, "/bots", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Bots, nil
}

func (c *Client) Bot(ctx context.Context, id string) (*bots.Profile, error) {
	var p bots.Profile
	if err := c.do(ctx, http.MethodGet, "/bots/"+url.PathEscape(id), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Deploy submits botID with config flattened next to it, as the server
// expects.
func (c *Client) Deploy(ctx context.Context, botID string, config map[string]any) (*api.DeployResponse, error) {
	body := make(map[string]any, len(config)+1)
	maps.Copy(body, config)
	body["botId"] = botID

	var resp api.DeployResponse
	if err := c.do(ctx, http.MethodPost, "/deploy", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Deployment(ctx context.Context, id string) (*deploy.Deployment, error) {
	var d deploy.Deployment
	if err := c.do(ctx, http.MethodGet, "/deployment/"+url.PathEscape(id), nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *Client) Deployments(ctx context.Context, status string) ([]*deploy.Deployment, error) {
	path := "/deployments"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	var resp struct {
		Deployments []*deploy.Deployment `json:"deployments"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Deployments, nil
}

// Poll fetches the deployment every interval until it reaches a terminal
// status, calling onLine once for every log line in order.
func (c *Client) Poll(ctx context.Context, id string, interval time.Duration, onLine func(string)) (*deploy.Deployment, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	seen := 0
	for {
		d, err := c.Deployment(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, line := range d.Logs[min(seen, len(d.Logs)):] {
			onLine(line)
		}
		seen = max(seen, len(d.Logs))
		if d.Status.Terminal() {
			return d, nil
		}

		select {
		case <-ctx.Done():
			return d, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Stream follows the deployment over the websocket endpoint and returns the
// final status once the server closes the stream.
func (c *Client) Stream(ctx context.Context, id string, onLine func(string)) (deploy.Status, error) {
	wsURL := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/ws/deployment/" + url.PathEscape(id)
	conn, resp, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return "", &APIError{StatusCode: resp.StatusCode, Message: "Deployment not found"}
		}
		return "", fmt.Errorf("dial stream: %w", err)
	}
	defer conn.CloseNow()

	var status deploy.Status
	for {
		var raw json.RawMessage
		if err := wsjson.Read(ctx, conn, &raw); err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return status, nil
			}
			return status, fmt.Errorf("read stream: %w", err)
		}

		var base ws.BaseMessage
		if err := json.Unmarshal(raw, &base); err != nil {
			return status, fmt.Errorf("decode stream message: %w", err)
		}
		switch base.Type {
		case ws.TypeSnapshot:
			var m ws.SnapshotMessage
			if err := json.Unmarshal(raw, &m); err != nil {
				return status, fmt.Errorf("decode snapshot: %w", err)
			}
			status = m.Deployment.Status
			for _, line := range m.Deployment.Logs {
				onLine(line)
			}
		case ws.TypeLog:
			var m ws.LogMessage
			if err := json.Unmarshal(raw, &m); err != nil {
				return status, fmt.Errorf("decode log: %w", err)
			}
			status = m.Status
			onLine(m.Line)
		case ws.TypeStatus:
			var m ws.StatusMessage
			if err := json.Unmarshal(raw, &m); err != nil {
				return status, fmt.Errorf("decode status: %w", err)
			}
			status = m.Status
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e api.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Message == "" {
			e.Message = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: e.Message, Detail: e.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
