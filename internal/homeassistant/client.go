// Package homeassistant provides clients for the Home Assistant API.
//
// The REST client covers what haconf needs from a live instance: a
// reachability probe, the platform's own configuration check, and the
// reload services. The WebSocket client exports the entity, device and
// area registries for "haconf snapshot pull".
package homeassistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nugget/haconf/internal/httpkit"
)

// DefaultURL is used when neither the config file nor HA_URL names an
// instance.
const DefaultURL = "http://homeassistant.local:8123"

// Client is a Home Assistant REST API client.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	watcher    readyChecker // set via SetWatcher for health status
	logger     *slog.Logger
}

// readyChecker is satisfied by connwatch.Watcher. Defined here to avoid
// importing connwatch directly, keeping the dependency one-directional.
type readyChecker interface {
	IsReady() bool
	LastCheck() time.Time
	LastError() error
}

// SetWatcher sets the connection watcher consulted by IsReady.
func (c *Client) SetWatcher(w readyChecker) {
	c.watcher = w
}

// IsReady reports whether Home Assistant is currently reachable.
// Returns true if no watcher is configured or the watcher has not
// finished its first check yet.
func (c *Client) IsReady() bool {
	if c.watcher == nil || c.watcher.LastCheck().IsZero() {
		return true
	}
	return c.watcher.IsReady()
}

// LastError returns the watcher's most recent check error, if any.
func (c *Client) LastError() error {
	if c.watcher == nil {
		return nil
	}
	return c.watcher.LastError()
}

// NewClient creates a new Home Assistant client. Dial failures are
// retried a few times because the instance is often mid-restart right
// after a reload. opts are applied after the defaults.
func NewClient(baseURL, token string, logger *slog.Logger, opts ...httpkit.ClientOption) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	all := append([]httpkit.ClientOption{
		httpkit.WithRetry(3, 2*time.Second),
		httpkit.WithLogger(logger),
	}, opts...)
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: httpkit.NewClient(all...),
		logger:     logger,
	}
}

// BaseURL returns the instance URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// APIStatus represents the HA API status response.
type APIStatus struct {
	Message string `json:"message"`
}

// Config is the subset of /api/config haconf reports.
type Config struct {
	LocationName string `json:"location_name"`
	Version      string `json:"version"`
	ConfigDir    string `json:"config_dir"`
	State        string `json:"state"`
}

// CheckResult is the response of the platform's configuration check.
// Errors and Warnings are newline-separated diagnostics, empty when
// there are none.
type CheckResult struct {
	Result   string `json:"result"`
	Errors   string `json:"errors"`
	Warnings string `json:"warnings"`
}

// Valid reports whether the platform accepted the configuration.
func (r *CheckResult) Valid() bool {
	return r.Result == "valid"
}

// Ping checks if the API is reachable and the token is accepted.
func (c *Client) Ping(ctx context.Context) error {
	var status APIStatus
	if err := c.get(ctx, "/api/", &status); err != nil {
		return err
	}
	if status.Message != "API running." {
		return fmt.Errorf("unexpected API status: %s", status.Message)
	}
	return nil
}

// GetConfig retrieves the instance's core configuration.
func (c *Client) GetConfig(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := c.get(ctx, "/api/config", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// CheckConfig asks the instance to validate the configuration files it
// currently has on disk.
func (c *Client) CheckConfig(ctx context.Context) (*CheckResult, error) {
	var res CheckResult
	if err := c.post(ctx, "/api/config/core/check_config", nil, &res); err != nil {
		return nil, err
	}
	if res.Result == "" {
		return nil, fmt.Errorf("check_config: empty result")
	}
	return &res, nil
}

// CallService calls a Home Assistant service.
func (c *Client) CallService(ctx context.Context, domain, service string, data map[string]any) error {
	path := fmt.Sprintf("/api/services/%s/%s", domain, service)
	c.logger.Debug("calling service", "domain", domain, "service", service)
	return c.post(ctx, path, data, nil)
}

func (c *Client) get(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return c.do(req, path, result)
}

func (c *Client) post(ctx context.Context, path string, data any, result any) error {
	var reqBody []byte
	if data != nil {
		var err error
		reqBody, err = json.Marshal(data)
		if err != nil {
			return fmt.Errorf("marshal data: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return c.do(req, path, result)
}

func (c *Client) do(req *http.Request, path string, result any) error {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	// Drain and close to ensure connection reuse even when result is nil.
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return fmt.Errorf("API error %d: %s", resp.StatusCode, strings.TrimSpace(body))
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
