package homeassistant

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WSClient is a request/response client for the Home Assistant WebSocket
// API. Calls are serialized; the client never subscribes to events.
type WSClient struct {
	baseURL  string
	token    string
	logger   *slog.Logger
	insecure bool

	mu    sync.Mutex
	conn  *websocket.Conn
	msgID int64
}

// wsMessage is the generic WebSocket message format.
type wsMessage struct {
	ID        int64           `json:"id,omitempty"`
	Type      string          `json:"type"`
	Success   bool            `json:"success,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *wsError        `json:"error,omitempty"`
	HAVersion string          `json:"ha_version,omitempty"`
	Message   string          `json:"message,omitempty"`
}

type wsError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrAuthInvalid is returned by Connect when the instance rejects the
// access token.
var ErrAuthInvalid = errors.New("authentication failed")

// EntityRegistryEntry is one row of config/entity_registry/list.
type EntityRegistryEntry struct {
	EntityID     string `json:"entity_id"`
	Name         string `json:"name"`
	OriginalName string `json:"original_name"`
	AreaID       string `json:"area_id"`
	DeviceID     string `json:"device_id"`
	Platform     string `json:"platform"`
	DisabledBy   string `json:"disabled_by"`
}

// IsDisabled reports whether the entity is disabled in Home Assistant.
func (e EntityRegistryEntry) IsDisabled() bool {
	return e.DisabledBy != ""
}

// DeviceRegistryEntry is one row of config/device_registry/list.
type DeviceRegistryEntry struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	NameByUser string `json:"name_by_user"`
	AreaID     string `json:"area_id"`
}

// Area is one row of config/area_registry/list.
type Area struct {
	AreaID  string   `json:"area_id"`
	Name    string   `json:"name"`
	Aliases []string `json:"aliases"`
}

// NewWSClient creates a new WebSocket client for Home Assistant.
func NewWSClient(baseURL, token string, logger *slog.Logger) *WSClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSClient{baseURL: baseURL, token: token, logger: logger}
}

// SetInsecureSkipVerify disables certificate verification for wss URLs.
// It must be called before Connect.
func (c *WSClient) SetInsecureSkipVerify(skip bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.insecure = skip
}

// websocketURL converts the REST base URL into the WebSocket endpoint.
func websocketURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported URL scheme %q", u.Scheme)
	}
	u.Path = "/api/websocket"
	return u.String(), nil
}

// Connect establishes the WebSocket connection and authenticates.
func (c *WSClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	wsURL, err := websocketURL(c.baseURL)
	if err != nil {
		return err
	}
	c.logger.Debug("connecting to Home Assistant WebSocket", "url", wsURL)

	// The entity registry of a large installation is several megabytes.
	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
		ReadBufferSize:   1024 * 1024,
		WriteBufferSize:  64 * 1024,
	}
	if c.insecure {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // explicit opt-in
	}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial websocket: %w", err)
	}
	conn.SetReadLimit(100 * 1024 * 1024)

	stop := watchContext(ctx, conn)
	defer stop()

	var authReq wsMessage
	if err := conn.ReadJSON(&authReq); err != nil {
		conn.Close()
		return fmt.Errorf("read auth_required: %w", err)
	}
	if authReq.Type != "auth_required" {
		conn.Close()
		return fmt.Errorf("expected auth_required, got %s", authReq.Type)
	}

	if err := conn.WriteJSON(map[string]string{"type": "auth", "access_token": c.token}); err != nil {
		conn.Close()
		return fmt.Errorf("send auth: %w", err)
	}

	var authResp wsMessage
	if err := conn.ReadJSON(&authResp); err != nil {
		conn.Close()
		return fmt.Errorf("read auth response: %w", err)
	}
	switch authResp.Type {
	case "auth_ok":
	case "auth_invalid":
		conn.Close()
		return ErrAuthInvalid
	default:
		conn.Close()
		return fmt.Errorf("unexpected auth response: %s", authResp.Type)
	}

	c.logger.Debug("WebSocket authenticated", "ha_version", authResp.HAVersion)
	c.conn = conn
	return nil
}

// Close closes the WebSocket connection.
func (c *WSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// GetEntityRegistry retrieves the entity registry.
func (c *WSClient) GetEntityRegistry(ctx context.Context) ([]EntityRegistryEntry, error) {
	var entries []EntityRegistryEntry
	if err := c.call(ctx, "config/entity_registry/list", &entries); err != nil {
		return nil, fmt.Errorf("get entity registry: %w", err)
	}
	return entries, nil
}

// GetDeviceRegistry retrieves the device registry.
func (c *WSClient) GetDeviceRegistry(ctx context.Context) ([]DeviceRegistryEntry, error) {
	var entries []DeviceRegistryEntry
	if err := c.call(ctx, "config/device_registry/list", &entries); err != nil {
		return nil, fmt.Errorf("get device registry: %w", err)
	}
	return entries, nil
}

// GetAreaRegistry retrieves the area registry.
func (c *WSClient) GetAreaRegistry(ctx context.Context) ([]Area, error) {
	var areas []Area
	if err := c.call(ctx, "config/area_registry/list", &areas); err != nil {
		return nil, fmt.Errorf("get area registry: %w", err)
	}
	return areas, nil
}

// call sends a command and decodes the matching result into out.
// Messages for other ids are skipped.
func (c *WSClient) call(ctx context.Context, msgType string, out any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return errors.New("not connected")
	}
	stop := watchContext(ctx, c.conn)
	defer stop()

	c.msgID++
	id := c.msgID
	if err := c.conn.WriteJSON(map[string]any{"id": id, "type": msgType}); err != nil {
		return fmt.Errorf("send message: %w", err)
	}

	for {
		var msg wsMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read response: %w", err)
		}
		if msg.Type != "result" || msg.ID != id {
			c.logger.Debug("skipping WebSocket message", "type", msg.Type, "id", msg.ID)
			continue
		}
		if !msg.Success {
			if msg.Error != nil {
				return fmt.Errorf("%s: %s", msg.Error.Code, msg.Error.Message)
			}
			return errors.New("request failed")
		}
		if err := json.Unmarshal(msg.Result, out); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
		return nil
	}
}

// watchContext unblocks pending reads on conn when ctx is done. The
// returned func must be called once the exchange completes.
func watchContext(ctx context.Context, conn *websocket.Conn) func() {
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	} else {
		conn.SetReadDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
	})
	return func() { stop() }
}
