// Package relay implements the push fan-out client: HMAC-signed JSON
// POSTs to the Relay service's /event, /heartbeat and /pair endpoints.
package relay

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Volteec/VolteecBackend/internal/config"
	"github.com/Volteec/VolteecBackend/internal/metrics"
	"github.com/Volteec/VolteecBackend/internal/repository"
)

// Event types understood by Relay.
const (
	EventUPSStatusChange       = "ups_status_change"
	EventBatteryLow            = "battery_low"
	EventServerUpdateRequired  = "server_update_required"
	EventServerUpdateAvailable = "server_update_available"
)

const (
	attemptTimeout = 15 * time.Second
	retryDelay     = 2 * time.Second
	eventAttempts  = 2
)

// Event is one push event as the poller hands it over.
type Event struct {
	Type           string
	Status         string
	UPSID          string
	Environment    string
	Timestamp      int64
	BatteryLevel   *int
	InstallationID *string
}

// eventBody is the wire format; Relay requires camelCase keys.
type eventBody struct {
	TenantID       string  `json:"tenantId"`
	EventID        string  `json:"eventId"`
	EventType      string  `json:"eventType"`
	Timestamp      int64   `json:"timestamp"`
	Environment    string  `json:"environment"`
	UPSID          *string `json:"upsId,omitempty"`
	Status         *string `json:"status,omitempty"`
	ServerID       *string `json:"serverId,omitempty"`
	BatteryLevel   *int    `json:"batteryLevel,omitempty"`
	InstallationID *string `json:"installationId,omitempty"`
}

type heartbeatBody struct {
	TenantID  string `json:"tenantId"`
	ServerID  string `json:"serverId"`
	Timestamp int64  `json:"timestamp"`
}

type pairBody struct {
	TenantID  string `json:"tenantId"`
	ServerID  string `json:"serverId"`
	PairCode  string `json:"pairCode"`
	Timestamp int64  `json:"timestamp"`
}

// Client talks to one Relay tenant. All sends except CreatePairCode are
// log-and-drop; callers fire them on their own goroutines.
type Client struct {
	cfg    config.RelayConfig
	http   *resty.Client
	logger *zap.Logger
	now    func() time.Time
}

func NewClient(cfg config.RelayConfig, logger *zap.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(attemptTimeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{
		cfg:    cfg,
		http:   httpClient,
		logger: logger,
		now:    time.Now,
	}
}

// Environment returns the configured APNs environment (sandbox or
// production).
func (c *Client) Environment() string {
	return c.cfg.Environment
}

// BaseURL returns the Relay endpoint, for the pairing response body.
func (c *Client) BaseURL() string {
	return c.cfg.BaseURL
}

// ServerID returns this server's Relay identity.
func (c *Client) ServerID() string {
	return c.cfg.ServerID
}

// SendEvent pushes one event with one retry. Errors are logged, never
// surfaced: the caller has already moved on.
func (c *Client) SendEvent(ctx context.Context, ev Event) {
	body := eventBody{
		TenantID:    c.cfg.TenantID,
		EventID:     uuid.NewString(),
		EventType:   ev.Type,
		Timestamp:   ev.Timestamp,
		Environment: ev.Environment,
		ServerID:    &c.cfg.ServerID,
	}
	if ev.UPSID != "" {
		body.UPSID = &ev.UPSID
	}
	if ev.Status != "" {
		body.Status = &ev.Status
	}
	body.BatteryLevel = ev.BatteryLevel
	body.InstallationID = ev.InstallationID

	var lastErr error
	for attempt := 1; attempt <= eventAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(retryDelay):
			}
		}
		resp, err := c.post(ctx, "/event", body)
		if err == nil && resp.IsSuccess() {
			metrics.ObserveRelayRequest("event", true)
			return
		}
		lastErr = requestError(resp, err)
	}
	metrics.ObserveRelayRequest("event", false)
	c.logger.Error("relay event dropped after retries",
		zap.String("event_type", ev.Type),
		zap.String("ups_id", ev.UPSID),
		zap.Error(lastErr),
	)
}

// SendHeartbeat tells Relay this server is alive. No retry; a missed
// heartbeat costs nothing.
func (c *Client) SendHeartbeat(ctx context.Context, ts int64) {
	body := heartbeatBody{
		TenantID:  c.cfg.TenantID,
		ServerID:  c.cfg.ServerID,
		Timestamp: ts,
	}
	resp, err := c.post(ctx, "/heartbeat", body)
	if err != nil || !resp.IsSuccess() {
		metrics.ObserveRelayRequest("heartbeat", false)
		c.logger.Warn("relay heartbeat failed", zap.Error(requestError(resp, err)))
		return
	}
	metrics.ObserveRelayRequest("heartbeat", true)
}

// CreatePairCode registers a fresh pairing code with Relay. Unlike the
// other sends this propagates failure: the HTTP caller turns it into a
// 502.
func (c *Client) CreatePairCode(ctx context.Context, code string, ts int64) error {
	body := pairBody{
		TenantID:  c.cfg.TenantID,
		ServerID:  c.cfg.ServerID,
		PairCode:  code,
		Timestamp: ts,
	}
	resp, err := c.post(ctx, "/pair", body)
	if err != nil {
		metrics.ObserveRelayRequest("pair", false)
		return fmt.Errorf("relay pair request failed: %w", err)
	}
	if !resp.IsSuccess() {
		metrics.ObserveRelayRequest("pair", false)
		return fmt.Errorf("relay pair request rejected: status %d", resp.StatusCode())
	}
	metrics.ObserveRelayRequest("pair", true)
	return nil
}

// SendServerUpdateRequired broadcasts an update-required event to both
// environments when at least one device is registered locally.
func (c *Client) SendServerUpdateRequired(ctx context.Context, devices repository.DevicesRepo) {
	c.broadcast(ctx, devices, EventServerUpdateRequired)
}

// SendServerUpdateAvailable is the softer sibling of
// SendServerUpdateRequired.
func (c *Client) SendServerUpdateAvailable(ctx context.Context, devices repository.DevicesRepo) {
	c.broadcast(ctx, devices, EventServerUpdateAvailable)
}

func (c *Client) broadcast(ctx context.Context, devices repository.DevicesRepo, eventType string) {
	n, err := devices.CountDevices(ctx)
	if err != nil {
		c.logger.Error("relay broadcast skipped: device count failed", zap.Error(err))
		return
	}
	if n == 0 {
		return
	}
	ts := c.now().Unix()
	// Tenant-level broadcast: no ups_id, no installation, both
	// environments so every registered device is reachable.
	for _, env := range []string{"sandbox", "production"} {
		c.SendEvent(ctx, Event{
			Type:        eventType,
			Environment: env,
			Timestamp:   ts,
		})
	}
}

// post signs and sends one request. The signature covers the exact
// bytes on the wire, so the body is marshalled here, once.
func (c *Client) post(ctx context.Context, path string, body any) (*resty.Response, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal relay body: %w", err)
	}
	ts := strconv.FormatInt(c.now().Unix(), 10)
	nonce := uuid.NewString()

	attemptCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
	defer cancel()

	return c.http.R().
		SetContext(attemptCtx).
		SetHeader("X-Request-ID", uuid.NewString()).
		SetHeader("X-Volteec-Timestamp", ts).
		SetHeader("X-Volteec-Nonce", nonce).
		SetHeader("X-Volteec-Signature", Sign(c.cfg.Secret, ts, nonce, raw)).
		SetBody(raw).
		Post(path)
}

// Sign computes the hex HMAC-SHA256 over "<timestamp>\n<nonce>\n<body>".
func Sign(secret, timestamp, nonce string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte{'\n'})
	mac.Write([]byte(nonce))
	mac.Write([]byte{'\n'})
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature the way Relay would. Used by tests and the
// simulate-push path.
func Verify(secret, timestamp, nonce string, body []byte, signature string) bool {
	expected := Sign(secret, timestamp, nonce, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}

func requestError(resp *resty.Response, err error) error {
	if err != nil {
		return err
	}
	if resp != nil {
		return fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String())
	}
	return fmt.Errorf("no response")
}
