// Package sse streams UPS events to HTTP clients as Server-Sent
// Events. One bus subscription per connection; dead clients are
// detected lazily from write failures, never probed.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Volteec/VolteecBackend/internal/bus"
	"github.com/Volteec/VolteecBackend/internal/metrics"
	"github.com/Volteec/VolteecBackend/internal/models"
	"github.com/Volteec/VolteecBackend/internal/repository"
)

const (
	schemaVersion     = "1.0"
	heartbeatInterval = 10 * time.Second
)

// UPSStatusPayload is the data portion of status_change and
// metrics_update frames. The outer fields shadow the embedded
// timestamps so updatedAt always reflects send time.
type UPSStatusPayload struct {
	models.UPS
	SchemaVersion string `json:"schemaVersion"`
	UpdatedAt     string `json:"updatedAt"`
}

// HeartbeatPayload is the data portion of heartbeat frames.
type HeartbeatPayload struct {
	SchemaVersion string `json:"schemaVersion"`
	Timestamp     string `json:"timestamp"`
}

// Handler serves GET /v1/events.
type Handler struct {
	bus       *bus.Bus
	repo      repository.UPSRepo
	global    *GlobalLimiter
	logger    *zap.Logger
	now       func() time.Time
	heartbeat time.Duration
}

func NewHandler(b *bus.Bus, repo repository.UPSRepo, global *GlobalLimiter, logger *zap.Logger) *Handler {
	return &Handler{
		bus:       b,
		repo:      repo,
		global:    global,
		logger:    logger,
		now:       time.Now,
		heartbeat: heartbeatInterval,
	}
}

// conn is the per-connection state. All frame writes go through
// writeFrame, serialized by mu; the first write failure closes done
// exactly once and every later write becomes a no-op.
type conn struct {
	w       http.ResponseWriter
	flusher http.Flusher
	now     func() time.Time

	mu   sync.Mutex
	dead bool
	done chan struct{}
}

func (c *conn) writeFrame(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s frame: %w", event, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dead {
		return fmt.Errorf("connection closed")
	}
	if _, err := fmt.Fprintf(c.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		c.dead = true
		close(c.done)
		return err
	}
	c.flusher.Flush()
	return nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	interval := parseRate(r.URL.Query().Get("rate"))

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	c := &conn{
		w:       w,
		flusher: flusher,
		now:     h.now,
		done:    make(chan struct{}),
	}
	perUPS := newUPSLimiter(interval)

	subID, err := h.bus.Subscribe(func(ev models.Event) {
		h.deliver(c, perUPS, ev)
	})
	if err != nil {
		// Over the subscriber cap: terminate with no frames.
		h.logger.Warn("sse subscription rejected", zap.Error(err))
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	metrics.SetSSESubscribers(h.bus.SubscriberCount())
	defer func() {
		h.bus.Unsubscribe(subID)
		metrics.SetSSESubscribers(h.bus.SubscriberCount())
	}()

	// Snapshot phase: replay the latest reading of every UPS before
	// live events.
	snapshot, err := h.repo.ListUPS(r.Context())
	if err != nil {
		h.logger.Error("sse snapshot query failed", zap.Error(err))
		return
	}
	for _, u := range snapshot {
		if err := c.writeFrame(string(models.EventMetricsUpdate), h.payload(u)); err != nil {
			return
		}
	}

	stopHeartbeat := make(chan struct{})
	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		h.heartbeatLoop(c, stopHeartbeat)
	}()
	// Join the heartbeat goroutine before returning: a frame write
	// still in flight must finish while the ResponseWriter is valid.
	defer func() {
		close(stopHeartbeat)
		<-heartbeatDone
	}()

	select {
	case <-r.Context().Done():
	case <-c.done:
	}
}

// deliver runs on a bus publish goroutine for each event.
func (h *Handler) deliver(c *conn, perUPS *upsLimiter, ev models.Event) {
	switch ev.Type {
	case models.EventStatusChange:
		// Status transitions always go out, rate limits do not apply.
		_ = c.writeFrame(string(ev.Type), h.payload(ev.UPS))
	case models.EventMetricsUpdate:
		if !perUPS.Allow(ev.UPS.UPSID, h.global.Allow) {
			return
		}
		_ = c.writeFrame(string(ev.Type), h.payload(ev.UPS))
	}
}

func (h *Handler) heartbeatLoop(c *conn, stop <-chan struct{}) {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-c.done:
			return
		case <-ticker.C:
			payload := HeartbeatPayload{
				SchemaVersion: schemaVersion,
				Timestamp:     h.now().UTC().Format(time.RFC3339),
			}
			if err := c.writeFrame("heartbeat", payload); err != nil {
				return
			}
		}
	}
}

func (h *Handler) payload(u models.UPS) UPSStatusPayload {
	return UPSStatusPayload{
		UPS:           u,
		SchemaVersion: schemaVersion,
		UpdatedAt:     h.now().UTC().Format(time.RFC3339),
	}
}
