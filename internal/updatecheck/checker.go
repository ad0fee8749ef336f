// Package updatecheck polls Relay's /meta endpoint once a day and
// classifies how this server's protocol version stands against what
// Relay still supports.
package updatecheck

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/Volteec/VolteecBackend/internal/repository"
)

// Compatibility classifies this server against Relay's /meta answer.
type Compatibility string

const (
	CompatSupported   Compatibility = "supported"
	CompatDeprecated  Compatibility = "deprecated"
	CompatUnsupported Compatibility = "unsupported"
	CompatUnreachable Compatibility = "unreachable"
	CompatInvalid     Compatibility = "invalid"
)

const checkInterval = 24 * time.Hour

// metaResponse is the slice of /meta this checker consumes: a mapping
// from protocol version to its support state.
type metaResponse struct {
	ProtocolVersions map[string]string `json:"protocolVersions"`
}

// Notifier is the Relay fan-out surface the checker triggers on
// deprecation transitions. Nil disables notifications.
type Notifier interface {
	SendServerUpdateAvailable(ctx context.Context, devices repository.DevicesRepo)
	SendServerUpdateRequired(ctx context.Context, devices repository.DevicesRepo)
}

type Checker struct {
	http            *resty.Client
	protocolVersion string
	notifier        Notifier
	devices         repository.DevicesRepo
	logger          *zap.Logger

	mu    sync.Mutex
	state Compatibility
}

func NewChecker(relayBaseURL, protocolVersion string, notifier Notifier, devices repository.DevicesRepo, logger *zap.Logger) *Checker {
	httpClient := resty.New().
		SetBaseURL(relayBaseURL).
		SetTimeout(15 * time.Second).
		SetHeader("Accept", "application/json")
	return &Checker{
		http:            httpClient,
		protocolVersion: protocolVersion,
		notifier:        notifier,
		devices:         devices,
		logger:          logger,
		state:           CompatUnreachable,
	}
}

// State returns the latest classification, for GET /v1/status.
func (c *Checker) State() Compatibility {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Run checks immediately, then daily, until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	c.checkOnce(ctx)
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.checkOnce(ctx)
		}
	}
}

func (c *Checker) checkOnce(ctx context.Context) {
	next := c.classify(ctx)

	c.mu.Lock()
	prev := c.state
	c.state = next
	c.mu.Unlock()

	if prev == next {
		return
	}
	c.logger.Info("relay compatibility changed",
		zap.String("from", string(prev)),
		zap.String("to", string(next)),
	)
	if c.notifier == nil {
		return
	}
	// Tell registered devices once per transition, not once per day.
	switch next {
	case CompatDeprecated:
		c.notifier.SendServerUpdateAvailable(ctx, c.devices)
	case CompatUnsupported:
		c.notifier.SendServerUpdateRequired(ctx, c.devices)
	}
}

func (c *Checker) classify(ctx context.Context) Compatibility {
	resp, err := c.http.R().SetContext(ctx).Get("/meta")
	if err != nil {
		c.logger.Warn("relay meta fetch failed", zap.Error(err))
		return CompatUnreachable
	}
	if !resp.IsSuccess() {
		c.logger.Warn("relay meta fetch rejected", zap.Int("status", resp.StatusCode()))
		return CompatUnreachable
	}

	var meta metaResponse
	if err := json.Unmarshal(resp.Body(), &meta); err != nil || len(meta.ProtocolVersions) == 0 {
		return CompatInvalid
	}
	support, ok := meta.ProtocolVersions[c.protocolVersion]
	if !ok {
		return CompatUnsupported
	}
	if support == "deprecated" {
		return CompatDeprecated
	}
	return CompatSupported
}
