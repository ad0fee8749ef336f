// Package poller runs the NUT polling loop: fetch, map, persist,
// publish, push. One Poller instance per process; it is the only
// writer of the ups table and of its own lastStatus map.
package poller

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Volteec/VolteecBackend/internal/bus"
	"github.com/Volteec/VolteecBackend/internal/config"
	"github.com/Volteec/VolteecBackend/internal/metrics"
	"github.com/Volteec/VolteecBackend/internal/models"
	"github.com/Volteec/VolteecBackend/internal/nut"
	"github.com/Volteec/VolteecBackend/internal/relay"
	"github.com/Volteec/VolteecBackend/internal/repository"
	"github.com/Volteec/VolteecBackend/internal/store"
)

// fetchRetryDelays are the waits before each NUT attempt within a
// single poll: try immediately, then after 1 s, then after 2 s.
var fetchRetryDelays = []time.Duration{0, time.Second, 2 * time.Second}

const heartbeatInterval = 60 * time.Second

// Fetcher is the slice of the NUT client the poller needs.
type Fetcher interface {
	Connect(ctx context.Context) error
	Disconnect()
	FetchVariables(ctx context.Context, upsName string) (map[string]string, error)
}

// RelaySender is the slice of the Relay client the poller needs. It is
// nil when Relay is not configured.
type RelaySender interface {
	SendEvent(ctx context.Context, ev relay.Event)
	SendHeartbeat(ctx context.Context, ts int64)
	Environment() string
}

type Poller struct {
	cfg    config.NUTConfig
	client Fetcher
	repo   repository.UPSRepo
	bus    *bus.Bus
	relay  RelaySender // nil allowed
	mirror store.SnapshotMirror
	logger *zap.Logger

	// lastStatus is the authoritative previous status per ups_id for
	// change detection during this poller's lifetime. Single-writer:
	// only the poll loop touches it.
	lastStatus map[string]models.UPSStatus

	lastHeartbeat time.Time
	now           func() time.Time
	sleep         func(ctx context.Context, d time.Duration) bool
}

func New(cfg config.NUTConfig, client Fetcher, repo repository.UPSRepo, b *bus.Bus, rs RelaySender, mirror store.SnapshotMirror, logger *zap.Logger) *Poller {
	return &Poller{
		cfg:        cfg,
		client:     client,
		repo:       repo,
		bus:        b,
		relay:      rs,
		mirror:     mirror,
		logger:     logger,
		lastStatus: make(map[string]models.UPSStatus),
		now:        time.Now,
		sleep:      sleepCtx,
	}
}

// Run blocks until ctx is cancelled. Each cycle sleeps first (no eager
// poll at startup), then polls every configured UPS sequentially.
func (p *Poller) Run(ctx context.Context) {
	interval := time.Duration(p.cfg.PollInterval * float64(time.Second))
	if interval <= 0 {
		interval = time.Second
	}
	p.logger.Info("poller started",
		zap.Strings("ups", p.cfg.UPSNames),
		zap.Duration("interval", interval),
	)

	var running atomic.Bool
	var cycles sync.WaitGroup
	for {
		if !p.sleep(ctx, interval) {
			cycles.Wait()
			p.logger.Info("poller stopped")
			return
		}
		if !running.CompareAndSwap(false, true) {
			// The previous cycle has not finished; never overlap polls.
			p.logger.Warn("poll cycle still running, skipping")
			continue
		}
		cycles.Add(1)
		go func() {
			defer cycles.Done()
			defer running.Store(false)
			p.pollCycle(ctx)
		}()
	}
}

func (p *Poller) pollCycle(ctx context.Context) {
	for _, name := range p.cfg.UPSNames {
		if ctx.Err() != nil {
			return
		}
		p.pollOne(ctx, name)
	}
	p.maybeHeartbeat(ctx)
}

// pollOne performs one complete poll of a single UPS, including the
// per-poll retry ladder and all downstream effects.
func (p *Poller) pollOne(ctx context.Context, upsName string) {
	started := p.now()
	vars, err := p.fetchWithRetry(ctx, upsName)
	metrics.ObservePoll(p.now().Sub(started), err == nil)
	if err != nil {
		p.handleFetchFailure(ctx, upsName, err)
		return
	}

	snap := nut.MapVariables(upsName, vars)
	stored, repoPrev, err := p.repo.Upsert(ctx, snap)
	if err != nil {
		p.logger.Error("failed to persist snapshot", zap.String("ups_id", snap.UPSID), zap.Error(err))
		return
	}
	metrics.SetUPSStatus(stored.UPSID, stored.Status)
	p.mirrorSnapshot(ctx, stored)

	// The in-memory map wins over the DB-derived previous status: the
	// row was already rewritten above, so the map carries the value
	// observed on the previous cycle.
	prev, seen := p.lastStatus[stored.UPSID]
	if !seen {
		if repoPrev != nil {
			prev = *repoPrev
			seen = true
		}
	}
	p.lastStatus[stored.UPSID] = stored.Status

	if seen && prev != stored.Status {
		p.publishStatusChange(ctx, stored)
	} else if !seen {
		// First observation ever: no transition to report.
		p.logger.Info("ups discovered",
			zap.String("ups_id", stored.UPSID),
			zap.String("status", string(stored.Status)),
		)
	}
	p.bus.Publish(models.Event{
		Type:          models.EventMetricsUpdate,
		UPS:           stored,
		HasLowBattery: stored.HasLowBattery(),
	})
}

// fetchWithRetry runs the 3-attempt ladder with a fresh connection per
// attempt.
func (p *Poller) fetchWithRetry(ctx context.Context, upsName string) (map[string]string, error) {
	var lastErr error
	for attempt, delay := range fetchRetryDelays {
		if delay > 0 && !p.sleep(ctx, delay) {
			return nil, ctx.Err()
		}
		vars, err := p.fetchOnce(ctx, upsName)
		if err == nil {
			return vars, nil
		}
		lastErr = err
		p.logger.Warn("nut fetch attempt failed",
			zap.String("ups", upsName),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		if ctx.Err() != nil {
			return nil, lastErr
		}
	}
	return nil, lastErr
}

func (p *Poller) fetchOnce(ctx context.Context, upsName string) (map[string]string, error) {
	if err := p.client.Connect(ctx); err != nil {
		return nil, err
	}
	defer p.client.Disconnect()
	return p.client.FetchVariables(ctx, upsName)
}

// handleFetchFailure records the failed poll and, when the failure
// count crosses the offline threshold, emits the transition.
func (p *Poller) handleFetchFailure(ctx context.Context, upsName string, fetchErr error) {
	upsID := strings.ToLower(upsName)
	stored, _, changed, err := p.repo.RegisterFailure(ctx, upsID)
	if err != nil {
		p.logger.Error("failed to register poll failure", zap.String("ups_id", upsID), zap.Error(err))
		return
	}
	if stored == nil {
		// Never successfully polled; nothing persisted to demote.
		p.logger.Warn("nut fetch failed for unknown ups",
			zap.String("ups", upsName), zap.Error(fetchErr))
		return
	}
	p.logger.Warn("nut fetch failed",
		zap.String("ups_id", upsID),
		zap.Int("consecutive_failures", stored.ConsecutiveFailures),
		zap.Error(fetchErr),
	)
	if !changed {
		return
	}
	metrics.SetUPSStatus(stored.UPSID, stored.Status)
	p.lastStatus[stored.UPSID] = stored.Status
	p.mirrorSnapshot(ctx, *stored)
	p.publishStatusChange(ctx, *stored)
}

// publishStatusChange emits the bus event and fires the Relay push.
func (p *Poller) publishStatusChange(ctx context.Context, u models.UPS) {
	p.logger.Info("ups status changed",
		zap.String("ups_id", u.UPSID),
		zap.String("status", string(u.Status)),
	)
	p.bus.Publish(models.Event{
		Type:          models.EventStatusChange,
		UPS:           u,
		HasLowBattery: u.HasLowBattery(),
	})

	if p.relay == nil {
		return
	}
	eventType := relay.EventUPSStatusChange
	if u.HasLowBattery() {
		eventType = relay.EventBatteryLow
	}
	ev := relay.Event{
		Type:         eventType,
		Status:       string(u.Status),
		UPSID:        u.UPSID,
		Environment:  p.relay.Environment(),
		Timestamp:    p.now().Unix(),
		BatteryLevel: u.BatteryPercent,
	}
	// Fire and forget: the poll loop never blocks on Relay.
	go p.relay.SendEvent(context.WithoutCancel(ctx), ev)
}

func (p *Poller) maybeHeartbeat(ctx context.Context) {
	if p.relay == nil {
		return
	}
	if now := p.now(); now.Sub(p.lastHeartbeat) >= heartbeatInterval {
		p.lastHeartbeat = now
		go p.relay.SendHeartbeat(context.WithoutCancel(ctx), now.Unix())
	}
}

func (p *Poller) mirrorSnapshot(ctx context.Context, u models.UPS) {
	if p.mirror == nil {
		return
	}
	if err := p.mirror.StoreSnapshot(ctx, u); err != nil {
		p.logger.Warn("snapshot mirror write failed", zap.String("ups_id", u.UPSID), zap.Error(err))
	}
}

// sleepCtx waits d or until ctx is done; returns false on cancel.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
