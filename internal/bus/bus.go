// Package bus is the in-process pub/sub fabric between the poller and
// the SSE layer.
package bus

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Volteec/VolteecBackend/internal/models"
)

// MaxSubscribers bounds the subscriber map; one SSE connection holds
// one subscription, so this is also the SSE connection cap.
const MaxSubscribers = 100

// ErrSubscriberLimit is returned by Subscribe when the bus is full.
var ErrSubscriberLimit = errors.New("bus: subscriber limit exceeded")

// Callback receives one published event. It runs on a goroutine owned
// by Publish; Publish does not return until every callback has.
type Callback func(models.Event)

// Bus fans events out to at most MaxSubscribers subscribers. The
// subscriber map is mutex-serialized; Publish snapshots it under the
// lock and delivers outside it, holding a per-subscriber refcount so
// Unsubscribe can wait out in-flight deliveries.
type Bus struct {
	logger *zap.Logger

	mu   sync.Mutex
	subs map[string]*subscriber
}

type subscriber struct {
	cb Callback
	// wg tracks in-flight deliveries so Unsubscribe can block until the
	// callback will never run again.
	wg sync.WaitGroup
}

func New(logger *zap.Logger) *Bus {
	return &Bus{
		logger: logger,
		subs:   make(map[string]*subscriber),
	}
}

// Subscribe registers cb and returns an opaque subscription id.
func (b *Bus) Subscribe(cb Callback) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.subs) >= MaxSubscribers {
		return "", ErrSubscriberLimit
	}
	id := uuid.NewString()
	b.subs[id] = &subscriber{cb: cb}
	return id, nil
}

// Unsubscribe removes the subscription and waits for any delivery that
// already snapshotted it. After Unsubscribe returns the callback will
// not be invoked again. Unknown ids are a no-op.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()
	if ok {
		sub.wg.Wait()
	}
}

// Publish delivers ev to every subscriber concurrently and returns
// once all callbacks have finished. A panicking subscriber is logged
// and dropped from that publish, never crashing the caller.
func (b *Bus) Publish(ev models.Event) {
	b.mu.Lock()
	targets := make([]*subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		sub.wg.Add(1)
		targets = append(targets, sub)
	}
	b.mu.Unlock()

	var wg sync.WaitGroup
	for _, sub := range targets {
		wg.Add(1)
		go func(s *subscriber) {
			defer wg.Done()
			defer s.wg.Done()
			defer func() {
				if r := recover(); r != nil && b.logger != nil {
					b.logger.Error("event subscriber panicked", zap.Any("panic", r))
				}
			}()
			s.cb(ev)
		}(sub)
	}
	wg.Wait()
}

// SubscriberCount reports the live subscription count (metrics, tests).
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
