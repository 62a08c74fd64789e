package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/dataengine/core/internal/domain"
)

// boundedSub pairs a subscription id with a bounded per-subscriber queue.
type boundedSub struct {
	id     uint64
	queue  chan domain.Event
	done   chan struct{}
	closed atomic.Bool
}

// BoundedBus decorates Bus with a per-subscriber bounded queue: a handler
// slower than the publish rate has events dropped rather than blocking the
// publisher or every other subscriber, per §9's "back-pressure drops slow
// subscribers after a configurable bound."
type BoundedBus struct {
	inner   domain.EventBus
	bound   int
	logger  *slog.Logger
	mu      sync.Mutex
	subs    map[uint64]*boundedSub
	nextID  atomic.Uint64
	wg      sync.WaitGroup
}

// NewBounded wraps inner so every Subscribe/SubscribeAll handler runs behind
// a queue capped at bound pending events.
func NewBounded(inner domain.EventBus, bound int, logger *slog.Logger) *BoundedBus {
	if bound <= 0 {
		bound = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BoundedBus{
		inner:  inner,
		bound:  bound,
		logger: logger,
		subs:   make(map[uint64]*boundedSub),
	}
}

func (b *BoundedBus) Publish(ctx context.Context, event domain.Event) {
	b.inner.Publish(ctx, event)
}

// Subscribe registers handler behind a bounded queue fed by the inner bus.
// Events arriving while the queue is full are dropped and logged.
func (b *BoundedBus) Subscribe(eventType domain.EventType, handler domain.EventHandler) func() {
	sub := b.newSub(handler)
	unsubInner := b.inner.Subscribe(eventType, func(ctx context.Context, e domain.Event) { b.enqueue(sub, e) })
	return b.disposer(sub, unsubInner)
}

// SubscribeAll registers handler behind a bounded queue for every event type.
func (b *BoundedBus) SubscribeAll(handler domain.EventHandler) func() {
	sub := b.newSub(handler)
	unsubInner := b.inner.SubscribeAll(func(ctx context.Context, e domain.Event) { b.enqueue(sub, e) })
	return b.disposer(sub, unsubInner)
}

func (b *BoundedBus) newSub(handler domain.EventHandler) *boundedSub {
	id := b.nextID.Add(1)
	sub := &boundedSub{id: id, queue: make(chan domain.Event, b.bound), done: make(chan struct{})}

	b.mu.Lock()
	b.subs[id] = sub
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case e := <-sub.queue:
				handler(context.Background(), e)
			case <-sub.done:
				return
			}
		}
	}()
	return sub
}

func (b *BoundedBus) enqueue(sub *boundedSub, e domain.Event) {
	if sub.closed.Load() {
		return
	}
	select {
	case sub.queue <- e:
	default:
		b.logger.Warn("event subscriber queue full, dropping event",
			"subscriber", sub.id, "event", string(e.Type))
	}
}

func (b *BoundedBus) disposer(sub *boundedSub, unsubInner func()) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			unsubInner()
			if sub.closed.CompareAndSwap(false, true) {
				close(sub.done)
			}
			b.mu.Lock()
			delete(b.subs, sub.id)
			b.mu.Unlock()
		})
	}
}

// Close stops every subscriber goroutine and closes the inner bus.
func (b *BoundedBus) Close() {
	b.mu.Lock()
	subs := make([]*boundedSub, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		if s.closed.CompareAndSwap(false, true) {
			close(s.done)
		}
	}
	b.wg.Wait()
	b.inner.Close()
}

var _ domain.EventBus = (*BoundedBus)(nil)
