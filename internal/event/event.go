package event

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultPoolSize  = 256
	defaultQueueSize = 1024
	defaultTimeout   = 10 * time.Second
)

type Event interface {
	Name() string
}

type Handler func(ctx context.Context, e Event) error

type delivery struct {
	ctx context.Context
	e   Event
}

// subscription is either concurrent, limited by its own pool so that a slow handler only
// slows itself, or ordered, fed by a queue drained by a single worker.
type subscription struct {
	h     Handler
	pool  chan struct{}
	queue chan delivery
}

// Bus is an in-memory event bus.
type Bus struct {
	wg      *sync.WaitGroup
	mu      sync.RWMutex
	subs    map[string][]*subscription
	ordered []*subscription
	stopped atomic.Bool
	once    sync.Once
}

// NewBus create a new event bus. Caller should call Stop for graceful shutdown the bus.
func NewBus() *Bus {
	return &Bus{
		wg:   new(sync.WaitGroup),
		subs: make(map[string][]*subscription),
	}
}

// Subscribe to an event. Events are handled concurrently, so h may see them in any order.
func (b *Bus) Subscribe(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subs[name] = append(b.subs[name], &subscription{
		h:    h,
		pool: make(chan struct{}, defaultPoolSize),
	})
}

// SubscribeOrdered subscribes h to all the named events. h gets one event at a time,
// in the order they were published.
func (b *Bus) SubscribeOrdered(h Handler, names ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := &subscription{
		h:     h,
		queue: make(chan delivery, defaultQueueSize),
	}
	for _, name := range names {
		b.subs[name] = append(b.subs[name], s)
	}
	b.ordered = append(b.ordered, s)

	go func() {
		for d := range s.queue {
			b.run(d.ctx, s.h, d.e)
			b.wg.Done()
		}
	}()
}

// Publish an event. Events published after Stop are dropped.
func (b *Bus) Publish(ctx context.Context, e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.stopped.Load() {
		slog.DebugContext(ctx, "event: bus stopped, drop event", "event", e.Name())
		return
	}

	for _, s := range b.subs[e.Name()] {
		b.dispatch(ctx, s, e)
	}
}

func (b *Bus) dispatch(ctx context.Context, s *subscription, e Event) {
	b.wg.Add(1)

	if s.queue != nil {
		s.queue <- delivery{ctx: ctx, e: e}
		return
	}

	s.pool <- struct{}{}

	go func() {
		defer func() {
			<-s.pool
			b.wg.Done()
		}()

		b.run(ctx, s.h, e)
	}()
}

// run calls h with its own deadline, detached from the publisher's cancellation.
func (b *Bus) run(ctx context.Context, h Handler, e Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "event: handler panic",
				"event", e.Name(),
				"error", fmt.Errorf("%v, stack: %s", r, debug.Stack()),
			)
		}
	}()

	if err := h(ctx, e); err != nil {
		slog.ErrorContext(ctx, "event: handle event failed",
			"event", e.Name(),
			"error", err,
		)
	}
}

// Stop rejects new events and waits for all handlers to finish, queued ones included.
func (b *Bus) Stop() {
	b.mu.Lock()
	b.stopped.Store(true)
	b.mu.Unlock()

	b.wg.Wait()

	b.once.Do(func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		for _, s := range b.ordered {
			close(s.queue)
		}
	})
}
