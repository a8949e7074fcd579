// Package event provides an in-memory implementation of the plugin.EventBus interface.
package event

import (
	"context"
	"strings"
	"sync"

	"github.com/HerbHall/stbemu/pkg/plugin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Compile-time interface guard.
var _ plugin.EventBus = (*Bus)(nil)

var eventsPublished = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "stbemu_events_published_total",
		Help: "Events published on the in-process bus.",
	},
	[]string{"topic"},
)

func init() {
	prometheus.MustRegister(eventsPublished)
}

// Bus is an in-memory event bus implementing plugin.EventBus.
// Publish is synchronous: handlers run in the caller's goroutine, in
// subscription order, so an event is fully delivered before Publish returns.
// PublishAsync dispatches handlers in separate goroutines.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]handlerEntry // topic -> handlers
	prefixed []prefixEntry             // handlers matching a topic prefix
	allSubs  []handlerEntry            // handlers subscribed to all topics
	nextID   uint64
	logger   *zap.Logger
}

type handlerEntry struct {
	id      uint64
	handler plugin.EventHandler
}

type prefixEntry struct {
	handlerEntry
	prefix string
}

// NewBus creates a new in-memory event bus.
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		handlers: make(map[string][]handlerEntry),
		logger:   logger,
	}
}

// Publish dispatches an event synchronously to all matching handlers.
func (b *Bus) Publish(ctx context.Context, event plugin.Event) error {
	for _, h := range b.match(event.Topic) {
		b.safeCall(ctx, h.handler, event)
	}
	return nil
}

// PublishAsync dispatches an event asynchronously to all matching handlers.
func (b *Bus) PublishAsync(ctx context.Context, event plugin.Event) {
	for _, h := range b.match(event.Topic) {
		go b.safeCall(ctx, h.handler, event)
	}
}

// match snapshots the handlers for topic: exact subscribers, then prefix
// subscribers, then catch-all subscribers.
func (b *Bus) match(topic string) []handlerEntry {
	eventsPublished.WithLabelValues(topic).Inc()

	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]handlerEntry, 0, len(b.handlers[topic])+len(b.prefixed)+len(b.allSubs))
	out = append(out, b.handlers[topic]...)
	for _, p := range b.prefixed {
		if strings.HasPrefix(topic, p.prefix) {
			out = append(out, p.handlerEntry)
		}
	}
	return append(out, b.allSubs...)
}

// Subscribe registers a handler for a specific topic. Returns an unsubscribe function.
func (b *Bus) Subscribe(topic string, handler plugin.EventHandler) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[topic] = append(b.handlers[topic], handlerEntry{id: id, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		entries := b.handlers[topic]
		for i, e := range entries {
			if e.id == id {
				b.handlers[topic] = append(entries[:i], entries[i+1:]...)
				return
			}
		}
	}
}

// SubscribePrefix registers a handler for every topic starting with prefix,
// e.g. "profile." for all profile notifications.
func (b *Bus) SubscribePrefix(prefix string, handler plugin.EventHandler) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.prefixed = append(b.prefixed, prefixEntry{handlerEntry{id: id, handler: handler}, prefix})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, e := range b.prefixed {
			if e.id == id {
				b.prefixed = append(b.prefixed[:i], b.prefixed[i+1:]...)
				return
			}
		}
	}
}

// SubscribeAll registers a handler for all topics. Returns an unsubscribe function.
func (b *Bus) SubscribeAll(handler plugin.EventHandler) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.allSubs = append(b.allSubs, handlerEntry{id: id, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, e := range b.allSubs {
			if e.id == id {
				b.allSubs = append(b.allSubs[:i], b.allSubs[i+1:]...)
				return
			}
		}
	}
}

func (b *Bus) safeCall(ctx context.Context, handler plugin.EventHandler, event plugin.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("topic", event.Topic),
				zap.String("source", event.Source),
				zap.Any("panic", r),
			)
		}
	}()
	handler(ctx, event)
}
