// Package registry holds discovered plugins and drives them through
// dependency resolution, initialization and unload.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/HerbHall/stbemu/pkg/plugin"
	"go.uber.org/zap"
)

// Registry indexes registered plugins by identifier, role and interface
// identifier. Lookups return the first match in registration order.
type Registry struct {
	mu        sync.RWMutex
	entries   []*Entry
	byID      map[string]*Entry
	blacklist map[string]bool
	bus       plugin.EventBus
	logger    *zap.Logger
}

// New creates an empty registry. bus may be nil.
func New(logger *zap.Logger, bus plugin.EventBus) *Registry {
	return &Registry{
		byID:      make(map[string]*Entry),
		blacklist: make(map[string]bool),
		bus:       bus,
		logger:    logger,
	}
}

// Blacklist excludes ids from registration and from every lookup. Entries
// already registered under a blacklisted id and not yet initialized are
// disabled; initialized ones stay with the manager until deinitialized.
func (r *Registry) Blacklist(ids ...string) {
	var disabled []*Entry
	r.mu.Lock()
	for _, id := range ids {
		if id == "" {
			continue
		}
		r.blacklist[id] = true
		e, ok := r.byID[id]
		if !ok {
			continue
		}
		if s := e.State(); s == plugin.StateLoaded || s == plugin.StateWaitingForDependency {
			e.fire(eventDisable)
			disabled = append(disabled, e)
		}
	}
	r.mu.Unlock()

	for _, e := range disabled {
		r.logger.Info("registered plugin blacklisted, disabling", zap.String("id", e.ID()))
		r.publish(context.Background(), plugin.TopicPluginDisabled, e, plugin.ErrBlacklisted)
	}
}

// IsBlacklisted reports whether id is excluded from registration.
func (r *Registry) IsBlacklisted(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.blacklist[id]
}

// Register adds a plugin. The first plugin registered under an id wins;
// later duplicates and blacklisted ids return errors matching
// plugin.ErrDuplicateOrBlacklisted, which callers treat as non-fatal.
func (r *Registry) Register(desc plugin.Descriptor, impl plugin.Plugin) (*Entry, error) {
	if desc.ID == "" {
		return nil, plugin.ErrMissingIdentifier
	}

	r.mu.Lock()
	if r.blacklist[desc.ID] {
		r.mu.Unlock()
		r.logger.Info("plugin blacklisted, skipping", zap.String("id", desc.ID))
		return nil, fmt.Errorf("%w: %s", plugin.ErrBlacklisted, desc.ID)
	}
	if _, exists := r.byID[desc.ID]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", plugin.ErrDuplicate, desc.ID)
	}
	e, err := newEntry(desc, impl)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	r.entries = append(r.entries, e)
	r.byID[desc.ID] = e
	r.mu.Unlock()

	r.logger.Info("plugin registered",
		zap.String("id", desc.ID),
		zap.String("version", desc.Version),
		zap.String("source", desc.Source),
	)
	r.publish(context.Background(), plugin.TopicPluginDiscovered, e, nil)
	return e, nil
}

// ByID returns the entry registered under id.
func (r *Registry) ByID(id string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byID[id]
	if !ok || r.blacklist[id] {
		return nil, false
	}
	return e, true
}

// ByRole returns the first usable entry offering role with at least flags.
// Disabled and unloaded plugins are never returned.
func (r *Registry) ByRole(role string, flags plugin.Flag) (*Entry, bool) {
	return r.find(func(e *Entry) bool {
		return e.offers(role, flags) && e.State().Usable()
	})
}

// ByInterfaceID returns the first usable entry exposing iid.
func (r *Registry) ByInterfaceID(iid string) (*Entry, bool) {
	return r.find(func(e *Entry) bool {
		return e.Descriptor.InterfaceID == iid && e.State().Usable()
	})
}

// All returns entries in registration order. A non-empty role restricts the
// result to entries declaring it.
func (r *Registry) All(role string) []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		if r.blacklist[e.ID()] {
			continue
		}
		if role == "" || e.Descriptor.HasRole(role) {
			out = append(out, e)
		}
	}
	return out
}

// IDs returns the registered identifiers in registration order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		if !r.blacklist[e.ID()] {
			ids = append(ids, e.ID())
		}
	}
	return ids
}

func (r *Registry) find(match func(*Entry) bool) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if !r.blacklist[e.ID()] && match(e) {
			return e, true
		}
	}
	return nil, false
}

func (r *Registry) publish(ctx context.Context, topic string, e *Entry, err error) {
	if r.bus == nil {
		return
	}
	_ = r.bus.Publish(ctx, plugin.Event{
		Topic:     topic,
		Source:    "registry",
		Timestamp: time.Now(),
		Payload: plugin.LifecycleEvent{
			Descriptor: e.Descriptor,
			Plugin:     e.Plugin,
			State:      e.State(),
			Err:        err,
		},
	})
}
