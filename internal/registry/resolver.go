package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/HerbHall/stbemu/pkg/plugin"
	"go.uber.org/zap"
)

// Resolver binds a plugin's declared dependencies to registered providers,
// initializing each provider first. Plugins currently being resolved are
// tracked in an explicit marker set; meeting one again means a dependency
// cycle, which is tolerated by treating the edge as satisfied.
type Resolver struct {
	reg    *Registry
	logger *zap.Logger
	init   func(ctx context.Context, e *Entry) error

	mu        sync.Mutex
	resolving map[string]bool
}

// NewResolver creates a resolver. initFn is called to initialize each
// provider before it is bound.
func NewResolver(reg *Registry, logger *zap.Logger, initFn func(ctx context.Context, e *Entry) error) *Resolver {
	return &Resolver{
		reg:       reg,
		logger:    logger,
		init:      initFn,
		resolving: make(map[string]bool),
	}
}

// Enter marks id as being resolved. It returns false when id is already on
// the resolution path.
func (r *Resolver) Enter(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.resolving[id] {
		return false
	}
	r.resolving[id] = true
	return true
}

// Leave clears the marker set by Enter.
func (r *Resolver) Leave(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.resolving, id)
}

// Resolving reports whether id is on the current resolution path.
func (r *Resolver) Resolving(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolving[id]
}

// Resolve walks e's dependencies in declaration order and returns the
// providers bound to it. The first required dependency that cannot be
// satisfied aborts with plugin.ErrDependencyMissing.
func (r *Resolver) Resolve(ctx context.Context, e *Entry) ([]*Entry, error) {
	log := r.logger.With(zap.String("plugin", e.ID()))
	var bound []*Entry

	for _, dep := range e.Descriptor.Dependencies {
		target := dep.Target()

		if r.selfDependency(e, dep) {
			log.Warn("plugin depends on itself, skipping", zap.String("dependency", target))
			continue
		}

		provider, ok := r.lookup(dep)
		if !ok {
			if dep.Required {
				return bound, fmt.Errorf("%w: %s needs %s", plugin.ErrDependencyMissing, e.ID(), target)
			}
			log.Debug("optional dependency not available", zap.String("dependency", target))
			continue
		}

		if r.Resolving(provider.ID()) {
			log.Warn("dependency cycle detected, treating edge as satisfied",
				zap.String("dependency", target),
				zap.String("provider", provider.ID()),
			)
			continue
		}

		if err := r.init(ctx, provider); err != nil {
			if dep.Required {
				return bound, fmt.Errorf("%w: %s needs %s: %w", plugin.ErrDependencyMissing, e.ID(), target, err)
			}
			log.Warn("optional dependency failed to initialize",
				zap.String("dependency", target),
				zap.String("provider", provider.ID()),
				zap.Error(err),
			)
			continue
		}
		bound = append(bound, provider)
	}
	return bound, nil
}

func (r *Resolver) selfDependency(e *Entry, dep plugin.Dependency) bool {
	return (dep.ID != "" && dep.ID == e.ID()) || (dep.Role != "" && e.Descriptor.HasRole(dep.Role))
}

func (r *Resolver) lookup(dep plugin.Dependency) (*Entry, bool) {
	if dep.ID != "" {
		e, ok := r.reg.ByID(dep.ID)
		if !ok || !e.State().Usable() {
			return nil, false
		}
		return e, true
	}
	return r.reg.ByRole(dep.Role, dep.LookupFlags())
}

// isDependencyFailure reports whether err came from Resolve rather than from
// the plugin's own Initialize.
func isDependencyFailure(err error) bool {
	return errors.Is(err, plugin.ErrDependencyMissing)
}
