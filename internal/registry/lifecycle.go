package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/HerbHall/stbemu/pkg/plugin"
	"go.uber.org/zap"
)

// DepsFunc builds the dependencies handed to a plugin's Initialize.
type DepsFunc func(desc plugin.Descriptor) plugin.Dependencies

// Manager drives registered plugins through their lifecycle. Providers are
// always initialized before the plugins that depend on them.
type Manager struct {
	reg      *Registry
	resolver *Resolver
	logger   *zap.Logger
	depsFn   DepsFunc
	threaded bool

	mu        sync.Mutex // serializes lifecycle operations
	initOrder []*Entry
}

// Option configures a Manager.
type Option func(*Manager)

// WithThreaded runs Initialize and Deinitialize of non-GUI plugins on their
// own goroutine.
func WithThreaded(threaded bool) Option {
	return func(m *Manager) { m.threaded = threaded }
}

// WithDependencies sets the function that builds per-plugin dependencies.
func WithDependencies(fn DepsFunc) Option {
	return func(m *Manager) { m.depsFn = fn }
}

// NewManager creates a lifecycle manager over reg.
func NewManager(reg *Registry, logger *zap.Logger, opts ...Option) *Manager {
	m := &Manager{reg: reg, logger: logger}
	for _, opt := range opts {
		opt(m)
	}
	m.resolver = NewResolver(reg, logger.Named("resolver"), m.initEntry)
	return m
}

// Registry returns the registry the manager operates on.
func (m *Manager) Registry() *Registry { return m.reg }

// InitPlugin initializes the plugin registered under id, initializing its
// dependencies first. Initializing an already initialized plugin is a no-op.
// A dependency failure returns plugin.ErrDependencyMissing and leaves the
// plugin waiting; an Initialize failure disables it and returns
// plugin.ErrNotInitialized.
func (m *Manager) InitPlugin(ctx context.Context, id string) error {
	e, ok := m.reg.ByID(id)
	if !ok {
		return fmt.Errorf("init plugin %q: not registered", id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initEntry(ctx, e)
}

// InitAll initializes every registered plugin in discovery order. Plugins
// left waiting by a dependency failure are disabled. Failures never stop the
// batch; they are joined into the returned error.
func (m *Manager) InitAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, e := range m.reg.All("") {
		if !e.State().Usable() {
			continue
		}
		err := m.initEntry(ctx, e)
		if err == nil {
			continue
		}
		errs = append(errs, err)
		if isDependencyFailure(err) && e.State() == plugin.StateWaitingForDependency {
			e.fire(eventDisable)
			m.reg.publish(ctx, plugin.TopicPluginDisabled, e, err)
		}
		m.logger.Error("plugin failed to initialize",
			zap.String("plugin", e.ID()),
			zap.String("state", string(e.State())),
			zap.Error(err),
		)
	}

	m.logger.Info("plugin initialization complete",
		zap.Int("registered", len(m.reg.All(""))),
		zap.Int("initialized", len(m.initOrder)),
		zap.Int("failed", len(errs)),
	)
	return errors.Join(errs...)
}

func (m *Manager) initEntry(ctx context.Context, e *Entry) error {
	switch e.State() {
	case plugin.StateInitialized:
		return nil
	case plugin.StateDisabled, plugin.StateUnloaded:
		return fmt.Errorf("%w: %s is %s", plugin.ErrNotInitialized, e.ID(), e.State())
	}

	if !m.resolver.Enter(e.ID()) {
		return nil
	}
	defer m.resolver.Leave(e.ID())

	if len(e.Descriptor.Dependencies) > 0 {
		e.fire(eventWait)
	}
	bound, err := m.resolver.Resolve(ctx, e)
	if err != nil {
		return err
	}

	deps := m.dependencies(e, bound)
	m.logger.Info("initializing plugin", zap.String("plugin", e.ID()))
	start := time.Now()
	err = m.call(ctx, e, func(ctx context.Context) error {
		return e.Plugin.Initialize(ctx, deps)
	})
	if err != nil {
		pluginInitDuration.WithLabelValues(e.ID(), "error").Observe(time.Since(start).Seconds())
		e.fire(eventDisable)
		m.logger.Error("plugin initialize failed, disabling",
			zap.String("plugin", e.ID()),
			zap.Error(err),
		)
		m.reg.publish(ctx, plugin.TopicPluginDisabled, e, err)
		return fmt.Errorf("%w: %s: %w", plugin.ErrNotInitialized, e.ID(), err)
	}
	pluginInitDuration.WithLabelValues(e.ID(), "ok").Observe(time.Since(start).Seconds())

	e.fire(eventInit)
	m.initOrder = append(m.initOrder, e)
	m.reg.publish(ctx, plugin.TopicPluginInitialized, e, nil)
	return nil
}

// DeinitPlugin deinitializes the plugin registered under id. On success the
// plugin is unloaded; a failing Deinitialize leaves it initialized.
func (m *Manager) DeinitPlugin(ctx context.Context, id string) error {
	e, ok := m.reg.ByID(id)
	if !ok {
		return fmt.Errorf("deinit plugin %q: not registered", id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deinitEntry(ctx, e)
}

// DeinitAll deinitializes initialized plugins in reverse initialization
// order, then unloads everything else.
func (m *Manager) DeinitAll(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order := append([]*Entry(nil), m.initOrder...)
	for i := len(order) - 1; i >= 0; i-- {
		if err := m.deinitEntry(ctx, order[i]); err != nil {
			m.logger.Error("failed to deinitialize plugin",
				zap.String("plugin", order[i].ID()),
				zap.Error(err),
			)
		}
	}
	for _, e := range m.reg.All("") {
		if e.State() != plugin.StateUnloaded && e.State() != plugin.StateInitialized {
			e.fire(eventUnload)
		}
	}
}

func (m *Manager) deinitEntry(ctx context.Context, e *Entry) error {
	switch e.State() {
	case plugin.StateUnloaded:
		return nil
	case plugin.StateInitialized:
	default:
		e.fire(eventUnload)
		return nil
	}

	m.logger.Info("deinitializing plugin", zap.String("plugin", e.ID()))
	if err := m.call(ctx, e, e.Plugin.Deinitialize); err != nil {
		return fmt.Errorf("deinitialize %s: %w", e.ID(), err)
	}
	e.fire(eventUnload)
	for i, x := range m.initOrder {
		if x == e {
			m.initOrder = append(m.initOrder[:i], m.initOrder[i+1:]...)
			break
		}
	}
	m.reg.publish(ctx, plugin.TopicPluginUnloaded, e, nil)
	return nil
}

// Provider returns the first initialized plugin offering role with the
// client flag. Plugins that are not fully initialized are never returned.
func (m *Manager) Provider(role string) (*Entry, bool) {
	return m.reg.find(func(e *Entry) bool {
		return e.offers(role, plugin.FlagClient) && e.State() == plugin.StateInitialized
	})
}

// InitOrder returns the identifiers of initialized plugins in the order they
// were initialized.
func (m *Manager) InitOrder() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.initOrder))
	for _, e := range m.initOrder {
		ids = append(ids, e.ID())
	}
	return ids
}

// AllRoutes returns the HTTP routes of every initialized plugin that
// implements plugin.HTTPProvider, keyed by plugin id.
func (m *Manager) AllRoutes() map[string][]plugin.Route {
	routes := make(map[string][]plugin.Route)
	for _, e := range m.reg.All("") {
		if e.State() != plugin.StateInitialized {
			continue
		}
		if hp, ok := e.Plugin.(plugin.HTTPProvider); ok {
			if pr := hp.Routes(); len(pr) > 0 {
				routes[e.ID()] = pr
			}
		}
	}
	return routes
}

// Plugins exposes Provider through the plugin SDK's Resolver interface.
func (m *Manager) Plugins() plugin.Resolver { return providerResolver{m} }

type providerResolver struct{ m *Manager }

func (p providerResolver) Provider(role string) (plugin.Plugin, bool) {
	e, ok := p.m.Provider(role)
	if !ok {
		return nil, false
	}
	return e.Plugin, true
}

func (m *Manager) dependencies(e *Entry, bound []*Entry) plugin.Dependencies {
	var deps plugin.Dependencies
	if m.depsFn != nil {
		deps = m.depsFn(e.Descriptor)
	}
	if deps.Logger == nil {
		deps.Logger = m.logger.Named(e.ID())
	}
	if deps.Bus == nil && m.reg.bus != nil {
		deps.Bus = m.reg.bus
	}
	if deps.Plugins == nil {
		deps.Plugins = m.Plugins()
	}
	for _, b := range bound {
		deps.Resolved = append(deps.Resolved, b.ID())
	}
	return deps
}

// call runs fn inline, or on a dedicated goroutine when threaded mode is on
// and the plugin is not GUI-bound. It waits for the result either way, and a
// panic inside fn is returned as an error.
func (m *Manager) call(ctx context.Context, e *Entry, fn func(context.Context) error) error {
	if !m.threaded || e.Descriptor.HasFlag(plugin.FlagGUI) {
		return safeCall(ctx, fn)
	}
	done := make(chan error, 1)
	go func() {
		done <- safeCall(ctx, fn)
	}()
	return <-done
}

func safeCall(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("plugin panicked: %v", r)
		}
	}()
	return fn(ctx)
}
