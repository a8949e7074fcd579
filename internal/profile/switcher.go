package profile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/HerbHall/stbemu/internal/settings"
	"github.com/HerbHall/stbemu/pkg/plugin"
	"github.com/HerbHall/stbemu/pkg/roles"
	"go.uber.org/zap"
)

// KeymapLoader applies a class's key bindings to the browser.
type KeymapLoader interface {
	Load(classID string, browser roles.Browser) error
}

// Switcher owns the active profile and the navigation stack of previously
// active profiles. Once the stack is non-empty its top is the active profile.
type Switcher struct {
	store    *Store
	plugins  plugin.Resolver
	keymaps  KeymapLoader
	settings settings.Repository
	bus      plugin.Publisher
	logger   *zap.Logger

	switchMu sync.Mutex // one switch at a time

	mu     sync.RWMutex
	active *Profile
	stack  []*Profile
}

// SwitcherOption configures a Switcher.
type SwitcherOption func(*Switcher)

// WithKeymaps sets the keymap loader run on every switch.
func WithKeymaps(k KeymapLoader) SwitcherOption {
	return func(s *Switcher) { s.keymaps = k }
}

// WithSettings persists the active profile identifier.
func WithSettings(r settings.Repository) SwitcherOption {
	return func(s *Switcher) { s.settings = r }
}

// WithBus publishes profile.changed after every successful switch.
func WithBus(bus plugin.Publisher) SwitcherOption {
	return func(s *Switcher) { s.bus = bus }
}

// NewSwitcher creates a switcher over store. plugins locates the browser,
// media player and statistics collaborators at switch time.
func NewSwitcher(store *Store, plugins plugin.Resolver, logger *zap.Logger, opts ...SwitcherOption) *Switcher {
	s := &Switcher{store: store, plugins: plugins, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Active returns the active profile, or nil before the first switch.
func (s *Switcher) Active() *Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Stack returns a copy of the navigation stack, oldest first.
func (s *Switcher) Stack() []*Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*Profile(nil), s.stack...)
}

// CanGoBack reports whether there is a previous profile to return to.
func (s *Switcher) CanGoBack() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.stack) > 1
}

// SetActive makes p the active profile. The previous profile is stopped
// first; a p that is not in the store is rejected with ErrProfileNotFound.
// Every later step runs even when an earlier one fails or its collaborator
// is missing; only the rejection is returned as an error.
func (s *Switcher) SetActive(ctx context.Context, p *Profile) error {
	s.switchMu.Lock()
	defer s.switchMu.Unlock()
	return s.activate(ctx, p, -1)
}

// activate runs the switch sequence. On success the stack is cut to its
// first keep entries (all of them when keep < 0) and p is pushed; a
// rejected switch leaves the stack untouched. Callers hold switchMu.
func (s *Switcher) activate(ctx context.Context, p *Profile, keep int) error {
	if old := s.Active(); old != nil {
		if err := old.Stop(ctx); err != nil {
			s.logger.Warn("failed to stop profile", zap.String("id", old.ID), zap.Error(err))
		}
	}

	if p == nil || !s.store.Contains(p) {
		id := "<nil>"
		if p != nil {
			id = p.ID
		}
		s.logger.Warn("refusing to activate unknown profile", zap.String("id", id))
		profileSwitches.WithLabelValues("unknown", "rejected").Inc()
		return fmt.Errorf("%w: %s", plugin.ErrProfileNotFound, id)
	}

	s.mu.Lock()
	s.active = p
	s.mu.Unlock()
	log := s.logger.With(zap.String("id", p.ID), zap.String("name", p.Name))
	log.Info("activating profile")

	if s.settings != nil {
		if err := s.settings.Set(ctx, settings.KeyActiveProfile, p.ID); err != nil {
			log.Warn("failed to persist active profile", zap.Error(err))
		}
	}

	browser := s.browser()
	if browser != nil {
		browser.ResetPrimarySurface()
		if page := browser.FirstPage(); page != nil {
			page.Reset()
			if err := p.Provider.InitPage(page, p.ID); err != nil {
				log.Warn("failed to initialize page", zap.Error(err))
			}
		} else {
			log.Debug("browser has no page yet")
		}
	} else {
		log.Debug("no browser found")
	}

	if s.keymaps != nil && browser != nil {
		if err := s.keymaps.Load(p.ClassID, browser); err != nil {
			log.Warn("failed to load keymap", zap.Error(err))
		}
	}

	if stats, ok := lookup[roles.Statistics](s.plugins, roles.RoleStatistics); ok {
		stats.Reset()
	}

	if err := p.Start(ctx); err != nil {
		log.Warn("failed to start profile", zap.Error(err))
	}

	if player, ok := lookup[roles.MediaPlayer](s.plugins, roles.RoleMediaPlayer); ok && player.IsInitialized() {
		if err := player.Stop(); err != nil {
			log.Warn("failed to stop media player", zap.Error(err))
		}
	} else {
		log.Debug("no initialized media player found")
	}

	s.mu.Lock()
	if keep >= 0 && keep < len(s.stack) {
		s.stack = s.stack[:keep]
	}
	s.stack = append(s.stack, p)
	s.mu.Unlock()

	profileSwitches.WithLabelValues(p.ClassID, "ok").Inc()
	if s.bus != nil {
		_ = s.bus.Publish(ctx, plugin.Event{
			Topic:     plugin.TopicProfileChanged,
			Source:    "profile",
			Timestamp: time.Now(),
			Payload:   Event{Profile: p},
		})
	}
	return nil
}

// BackToPrevious returns to the profile active before the current one and
// reports whether a switch happened. With a single entry on the stack the
// current profile is returned and nothing changes.
func (s *Switcher) BackToPrevious(ctx context.Context) (*Profile, bool) {
	s.switchMu.Lock()
	defer s.switchMu.Unlock()

	s.mu.Lock()
	switch len(s.stack) {
	case 0:
		s.mu.Unlock()
		return nil, false
	case 1:
		current := s.stack[0]
		s.mu.Unlock()
		return current, false
	}
	n := len(s.stack)
	target := s.stack[n-2]
	s.mu.Unlock()

	if err := s.activate(ctx, target, n-2); err != nil {
		return target, false
	}
	return target, true
}

// BackToMain truncates the stack to its oldest entry and re-activates it.
func (s *Switcher) BackToMain(ctx context.Context) error {
	s.switchMu.Lock()
	defer s.switchMu.Unlock()

	s.mu.Lock()
	if len(s.stack) == 0 {
		s.mu.Unlock()
		return nil
	}
	first := s.stack[0]
	s.mu.Unlock()

	return s.activate(ctx, first, 0)
}

// Remove deletes p unless it is active. Stale stack entries for p are
// dropped so back-navigation never lands on a removed profile.
func (s *Switcher) Remove(ctx context.Context, p *Profile) bool {
	return s.Delete(ctx, p) == nil
}

// Delete is Remove with the reason for a refusal: ErrProfileActive when p is
// the active profile, ErrProfileNotFound when it is not in the store. The
// active check and the removal happen under the switch lock.
func (s *Switcher) Delete(ctx context.Context, p *Profile) error {
	s.switchMu.Lock()
	defer s.switchMu.Unlock()

	if p == nil || !s.store.Contains(p) {
		return plugin.ErrProfileNotFound
	}
	if p == s.Active() {
		return fmt.Errorf("%w: %s", plugin.ErrProfileActive, p.Name)
	}
	if !s.store.Remove(ctx, p) {
		return fmt.Errorf("remove profile %s: descriptor could not be deleted", p.ID)
	}
	s.mu.Lock()
	kept := s.stack[:0]
	for _, x := range s.stack {
		if x != p {
			kept = append(kept, x)
		}
	}
	s.stack = kept
	s.mu.Unlock()
	return nil
}

// RestoreActive activates the profile recorded in the active_profile
// setting, falling back to the first known profile.
func (s *Switcher) RestoreActive(ctx context.Context) (*Profile, error) {
	var target *Profile
	if s.settings != nil {
		if id := settings.GetString(ctx, s.settings, settings.KeyActiveProfile, ""); id != "" {
			if p, ok := s.store.FindByID(id); ok {
				target = p
			} else {
				s.logger.Warn("persisted active profile not found", zap.String("id", id))
			}
		}
	}
	if target == nil {
		all := s.store.Profiles()
		if len(all) == 0 {
			return nil, plugin.ErrProfileNotFound
		}
		target = all[0]
	}
	if err := s.SetActive(ctx, target); err != nil {
		return nil, err
	}
	return target, nil
}

func (s *Switcher) browser() roles.Browser {
	b, _ := lookup[roles.Browser](s.plugins, roles.RoleBrowser)
	return b
}

// lookup finds the initialized provider of role and asserts its capability.
func lookup[T any](plugins plugin.Resolver, role string) (T, bool) {
	var zero T
	if plugins == nil {
		return zero, false
	}
	p, ok := plugins.Provider(role)
	if !ok {
		return zero, false
	}
	c, ok := p.(T)
	return c, ok
}
