package profile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/HerbHall/stbemu/pkg/plugin"
	"github.com/HerbHall/stbemu/pkg/roles"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/ini.v1"
)

const descriptorGroup = "profile"

// Store keeps the known profile set and the class registry mapping class
// identifiers to the STB API plugin that owns them.
type Store struct {
	plugins plugin.Resolver
	bus     plugin.Publisher
	logger  *zap.Logger

	mu       sync.RWMutex
	dir      string
	profiles []*Profile
	classes  map[string]roles.StbAPIProvider
	order    []string // class registration order
}

// NewStore creates a store rooted at dir. plugins locates the datasource
// provider; bus may be nil.
func NewStore(dir string, plugins plugin.Resolver, bus plugin.Publisher, logger *zap.Logger) *Store {
	return &Store{
		dir:     dir,
		plugins: plugins,
		bus:     bus,
		logger:  logger,
		classes: make(map[string]roles.StbAPIProvider),
	}
}

// Dir returns the profiles directory.
func (s *Store) Dir() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dir
}

// Attach subscribes the store to plugin lifecycle events: discovered STB API
// plugins register their class, disabled or unloaded ones withdraw it.
// The returned function detaches.
func (s *Store) Attach(sub plugin.Subscriber) (detach func()) {
	unsubs := []func(){
		sub.Subscribe(plugin.TopicPluginDiscovered, func(_ context.Context, ev plugin.Event) {
			le, ok := ev.Payload.(plugin.LifecycleEvent)
			if !ok {
				return
			}
			if api, ok := le.Plugin.(roles.StbAPIProvider); ok {
				s.RegisterClass(api.ProfileClassID(), api)
			}
		}),
	}
	withdraw := func(_ context.Context, ev plugin.Event) {
		le, ok := ev.Payload.(plugin.LifecycleEvent)
		if !ok {
			return
		}
		if api, ok := le.Plugin.(roles.StbAPIProvider); ok {
			s.unregisterClass(api.ProfileClassID(), api)
		}
	}
	unsubs = append(unsubs,
		sub.Subscribe(plugin.TopicPluginDisabled, withdraw),
		sub.Subscribe(plugin.TopicPluginUnloaded, withdraw),
	)
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// RegisterClass binds classID to provider. The first registration wins.
func (s *Store) RegisterClass(classID string, provider roles.StbAPIProvider) bool {
	if classID == "" || provider == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.classes[classID]; exists {
		s.logger.Warn("profile class already registered", zap.String("class", classID))
		return false
	}
	s.classes[classID] = provider
	s.order = append(s.order, classID)
	s.logger.Debug("profile class registered", zap.String("class", classID))
	return true
}

func (s *Store) unregisterClass(classID string, provider roles.StbAPIProvider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.classes[classID] != provider {
		return
	}
	delete(s.classes, classID)
	for i, id := range s.order {
		if id == classID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.logger.Info("profile class withdrawn", zap.String("class", classID))
}

// Class returns the provider registered for classID.
func (s *Store) Class(classID string) (roles.StbAPIProvider, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.classes[classID]
	return p, ok
}

// ClassInfo describes a registered profile class.
type ClassInfo struct {
	ID        string           `json:"id"`
	Submodels []roles.Submodel `json:"submodels"`
}

// Classes lists registered classes in registration order.
func (s *Store) Classes() []ClassInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ClassInfo, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, ClassInfo{ID: id, Submodels: s.classes[id].Submodels()})
	}
	return out
}

// Load reads every *.ini descriptor in dir (the store's directory when dir
// is empty), creating the directory if needed. Profiles whose class has no
// registered provider, or that are already known, are skipped. Returns the
// profiles added by this call.
func (s *Store) Load(ctx context.Context, dir string) ([]*Profile, error) {
	if dir == "" {
		dir = s.Dir()
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", plugin.ErrDirectoryNotFound, dir, err)
	}
	s.mu.Lock()
	s.dir = dir
	s.mu.Unlock()

	paths, err := filepath.Glob(filepath.Join(dir, "*.ini"))
	if err != nil {
		return nil, fmt.Errorf("list profiles in %s: %w", dir, err)
	}
	sort.Strings(paths)

	ds := s.datasources()
	var loaded []*Profile
	for _, path := range paths {
		p, err := s.read(path, ds)
		if err != nil {
			s.logger.Warn("skipping profile", zap.String("path", path), zap.Error(err))
			continue
		}
		if _, dup := s.FindByID(p.ID); dup {
			s.logger.Debug("profile already loaded", zap.String("id", p.ID))
			continue
		}
		s.mu.Lock()
		s.profiles = append(s.profiles, p)
		s.mu.Unlock()
		loaded = append(loaded, p)
		s.logger.Info("profile loaded",
			zap.String("id", p.ID),
			zap.String("name", p.Name),
			zap.String("class", p.ClassID),
		)
	}
	profilesKnown.Set(float64(len(s.Profiles())))
	return loaded, nil
}

func (s *Store) read(path string, ds roles.DatasourceProvider) (*Profile, error) {
	cfg, err := ini.LoadSources(ini.LoadOptions{IgnoreInlineComment: true}, path)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	sec := cfg.Section(descriptorGroup)
	classID := sec.Key("classid").String()
	provider, ok := s.Class(classID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", plugin.ErrUnknownProfileClass, classID)
	}

	id := sec.Key("uuid").String()
	if id == "" {
		id = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	index := sec.Key("submodel").MustInt(0)
	return s.build(id, sec.Key("name").String(), classID, index, provider, ds, path), nil
}

func (s *Store) build(id, name, classID string, index int, provider roles.StbAPIProvider, ds roles.DatasourceProvider, path string) *Profile {
	p := &Profile{
		ID:            id,
		Name:          name,
		ClassID:       classID,
		SubmodelIndex: index,
		Submodel:      roles.SubmodelAt(provider.Submodels(), index),
		Provider:      provider,
		Runtime:       provider.NewProfileRuntime(id),
		path:          path,
	}
	if ds != nil {
		p.Datasource = ds.DatasourceFor(id)
	}
	return p
}

// Create builds, persists and registers a new profile of classID. submodel
// is matched by id or name against the class's submodels (first one when
// nothing matches). An unregistered class is an ErrUnknownProfileClass.
func (s *Store) Create(ctx context.Context, classID, submodel, baseName string, overwrite bool) (*Profile, error) {
	provider, ok := s.Class(classID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", plugin.ErrUnknownProfileClass, classID)
	}

	dir := s.Dir()
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", plugin.ErrDirectoryNotFound, dir, err)
	}

	id := uuid.NewString()
	name := s.UniqueName(classID, baseName, overwrite)
	index := roles.FindSubmodel(provider.Submodels(), submodel)
	p := s.build(id, name, classID, index, provider, s.datasources(), filepath.Join(dir, id+".ini"))

	if err := write(p); err != nil {
		return nil, err
	}

	if p.Datasource != nil {
		fields := [][2]string{
			{"uuid", p.ID},
			{"name", p.Name},
			{"classid", p.ClassID},
			{"submodel", p.Submodel.ID},
		}
		for _, f := range fields {
			if err := p.Datasource.Set(ctx, descriptorGroup, f[0], f[1]); err != nil {
				s.logger.Warn("failed to write profile field",
					zap.String("id", p.ID), zap.String("field", f[0]), zap.Error(err))
			}
		}
		if p.Runtime != nil {
			if err := p.Runtime.InitDefaults(ctx, p.Datasource); err != nil {
				s.logger.Warn("failed to initialize profile defaults", zap.String("id", p.ID), zap.Error(err))
			}
		}
	}

	s.mu.Lock()
	s.profiles = append(s.profiles, p)
	count := len(s.profiles)
	s.mu.Unlock()
	profilesKnown.Set(float64(count))

	s.logger.Info("profile created",
		zap.String("id", p.ID),
		zap.String("name", p.Name),
		zap.String("class", classID),
		zap.String("submodel", p.Submodel.ID),
	)
	s.publish(ctx, plugin.TopicProfileAdded, Event{Profile: p})
	return p, nil
}

func write(p *Profile) error {
	cfg := ini.Empty()
	sec := cfg.Section(descriptorGroup)
	sec.Key("classid").SetValue(p.ClassID)
	sec.Key("uuid").SetValue(p.ID)
	sec.Key("name").SetValue(p.Name)
	sec.Key("submodel").SetValue(strconv.Itoa(p.SubmodelIndex))
	if err := cfg.SaveTo(p.path); err != nil {
		return fmt.Errorf("write profile %s: %w", p.path, err)
	}
	return nil
}

// Remove deletes p's descriptor and drops it from the known set. It does not
// check whether p is active; the Switcher does.
func (s *Store) Remove(ctx context.Context, p *Profile) bool {
	if p == nil {
		return false
	}
	err := os.Remove(p.path)
	removed := err == nil || errors.Is(err, os.ErrNotExist)
	if err != nil && removed {
		s.logger.Debug("profile file already gone", zap.String("path", p.path))
	} else if err != nil {
		s.logger.Warn("failed to remove profile file", zap.String("path", p.path), zap.Error(err))
	}

	dropped := false
	if removed {
		s.mu.Lock()
		for i, x := range s.profiles {
			if x == p {
				s.profiles = append(s.profiles[:i], s.profiles[i+1:]...)
				dropped = true
				break
			}
		}
		profilesKnown.Set(float64(len(s.profiles)))
		s.mu.Unlock()
	}

	s.publish(ctx, plugin.TopicProfileRemoved, Event{Profile: p, Removed: removed && dropped})
	return removed && dropped
}

// Contains reports whether p is in the known set.
func (s *Store) Contains(p *Profile) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, x := range s.profiles {
		if x == p {
			return true
		}
	}
	return false
}

// FindByID returns the known profile with identifier id.
func (s *Store) FindByID(id string) (*Profile, bool) {
	return s.find(func(p *Profile) bool { return p.ID == id })
}

// FindByName returns the first known profile named name.
func (s *Store) FindByName(name string) (*Profile, bool) {
	return s.find(func(p *Profile) bool { return p.Name == name })
}

// Profiles returns the known profiles in load/creation order.
func (s *Store) Profiles() []*Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*Profile(nil), s.profiles...)
}

func (s *Store) find(match func(*Profile) bool) (*Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.profiles {
		if match(p) {
			return p, true
		}
	}
	return nil, false
}

// datasources returns the datasource provider, or nil with a warning when
// none is initialized. Profiles still load without one.
func (s *Store) datasources() roles.DatasourceProvider {
	if s.plugins == nil {
		return nil
	}
	p, ok := s.plugins.Provider(roles.RoleDatasource)
	if !ok {
		s.logger.Warn("no datasource plugin available, profiles have no datasource")
		return nil
	}
	dsp, ok := p.(roles.DatasourceProvider)
	if !ok {
		s.logger.Warn("datasource plugin does not implement DatasourceProvider")
		return nil
	}
	return dsp
}

func (s *Store) publish(ctx context.Context, topic string, payload Event) {
	if s.bus == nil {
		return
	}
	_ = s.bus.Publish(ctx, plugin.Event{
		Topic:     topic,
		Source:    "profile",
		Timestamp: time.Now(),
		Payload:   payload,
	})
}
