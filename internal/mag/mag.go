// Package mag is the built-in STB API plugin for the MAG device family. It
// owns the "mag" profile class.
package mag

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/HerbHall/stbemu/pkg/plugin"
	"github.com/HerbHall/stbemu/pkg/roles"
	"go.uber.org/zap"
)

// ClassID is the profile class this plugin owns.
const ClassID = "mag"

// Compile-time interface guards.
var (
	_ plugin.Plugin        = (*Module)(nil)
	_ roles.StbAPIProvider = (*Module)(nil)
	_ roles.ProfileRuntime = (*Runtime)(nil)
)

var submodels = []roles.Submodel{
	{ID: "MAG200", Name: "MAG 200"},
	{ID: "MAG245", Name: "MAG 245"},
	{ID: "MAG250", Name: "MAG 250"},
	{ID: "MAG254", Name: "MAG 254"},
	{ID: "MAG256", Name: "MAG 256"},
	{ID: "MAG322", Name: "MAG 322"},
	{ID: "MAG324", Name: "MAG 324"},
	{ID: "MAG351", Name: "MAG 351"},
	{ID: "AuraHD", Name: "Aura HD"},
}

// Config holds the defaults written into new MAG profiles.
type Config struct {
	Portal     string
	Resolution string
	TimeZone   string
}

// Module implements the MAG STB API plugin.
type Module struct {
	logger *zap.Logger
	cfg    Config

	mu      sync.Mutex
	running map[string]bool
}

// New creates a new MAG plugin instance.
func New() *Module {
	return &Module{running: make(map[string]bool)}
}

func (m *Module) Initialize(_ context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	if m.logger == nil {
		m.logger = zap.NewNop()
	}

	m.cfg = Config{
		Portal:     "http://localhost/stalker_portal/c/",
		Resolution: "1280x720",
		TimeZone:   "UTC",
	}
	if deps.Config != nil {
		if v := deps.Config.GetString("portal"); v != "" {
			m.cfg.Portal = v
		}
		if v := deps.Config.GetString("resolution"); v != "" {
			m.cfg.Resolution = v
		}
		if v := deps.Config.GetString("timezone"); v != "" {
			m.cfg.TimeZone = v
		}
	}

	m.logger.Info("mag module initialized",
		zap.String("portal", m.cfg.Portal),
		zap.Int("submodels", len(submodels)),
	)
	return nil
}

func (m *Module) Deinitialize(_ context.Context) error {
	m.mu.Lock()
	m.running = make(map[string]bool)
	m.mu.Unlock()
	return nil
}

func (m *Module) ProfileClassID() string { return ClassID }

func (m *Module) Submodels() []roles.Submodel {
	return append([]roles.Submodel(nil), submodels...)
}

func (m *Module) NewProfileRuntime(profileID string) roles.ProfileRuntime {
	return &Runtime{module: m, id: profileID}
}

// InitPage exposes the gSTB object on pages that accept bound objects.
func (m *Module) InitPage(page roles.Page, profileID string) error {
	if page == nil {
		return fmt.Errorf("mag: no page for profile %s", profileID)
	}
	binder, ok := page.(roles.ObjectBinder)
	if !ok {
		m.log().Debug("page does not accept objects", zap.String("profile", profileID))
		return nil
	}
	binder.AddObject("gSTB", &API{ProfileID: profileID, Portal: m.cfg.Portal})
	return nil
}

// Running reports whether the runtime of profileID has been started.
func (m *Module) Running(profileID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running[profileID]
}

func (m *Module) setRunning(profileID string, running bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if running {
		m.running[profileID] = true
	} else {
		delete(m.running, profileID)
	}
}

func (m *Module) log() *zap.Logger {
	if m.logger == nil {
		return zap.NewNop()
	}
	return m.logger
}

// API is the object bound into the page as gSTB.
type API struct {
	ProfileID string `json:"profile_id"`
	Portal    string `json:"portal"`
}

// Runtime is the per-profile MAG runtime.
type Runtime struct {
	module *Module
	id     string
}

// InitDefaults writes the portal, display, time zone and MAC address of a
// new profile.
func (r *Runtime) InitDefaults(ctx context.Context, ds roles.Datasource) error {
	cfg := r.module.cfg
	fields := [][3]string{
		{"portal", "url", cfg.Portal},
		{"display", "resolution", cfg.Resolution},
		{"system", "timezone", cfg.TimeZone},
		{"network", "mac", MACFor(r.id)},
	}
	for _, f := range fields {
		if err := ds.Set(ctx, f[0], f[1], f[2]); err != nil {
			return fmt.Errorf("mag defaults %s/%s: %w", f[0], f[1], err)
		}
	}
	return nil
}

func (r *Runtime) Start(_ context.Context) error {
	r.module.setRunning(r.id, true)
	r.module.log().Info("mag profile started", zap.String("profile", r.id))
	return nil
}

func (r *Runtime) Stop(_ context.Context) error {
	r.module.setRunning(r.id, false)
	r.module.log().Info("mag profile stopped", zap.String("profile", r.id))
	return nil
}

// MACFor derives a stable MAG-range MAC address from a profile identifier.
func MACFor(profileID string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(profileID))
	sum := h.Sum32()
	return fmt.Sprintf("00:1A:79:%02X:%02X:%02X", byte(sum>>16), byte(sum>>8), byte(sum))
}
