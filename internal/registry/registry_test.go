package registry

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/HerbHall/stbemu/internal/event"
	"github.com/HerbHall/stbemu/pkg/plugin"
	"go.uber.org/zap"
)

// testPlugin records lifecycle calls into a shared journal.
type testPlugin struct {
	id        string
	journal   *journal
	initErr   error
	deinitErr error
	panicInit bool

	mu      sync.Mutex
	inits   int
	deinits int
	deps    plugin.Dependencies
}

type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(s string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, s)
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

func (p *testPlugin) Initialize(_ context.Context, deps plugin.Dependencies) error {
	if p.panicInit {
		panic("boom")
	}
	p.mu.Lock()
	p.inits++
	p.deps = deps
	p.mu.Unlock()
	if p.initErr != nil {
		return p.initErr
	}
	if p.journal != nil {
		p.journal.add("init:" + p.id)
	}
	return nil
}

func (p *testPlugin) Deinitialize(_ context.Context) error {
	p.mu.Lock()
	p.deinits++
	p.mu.Unlock()
	if p.deinitErr != nil {
		return p.deinitErr
	}
	if p.journal != nil {
		p.journal.add("deinit:" + p.id)
	}
	return nil
}

func testLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

func desc(id string, roles []string, deps ...plugin.Dependency) plugin.Descriptor {
	d := plugin.Descriptor{ID: id, Name: id, Version: "1.0.0", Dependencies: deps}
	for _, r := range roles {
		d.Roles = append(d.Roles, plugin.Role{Name: r, Flags: plugin.FlagClient})
	}
	return d
}

func needs(role string) plugin.Dependency {
	return plugin.Dependency{Role: role, Required: true}
}

func wants(role string) plugin.Dependency {
	return plugin.Dependency{Role: role}
}

type fixture struct {
	reg     *Registry
	mgr     *Manager
	journal *journal
	plugins map[string]*testPlugin
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	logger := testLogger()
	reg := New(logger, event.NewBus(logger))
	return &fixture{
		reg:     reg,
		mgr:     NewManager(reg, logger, opts...),
		journal: &journal{},
		plugins: make(map[string]*testPlugin),
	}
}

func (f *fixture) add(t *testing.T, d plugin.Descriptor) *testPlugin {
	t.Helper()
	p := &testPlugin{id: d.ID, journal: f.journal}
	if _, err := f.reg.Register(d, p); err != nil {
		t.Fatalf("Register(%s) error = %v", d.ID, err)
	}
	f.plugins[d.ID] = p
	return p
}

func (f *fixture) state(t *testing.T, id string) plugin.State {
	t.Helper()
	e, ok := f.reg.ByID(id)
	if !ok {
		t.Fatalf("ByID(%s) not found", id)
	}
	return e.State()
}

func TestRegister(t *testing.T) {
	f := newFixture(t)
	f.add(t, desc("browser", []string{"browser"}))

	e, ok := f.reg.ByID("browser")
	if !ok {
		t.Fatal("ByID(browser) not found")
	}
	if e.State() != plugin.StateLoaded {
		t.Errorf("State() = %s, want loaded", e.State())
	}
}

func TestRegister_missing_identifier(t *testing.T) {
	f := newFixture(t)
	_, err := f.reg.Register(plugin.Descriptor{}, &testPlugin{})
	if !errors.Is(err, plugin.ErrMissingIdentifier) {
		t.Fatalf("err = %v, want ErrMissingIdentifier", err)
	}
}

func TestRegister_duplicate_first_wins(t *testing.T) {
	f := newFixture(t)
	first := f.add(t, desc("dup", []string{"gui"}))

	_, err := f.reg.Register(desc("dup", []string{"browser"}), &testPlugin{})
	if !errors.Is(err, plugin.ErrDuplicate) || !errors.Is(err, plugin.ErrDuplicateOrBlacklisted) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}
	e, _ := f.reg.ByID("dup")
	if e.Plugin != first {
		t.Error("duplicate replaced the first registration")
	}
}

func TestBlacklist(t *testing.T) {
	f := newFixture(t)
	f.reg.Blacklist("vlc-mediaplayer")

	if !f.reg.IsBlacklisted("vlc-mediaplayer") {
		t.Fatal("IsBlacklisted() = false")
	}
	_, err := f.reg.Register(desc("vlc-mediaplayer", []string{"mediaplayer"}), &testPlugin{})
	if !errors.Is(err, plugin.ErrBlacklisted) || !errors.Is(err, plugin.ErrDuplicateOrBlacklisted) {
		t.Fatalf("err = %v, want ErrBlacklisted", err)
	}
	if _, ok := f.reg.ByID("vlc-mediaplayer"); ok {
		t.Error("blacklisted plugin returned by ByID")
	}
	if _, ok := f.reg.ByRole("mediaplayer", plugin.FlagClient); ok {
		t.Error("blacklisted plugin returned by ByRole")
	}
	if got := len(f.reg.All("")); got != 0 {
		t.Errorf("All() returned %d entries, want 0", got)
	}
}

func TestBlacklist_after_register(t *testing.T) {
	f := newFixture(t)
	var disabled []string
	f.reg.bus.Subscribe(plugin.TopicPluginDisabled, func(_ context.Context, ev plugin.Event) {
		disabled = append(disabled, ev.Payload.(plugin.LifecycleEvent).Descriptor.ID)
	})
	vlc := desc("vlc", []string{"mediaplayer"})
	vlc.InterfaceID = "org.stbemu.MediaPlayer/1.0"
	f.add(t, vlc)
	f.add(t, desc("gst", []string{"mediaplayer"}))

	f.reg.Blacklist("vlc")

	if _, ok := f.reg.ByID("vlc"); ok {
		t.Error("blacklisted plugin returned by ByID")
	}
	if e, ok := f.reg.ByRole("mediaplayer", plugin.FlagClient); !ok || e.ID() != "gst" {
		t.Errorf("ByRole(mediaplayer) = %v, want gst", e)
	}
	if _, ok := f.reg.ByInterfaceID("org.stbemu.MediaPlayer/1.0"); ok {
		t.Error("blacklisted plugin returned by ByInterfaceID")
	}
	if all := f.reg.All(""); len(all) != 1 || all[0].ID() != "gst" {
		t.Errorf("All() = %v, want [gst]", all)
	}
	if ids := f.reg.IDs(); len(ids) != 1 || ids[0] != "gst" {
		t.Errorf("IDs() = %v, want [gst]", ids)
	}
	if got := f.reg.byID["vlc"].State(); got != plugin.StateDisabled {
		t.Errorf("vlc state = %s, want disabled", got)
	}
	if len(disabled) != 1 || disabled[0] != "vlc" {
		t.Errorf("disabled events = %v, want [vlc]", disabled)
	}

	if err := f.mgr.InitAll(context.Background()); err != nil {
		t.Fatalf("InitAll: %v", err)
	}
	if n := f.plugins["vlc"].inits; n != 0 {
		t.Errorf("blacklisted plugin initialized %d times", n)
	}
}

func TestRegister_publishes_discovered(t *testing.T) {
	logger := testLogger()
	bus := event.NewBus(logger)
	var got []string
	bus.Subscribe(plugin.TopicPluginDiscovered, func(_ context.Context, ev plugin.Event) {
		got = append(got, ev.Payload.(plugin.LifecycleEvent).Descriptor.ID)
	})
	reg := New(logger, bus)
	if _, err := reg.Register(desc("a", []string{"gui"}), &testPlugin{}); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != "a" {
		t.Errorf("discovered events = %v, want [a]", got)
	}
}

func TestByRole_first_match_with_flags(t *testing.T) {
	f := newFixture(t)
	sys := desc("sys-api", nil)
	sys.Roles = []plugin.Role{{Name: "stbapi", Flags: plugin.FlagSystem}}
	f.add(t, sys)
	f.add(t, desc("mag", []string{"stbapi"}))
	f.add(t, desc("aura", []string{"stbapi"}))

	e, ok := f.reg.ByRole("stbapi", plugin.FlagClient)
	if !ok || e.ID() != "mag" {
		t.Fatalf("ByRole(stbapi, client) = %v, want mag", e)
	}
	e, ok = f.reg.ByRole("stbapi", plugin.FlagSystem)
	if !ok || e.ID() != "sys-api" {
		t.Fatalf("ByRole(stbapi, system) = %v, want sys-api", e)
	}
	if _, ok := f.reg.ByRole("stbapi", plugin.FlagClient|plugin.FlagGUI); ok {
		t.Error("ByRole(stbapi, client|gui) matched a plugin without gui flag")
	}
	if got := len(f.reg.All("stbapi")); got != 3 {
		t.Errorf("All(stbapi) = %d entries, want 3", got)
	}
}

func TestByInterfaceID(t *testing.T) {
	f := newFixture(t)
	d := desc("mag", []string{"stbapi"})
	d.InterfaceID = "com.stbemu.StbApi/1.0"
	f.add(t, d)

	e, ok := f.reg.ByInterfaceID("com.stbemu.StbApi/1.0")
	if !ok || e.ID() != "mag" {
		t.Fatalf("ByInterfaceID() = %v, %v", e, ok)
	}
	if _, ok := f.reg.ByInterfaceID("nope"); ok {
		t.Error("ByInterfaceID(nope) matched")
	}
}

func TestInitPlugin_dependencies_first(t *testing.T) {
	f := newFixture(t)
	f.add(t, desc("mag", []string{"stbapi"}, needs("browser"), needs("datasource")))
	f.add(t, desc("webkit", []string{"browser"}))
	f.add(t, desc("sqlite", []string{"datasource"}))

	if err := f.mgr.InitPlugin(context.Background(), "mag"); err != nil {
		t.Fatalf("InitPlugin() error = %v", err)
	}
	want := []string{"init:webkit", "init:sqlite", "init:mag"}
	got := f.journal.list()
	if len(got) != len(want) {
		t.Fatalf("journal = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("journal[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if resolved := f.plugins["mag"].deps.Resolved; len(resolved) != 2 || resolved[0] != "webkit" || resolved[1] != "sqlite" {
		t.Errorf("Resolved = %v, want [webkit sqlite]", resolved)
	}
	if f.plugins["mag"].deps.Plugins == nil {
		t.Error("Plugins resolver not injected")
	}
}

func TestInitPlugin_idempotent(t *testing.T) {
	f := newFixture(t)
	p := f.add(t, desc("webkit", []string{"browser"}))

	for i := 0; i < 2; i++ {
		if err := f.mgr.InitPlugin(context.Background(), "webkit"); err != nil {
			t.Fatalf("InitPlugin() #%d error = %v", i, err)
		}
	}
	if p.inits != 1 {
		t.Errorf("Initialize called %d times, want 1", p.inits)
	}
}

func TestInitPlugin_self_cycle_skipped(t *testing.T) {
	f := newFixture(t)
	f.add(t, desc("loop", []string{"browser"}, needs("browser")))
	byID := desc("loop2", []string{"gui"}, plugin.Dependency{ID: "loop2", Required: true})
	f.add(t, byID)

	for _, id := range []string{"loop", "loop2"} {
		if err := f.mgr.InitPlugin(context.Background(), id); err != nil {
			t.Fatalf("InitPlugin(%s) error = %v", id, err)
		}
		if s := f.state(t, id); s != plugin.StateInitialized {
			t.Errorf("%s state = %s, want initialized", id, s)
		}
	}
}

func TestInitPlugin_cross_cycle_terminates(t *testing.T) {
	f := newFixture(t)
	f.add(t, desc("a", []string{"role-a"}, needs("role-b")))
	f.add(t, desc("b", []string{"role-b"}, needs("role-a")))

	if err := f.mgr.InitPlugin(context.Background(), "a"); err != nil {
		t.Fatalf("InitPlugin() error = %v", err)
	}
	for _, id := range []string{"a", "b"} {
		if s := f.state(t, id); s != plugin.StateInitialized {
			t.Errorf("%s state = %s, want initialized", id, s)
		}
	}
	got := f.journal.list()
	if len(got) != 2 || got[0] != "init:b" || got[1] != "init:a" {
		t.Errorf("journal = %v, want [init:b init:a]", got)
	}
}

func TestInitPlugin_missing_required_dependency(t *testing.T) {
	f := newFixture(t)
	p := f.add(t, desc("mag", []string{"stbapi"}, needs("browser")))

	err := f.mgr.InitPlugin(context.Background(), "mag")
	if !errors.Is(err, plugin.ErrDependencyMissing) {
		t.Fatalf("err = %v, want ErrDependencyMissing", err)
	}
	if s := f.state(t, "mag"); s != plugin.StateWaitingForDependency {
		t.Errorf("state = %s, want waiting_for_dependency", s)
	}
	if p.inits != 0 {
		t.Error("Initialize called despite missing dependency")
	}
}

func TestInitPlugin_missing_optional_dependency(t *testing.T) {
	f := newFixture(t)
	f.add(t, desc("mag", []string{"stbapi"}, wants("mediaplayer")))

	if err := f.mgr.InitPlugin(context.Background(), "mag"); err != nil {
		t.Fatalf("InitPlugin() error = %v", err)
	}
	if s := f.state(t, "mag"); s != plugin.StateInitialized {
		t.Errorf("state = %s, want initialized", s)
	}
}

func TestInitPlugin_initialize_failure_disables(t *testing.T) {
	f := newFixture(t)
	p := f.add(t, desc("webkit", []string{"browser"}))
	p.initErr = errors.New("no display")

	err := f.mgr.InitPlugin(context.Background(), "webkit")
	if !errors.Is(err, plugin.ErrNotInitialized) {
		t.Fatalf("err = %v, want ErrNotInitialized", err)
	}
	if s := f.state(t, "webkit"); s != plugin.StateDisabled {
		t.Errorf("state = %s, want disabled", s)
	}
	if _, ok := f.reg.ByRole("browser", plugin.FlagClient); ok {
		t.Error("disabled plugin returned by ByRole")
	}
}

func TestInitPlugin_failed_required_provider(t *testing.T) {
	f := newFixture(t)
	f.add(t, desc("mag", []string{"stbapi"}, needs("browser")))
	f.add(t, desc("webkit", []string{"browser"})).initErr = errors.New("no display")

	err := f.mgr.InitPlugin(context.Background(), "mag")
	if !errors.Is(err, plugin.ErrDependencyMissing) {
		t.Fatalf("err = %v, want ErrDependencyMissing", err)
	}
	if s := f.state(t, "webkit"); s != plugin.StateDisabled {
		t.Errorf("provider state = %s, want disabled", s)
	}
}

func TestInitPlugin_failed_optional_provider(t *testing.T) {
	f := newFixture(t)
	f.add(t, desc("mag", []string{"stbapi"}, wants("mediaplayer")))
	f.add(t, desc("vlc", []string{"mediaplayer"})).initErr = errors.New("no codec")

	if err := f.mgr.InitPlugin(context.Background(), "mag"); err != nil {
		t.Fatalf("InitPlugin() error = %v", err)
	}
	if len(f.plugins["mag"].deps.Resolved) != 0 {
		t.Errorf("Resolved = %v, want none", f.plugins["mag"].deps.Resolved)
	}
}

func TestInitPlugin_panic_disables(t *testing.T) {
	f := newFixture(t)
	f.add(t, desc("crashy", []string{"gui"})).panicInit = true

	if err := f.mgr.InitPlugin(context.Background(), "crashy"); !errors.Is(err, plugin.ErrNotInitialized) {
		t.Fatalf("err = %v, want ErrNotInitialized", err)
	}
	if s := f.state(t, "crashy"); s != plugin.StateDisabled {
		t.Errorf("state = %s, want disabled", s)
	}
}

func TestInitAll_disables_waiting_and_continues(t *testing.T) {
	f := newFixture(t)
	f.add(t, desc("mag", []string{"stbapi"}, needs("browser")))
	f.add(t, desc("sqlite", []string{"datasource"}))

	err := f.mgr.InitAll(context.Background())
	if !errors.Is(err, plugin.ErrDependencyMissing) {
		t.Fatalf("InitAll() error = %v, want ErrDependencyMissing", err)
	}
	if s := f.state(t, "mag"); s != plugin.StateDisabled {
		t.Errorf("mag state = %s, want disabled", s)
	}
	if s := f.state(t, "sqlite"); s != plugin.StateInitialized {
		t.Errorf("sqlite state = %s, want initialized", s)
	}
}

func TestProvider_only_initialized(t *testing.T) {
	f := newFixture(t)
	f.add(t, desc("webkit", []string{"browser"}))

	if _, ok := f.mgr.Provider("browser"); ok {
		t.Fatal("Provider() returned a plugin that is only loaded")
	}
	if err := f.mgr.InitPlugin(context.Background(), "webkit"); err != nil {
		t.Fatal(err)
	}
	e, ok := f.mgr.Provider("browser")
	if !ok || e.ID() != "webkit" {
		t.Fatalf("Provider() = %v, %v", e, ok)
	}
	if p, ok := f.mgr.Plugins().Provider("browser"); !ok || p != f.plugins["webkit"] {
		t.Error("Plugins().Provider() did not return the implementation")
	}
}

func TestDeinitAll_reverse_order(t *testing.T) {
	f := newFixture(t)
	f.add(t, desc("mag", []string{"stbapi"}, needs("browser")))
	f.add(t, desc("webkit", []string{"browser"}))
	f.add(t, desc("orphan", []string{"gui"}, needs("missing")))

	_ = f.mgr.InitAll(context.Background())
	f.mgr.DeinitAll(context.Background())

	want := []string{"init:webkit", "init:mag", "deinit:mag", "deinit:webkit"}
	got := f.journal.list()
	if len(got) != len(want) {
		t.Fatalf("journal = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("journal[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	for _, id := range []string{"mag", "webkit", "orphan"} {
		if s := f.state(t, id); s != plugin.StateUnloaded {
			t.Errorf("%s state = %s, want unloaded", id, s)
		}
	}
	if len(f.mgr.InitOrder()) != 0 {
		t.Errorf("InitOrder() = %v, want empty", f.mgr.InitOrder())
	}
}

func TestDeinitPlugin_failure_keeps_initialized(t *testing.T) {
	f := newFixture(t)
	p := f.add(t, desc("webkit", []string{"browser"}))
	p.deinitErr = errors.New("busy")

	if err := f.mgr.InitPlugin(context.Background(), "webkit"); err != nil {
		t.Fatal(err)
	}
	if err := f.mgr.DeinitPlugin(context.Background(), "webkit"); err == nil {
		t.Fatal("DeinitPlugin() error = nil")
	}
	if s := f.state(t, "webkit"); s != plugin.StateInitialized {
		t.Errorf("state = %s, want initialized", s)
	}
}

func TestInitAll_threaded(t *testing.T) {
	f := newFixture(t, WithThreaded(true))
	f.add(t, desc("mag", []string{"stbapi"}, needs("browser")))
	gui := desc("webkit", []string{"browser"})
	gui.Flags = plugin.FlagGUI
	f.add(t, gui)

	if err := f.mgr.InitAll(context.Background()); err != nil {
		t.Fatalf("InitAll() error = %v", err)
	}
	got := f.mgr.InitOrder()
	if len(got) != 2 || got[0] != "webkit" || got[1] != "mag" {
		t.Errorf("InitOrder() = %v, want [webkit mag]", got)
	}
}

func TestWithDependencies(t *testing.T) {
	var asked []string
	f := newFixture(t, WithDependencies(func(d plugin.Descriptor) plugin.Dependencies {
		asked = append(asked, d.ID)
		return plugin.Dependencies{Logger: zap.NewNop()}
	}))
	f.add(t, desc("webkit", []string{"browser"}))

	if err := f.mgr.InitPlugin(context.Background(), "webkit"); err != nil {
		t.Fatal(err)
	}
	if len(asked) != 1 || asked[0] != "webkit" {
		t.Errorf("deps requested for %v", asked)
	}
	if f.plugins["webkit"].deps.Bus == nil {
		t.Error("Bus not filled in")
	}
}
