package profile

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/HerbHall/stbemu/pkg/plugin"
	"github.com/HerbHall/stbemu/pkg/roles"
	"go.uber.org/zap"
)

type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(format string, args ...any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, fmt.Sprintf(format, args...))
}

func (j *journal) take() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := j.entries
	j.entries = nil
	return out
}

// lifecycle gives fakes the plugin.Plugin methods.
type lifecycle struct{}

func (lifecycle) Initialize(context.Context, plugin.Dependencies) error { return nil }
func (lifecycle) Deinitialize(context.Context) error                    { return nil }

type resolver map[string]plugin.Plugin

func (r resolver) Provider(role string) (plugin.Plugin, bool) {
	p, ok := r[role]
	return p, ok
}

type fakeAPI struct {
	lifecycle
	class   string
	journal *journal
}

func (a *fakeAPI) ProfileClassID() string { return a.class }

func (a *fakeAPI) Submodels() []roles.Submodel {
	return []roles.Submodel{{ID: "MAG250", Name: "MAG 250"}, {ID: "MAG254", Name: "MAG 254"}, {ID: "MAG322", Name: "MAG 322"}}
}

func (a *fakeAPI) NewProfileRuntime(id string) roles.ProfileRuntime {
	return &fakeRuntime{id: id, journal: a.journal}
}

func (a *fakeAPI) InitPage(_ roles.Page, id string) error {
	a.journal.add("initpage:%s", id)
	return nil
}

type fakeRuntime struct {
	id      string
	journal *journal
}

func (r *fakeRuntime) InitDefaults(ctx context.Context, ds roles.Datasource) error {
	return ds.Set(ctx, "system", "portal", "http://portal.local/c/")
}

func (r *fakeRuntime) Start(context.Context) error {
	r.journal.add("start:%s", r.id)
	return nil
}

func (r *fakeRuntime) Stop(context.Context) error {
	r.journal.add("stop:%s", r.id)
	return nil
}

type fakeDatasources struct {
	lifecycle
	mu     sync.Mutex
	values map[string]string
}

func (d *fakeDatasources) DatasourceFor(profileID string) roles.Datasource {
	return &fakeDatasource{parent: d, profile: profileID}
}

func (d *fakeDatasources) get(profile, group, key string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.values[profile+"/"+group+"/"+key]
}

type fakeDatasource struct {
	parent  *fakeDatasources
	profile string
}

func (d *fakeDatasource) Get(_ context.Context, group, key, fallback string) (string, error) {
	if v := d.parent.get(d.profile, group, key); v != "" {
		return v, nil
	}
	return fallback, nil
}

func (d *fakeDatasource) Set(_ context.Context, group, key, value string) error {
	d.parent.mu.Lock()
	defer d.parent.mu.Unlock()
	if d.parent.values == nil {
		d.parent.values = make(map[string]string)
	}
	d.parent.values[d.profile+"/"+group+"/"+key] = value
	return nil
}

type fakePage struct{ journal *journal }

func (p *fakePage) Reset() { p.journal.add("page:reset") }

type fakeBrowser struct {
	lifecycle
	journal *journal
	page    *fakePage
}

func (b *fakeBrowser) ResetPrimarySurface() { b.journal.add("browser:reset") }
func (b *fakeBrowser) FirstPage() roles.Page {
	if b.page == nil {
		return nil
	}
	return b.page
}
func (b *fakeBrowser) ClearKeyEvents()                                  {}
func (b *fakeBrowser) RegisterKeyEvent(int, int, int, bool, bool, bool) {}

type fakePlayer struct {
	lifecycle
	journal *journal
	running bool
}

func (p *fakePlayer) IsInitialized() bool { return p.running }
func (p *fakePlayer) Stop() error {
	p.journal.add("player:stop")
	return nil
}

type fakeStats struct {
	lifecycle
	journal *journal
}

func (s *fakeStats) Reset() { s.journal.add("stats:reset") }

type fakeKeymaps struct{ journal *journal }

func (k *fakeKeymaps) Load(classID string, _ roles.Browser) error {
	k.journal.add("keymap:%s", classID)
	return nil
}

type env struct {
	dir     string
	journal *journal
	api     *fakeAPI
	ds      *fakeDatasources
	plugins resolver
	store   *Store
}

func newEnv(t *testing.T) *env {
	t.Helper()
	j := &journal{}
	e := &env{
		dir:     t.TempDir(),
		journal: j,
		api:     &fakeAPI{class: "mag", journal: j},
		ds:      &fakeDatasources{},
	}
	e.plugins = resolver{
		roles.RoleDatasource:  e.ds,
		roles.RoleBrowser:     &fakeBrowser{journal: j, page: &fakePage{journal: j}},
		roles.RoleMediaPlayer: &fakePlayer{journal: j, running: true},
		roles.RoleStatistics:  &fakeStats{journal: j},
	}
	e.store = e.newStore()
	return e
}

func (e *env) newStore() *Store {
	s := NewStore(e.dir, e.plugins, nil, zap.NewNop())
	s.RegisterClass(e.api.class, e.api)
	return s
}

func (e *env) create(t *testing.T, name string) *Profile {
	t.Helper()
	p, err := e.store.Create(context.Background(), "mag", "MAG254", name, false)
	if err != nil {
		t.Fatalf("Create(%q): %v", name, err)
	}
	return p
}
