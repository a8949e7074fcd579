package datasource

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/HerbHall/stbemu/internal/event"
	"github.com/HerbHall/stbemu/internal/profile"
	"github.com/HerbHall/stbemu/internal/store"
	"github.com/HerbHall/stbemu/pkg/plugin"
	"github.com/HerbHall/stbemu/pkg/plugin/plugintest"
	"go.uber.org/zap"
)

var testDescriptor = plugin.Descriptor{
	ID:      ID,
	Version: "1.0.0",
	Roles:   []plugin.Role{{Name: "datasource", Flags: plugin.FlagClient}},
}

func testDeps(t *testing.T) plugin.Dependencies {
	t.Helper()
	db, err := store.New(filepath.Join(t.TempDir(), "ds.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return plugin.Dependencies{
		Logger: zap.NewNop(),
		Store:  db,
		Bus:    event.NewBus(zap.NewNop()),
	}
}

func TestContract(t *testing.T) {
	plugintest.TestPluginContract(t, testDescriptor, func() plugin.Plugin { return New() }, testDeps)
}

func TestInitialize_requires_store(t *testing.T) {
	if err := New().Initialize(context.Background(), plugin.Dependencies{Logger: zap.NewNop()}); err == nil {
		t.Fatal("Initialize() without a store succeeded")
	}
}

func TestGetSet(t *testing.T) {
	ctx := context.Background()
	m := New()
	if err := m.Initialize(ctx, testDeps(t)); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer m.Deinitialize(ctx)

	a, b := m.DatasourceFor("a"), m.DatasourceFor("b")
	if v, err := a.Get(ctx, "portal", "url", "fallback"); err != nil || v != "fallback" {
		t.Fatalf("Get(unset) = %q, %v", v, err)
	}
	if err := a.Set(ctx, "portal", "url", "http://one"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := a.Set(ctx, "portal", "url", "http://two"); err != nil {
		t.Fatalf("Set (update): %v", err)
	}
	if v, _ := a.Get(ctx, "portal", "url", ""); v != "http://two" {
		t.Errorf("Get = %q, want http://two", v)
	}
	if v, _ := b.Get(ctx, "portal", "url", "none"); v != "none" {
		t.Errorf("profile b sees %q from profile a", v)
	}
}

func TestPurge_on_profile_removed(t *testing.T) {
	ctx := context.Background()
	deps := testDeps(t)
	m := New()
	if err := m.Initialize(ctx, deps); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer m.Deinitialize(ctx)

	ds := m.DatasourceFor("gone")
	if err := ds.Set(ctx, "profile", "name", "Gone"); err != nil {
		t.Fatal(err)
	}

	kept := &profile.Profile{ID: "gone"}
	_ = deps.Bus.Publish(ctx, plugin.Event{Topic: plugin.TopicProfileRemoved, Payload: profile.Event{Profile: kept}})
	if v, _ := ds.Get(ctx, "profile", "name", ""); v != "Gone" {
		t.Fatal("settings purged although the profile file was not removed")
	}

	_ = deps.Bus.Publish(ctx, plugin.Event{Topic: plugin.TopicProfileRemoved, Payload: profile.Event{Profile: kept, Removed: true}})
	if v, _ := ds.Get(ctx, "profile", "name", "none"); v != "none" {
		t.Errorf("Get after purge = %q, want fallback", v)
	}
}

func TestDatasource_after_Deinitialize(t *testing.T) {
	ctx := context.Background()
	m := New()
	if err := m.Initialize(ctx, testDeps(t)); err != nil {
		t.Fatal(err)
	}
	ds := m.DatasourceFor("x")
	_ = m.Deinitialize(ctx)

	if err := ds.Set(ctx, "g", "k", "v"); !errors.Is(err, ErrClosed) {
		t.Errorf("Set after Deinitialize: err = %v, want ErrClosed", err)
	}
}
