package headless

import (
	"context"
	"testing"

	"github.com/HerbHall/stbemu/pkg/plugin"
	"github.com/HerbHall/stbemu/pkg/plugin/plugintest"
	"go.uber.org/zap"
)

func TestContract(t *testing.T) {
	desc := plugin.Descriptor{
		ID:      "headless-browser",
		Version: "1.0.0",
		Roles:   []plugin.Role{{Name: "browser", Flags: plugin.FlagClient | plugin.FlagGUI}},
	}
	plugintest.TestPluginContract(t, desc, func() plugin.Plugin { return New() }, nil)
}

func TestFirstPage_nil_before_Initialize(t *testing.T) {
	if New().FirstPage() != nil {
		t.Fatal("FirstPage() before Initialize is not nil")
	}
}

func TestKeyEvents(t *testing.T) {
	m := New()
	_ = m.Initialize(context.Background(), plugin.Dependencies{Logger: zap.NewNop()})

	m.RegisterKeyEvent(2, 38, 38, false, false, false)
	m.RegisterKeyEvent(1, 13, 13, false, false, false)
	m.RegisterKeyEvent(2, 40, 40, false, true, false)

	got := m.Bindings()
	if len(got) != 2 || got[0].Key != 1 || got[1].Code != 40 || !got[1].Ctrl {
		t.Fatalf("Bindings() = %+v", got)
	}
	m.ClearKeyEvents()
	if len(m.Bindings()) != 0 {
		t.Error("ClearKeyEvents left bindings")
	}
}

func TestPage_Reset_drops_objects(t *testing.T) {
	m := New()
	_ = m.Initialize(context.Background(), plugin.Dependencies{Logger: zap.NewNop()})
	page := m.FirstPage().(*Page)

	page.AddObject("gSTB", 1)
	page.Reset()
	if _, ok := page.Object("gSTB"); ok {
		t.Error("object survived Reset")
	}
	if page.Resets() != 1 {
		t.Errorf("Resets() = %d", page.Resets())
	}

	m.ResetPrimarySurface()
	if m.SurfaceResets() != 1 {
		t.Errorf("SurfaceResets() = %d", m.SurfaceResets())
	}
}
