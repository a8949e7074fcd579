package builtin

import (
	"testing"

	"github.com/HerbHall/stbemu/internal/manifest"
	"github.com/HerbHall/stbemu/pkg/plugin"
)

func TestDescriptors_parse_and_have_factories(t *testing.T) {
	results, err := manifest.DiscoverFS(Descriptors(), Root)
	if err != nil {
		t.Fatalf("DiscoverFS: %v", err)
	}
	factories := Factories()
	if len(results) != len(factories) {
		t.Errorf("%d descriptors for %d factories", len(results), len(factories))
	}
	for _, r := range results {
		if r.Err != nil {
			t.Errorf("%s: %v", r.Path, r.Err)
			continue
		}
		f, ok := factories[r.Descriptor.ClassName]
		if !ok {
			t.Errorf("%s: no factory for class %q", r.Descriptor.ID, r.Descriptor.ClassName)
			continue
		}
		if f() == nil {
			t.Errorf("%s: factory returned nil", r.Descriptor.ID)
		}
	}
}

func TestBrowserDescriptor_is_gui(t *testing.T) {
	results, _ := manifest.DiscoverFS(Descriptors(), Root)
	for _, r := range results {
		if r.Descriptor.ID != "headless-browser" {
			continue
		}
		if !r.Descriptor.HasFlag(plugin.FlagGUI) {
			t.Error("headless-browser does not carry the gui flag")
		}
		return
	}
	t.Fatal("headless-browser descriptor not found")
}
