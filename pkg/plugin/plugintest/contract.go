// Package plugintest provides shared contract tests that verify any
// plugin.Plugin implementation behaves correctly. Every built-in plugin's
// test file should call TestPluginContract.
package plugintest

import (
	"context"
	"testing"

	"github.com/HerbHall/stbemu/pkg/plugin"
	"go.uber.org/zap"
)

// TestPluginContract runs behavioral contract tests against a plugin
// implementation and its descriptor:
//
//	func TestContract(t *testing.T) {
//	    plugintest.TestPluginContract(t, desc, func() plugin.Plugin { return New() }, deps)
//	}
//
// depsFn may be nil, in which case only a logger is injected.
func TestPluginContract(t *testing.T, desc plugin.Descriptor, factory func() plugin.Plugin, depsFn func(t *testing.T) plugin.Dependencies) {
	t.Helper()

	if depsFn == nil {
		depsFn = func(*testing.T) plugin.Dependencies { return testDeps(desc.ID) }
	}

	t.Run("Descriptor_is_valid", func(t *testing.T) {
		if desc.ID == "" {
			t.Error("descriptor ID must not be empty")
		}
		if desc.Version == "" {
			t.Error("descriptor Version must not be empty")
		}
		if len(desc.Roles) == 0 {
			t.Error("descriptor must declare at least one role")
		}
	})

	t.Run("Initialize_succeeds_with_valid_deps", func(t *testing.T) {
		p := factory()
		if err := p.Initialize(context.Background(), depsFn(t)); err != nil {
			t.Fatalf("Initialize() error = %v", err)
		}
		_ = p.Deinitialize(context.Background())
	})

	t.Run("Deinitialize_after_Initialize", func(t *testing.T) {
		p := factory()
		if err := p.Initialize(context.Background(), depsFn(t)); err != nil {
			t.Fatalf("Initialize() error = %v", err)
		}
		if err := p.Deinitialize(context.Background()); err != nil {
			t.Fatalf("Deinitialize() error = %v", err)
		}
	})

	t.Run("Deinitialize_without_Initialize_does_not_panic", func(t *testing.T) {
		p := factory()
		_ = p.Deinitialize(context.Background())
	})
}

func testDeps(name string) plugin.Dependencies {
	logger, _ := zap.NewDevelopment()
	return plugin.Dependencies{
		Logger: logger.Named(name),
	}
}
