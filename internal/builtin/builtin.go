// Package builtin bundles the plugins compiled into the stbemu binary: their
// descriptors are embedded and discovered like any plugin directory, and
// their factories are registered in the loader catalog.
package builtin

import (
	"embed"
	"io/fs"

	"github.com/HerbHall/stbemu/internal/datasource"
	"github.com/HerbHall/stbemu/internal/headless"
	"github.com/HerbHall/stbemu/internal/loader"
	"github.com/HerbHall/stbemu/internal/mag"
	"github.com/HerbHall/stbemu/internal/stats"
	"github.com/HerbHall/stbemu/internal/webhook"
	"github.com/HerbHall/stbemu/pkg/plugin"
)

// Source labels descriptors discovered from the binary.
const Source = "builtin"

//go:embed descriptors
var descriptors embed.FS

// Descriptors returns the embedded descriptor tree. Descriptors live under
// Root.
func Descriptors() fs.FS { return descriptors }

// Root is the descriptor directory inside Descriptors.
const Root = "descriptors"

// Factories maps the built-in class names to their constructors.
func Factories() map[string]loader.Factory {
	return map[string]loader.Factory{
		"SQLiteDatasource": func() plugin.Plugin { return datasource.New() },
		"Statistics":       func() plugin.Plugin { return stats.New() },
		"HeadlessBrowser":  func() plugin.Plugin { return headless.New() },
		"MagAPI":           func() plugin.Plugin { return mag.New() },
		"WebhookNotifier":  func() plugin.Plugin { return webhook.New() },
	}
}

// LoaderSource is the loader source for the built-in descriptors.
func LoaderSource() loader.Source {
	return loader.Source{Name: Source, FS: descriptors, Root: Root}
}
