// Package roles defines typed contracts for plugin roles.
// Plugins that fill a role (declared in their descriptor) implement the
// corresponding interface; the core asserts the interface once, when the
// provider is looked up, instead of downcasting at every call site.
package roles

import "context"

// Role name constants match the strings used in plugin descriptors.
const (
	RoleGUI          = "gui"
	RoleMediaPlayer  = "mediaplayer"
	RoleStbAPI       = "stbapi"
	RoleStbAPISystem = "stbapi-system"
	RoleBrowser      = "browser"
	RoleDatasource   = "datasource"
	RoleWebServer    = "webserver"
	RoleWebGUI       = "webgui"
	RoleStatistics   = "statistics"
)

// Describe returns a human-readable label for a role name.
func Describe(role string) string {
	switch role {
	case RoleGUI:
		return "GUI plugin"
	case RoleMediaPlayer:
		return "Media player plugin"
	case RoleStbAPI:
		return "STB API plugin"
	case RoleStbAPISystem:
		return "System STB API plugin"
	case RoleBrowser:
		return "Browser plugin"
	case RoleDatasource:
		return "Datasource plugin"
	case RoleWebServer:
		return "Web server plugin"
	case RoleWebGUI:
		return "Web GUI plugin"
	case RoleStatistics:
		return "Statistics plugin"
	case "":
		return "Unspecified"
	default:
		return "Unknown plugin role"
	}
}

// Page is the browser's first (primary) web page.
type Page interface {
	// Reset clears the page state before a profile is bound to it.
	Reset()
}

// ObjectBinder is implemented by pages that expose named objects to the
// page's scripts. STB API plugins bind their JS API through it.
type ObjectBinder interface {
	AddObject(name string, obj any)
}

// Browser is implemented by plugins filling RoleBrowser.
type Browser interface {
	// ResetPrimarySurface brings the browser surface back to the top.
	ResetPrimarySurface()

	// FirstPage returns the primary page, or nil when no page exists yet.
	FirstPage() Page

	// ClearKeyEvents drops every registered key binding.
	ClearKeyEvents()

	// RegisterKeyEvent binds a remote-control key to a DOM key event.
	RegisterKeyEvent(key int, code, which int, alt, ctrl, shift bool)
}

// MediaPlayer is implemented by plugins filling RoleMediaPlayer.
type MediaPlayer interface {
	IsInitialized() bool
	Stop() error
}

// Statistics is implemented by plugins filling RoleStatistics. The
// counters are reset on every profile switch.
type Statistics interface {
	Reset()
}

// Datasource stores per-profile key/value settings grouped by section.
type Datasource interface {
	Get(ctx context.Context, group, key, fallback string) (string, error)
	Set(ctx context.Context, group, key, value string) error
}

// DatasourceProvider is implemented by plugins filling RoleDatasource.
type DatasourceProvider interface {
	// DatasourceFor returns the datasource bound to a profile identifier.
	DatasourceFor(profileID string) Datasource
}

// ProfileRuntime carries the class-specific behavior of one profile.
type ProfileRuntime interface {
	// InitDefaults writes class defaults into a freshly created profile.
	InitDefaults(ctx context.Context, ds Datasource) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// StbAPIProvider is implemented by plugins filling RoleStbAPI. Each provider
// owns exactly one profile class identifier.
type StbAPIProvider interface {
	ProfileClassID() string
	Submodels() []Submodel
	NewProfileRuntime(profileID string) ProfileRuntime
	// InitPage binds the provider's JS API objects into the browser page.
	InitPage(page Page, profileID string) error
}
