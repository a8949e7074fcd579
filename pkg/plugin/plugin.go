// Package plugin provides the public SDK types for stbemu plugins.
// Every loadable unit (built-in or third-party) implements Plugin and is
// described by a Descriptor discovered alongside it.
package plugin

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Plugin is the runtime contract the core imposes on every plugin.
// Metadata (roles, dependencies, flags) lives in the Descriptor, not here.
type Plugin interface {
	// Initialize prepares the plugin. All of its required dependencies have
	// been initialized before this is called.
	Initialize(ctx context.Context, deps Dependencies) error

	// Deinitialize releases everything Initialize acquired.
	Deinitialize(ctx context.Context) error
}

// Descriptor is the parsed form of a plugin manifest.
type Descriptor struct {
	ID           string       // Globally unique identifier: "mag-api", "sqlite-datasource"
	Name         string       // Human-readable name
	Version      string       // Semantic version string
	InterfaceID  string       // Interface identifier the implementation exposes
	ClassName    string       // Implementation class reference, resolved through the factory catalog
	Roles        []Role       // Capabilities the plugin provides
	Dependencies []Dependency // Declared in resolution order
	Flags        Flag         // Plugin-wide flags
	Source       string       // Where the descriptor was found (file path or "builtin")
}

// HasRole reports whether the descriptor declares a role with the given name.
func (d Descriptor) HasRole(name string) bool {
	for _, r := range d.Roles {
		if r.Name == name {
			return true
		}
	}
	return false
}

// HasFlag reports whether every bit of f is set in the plugin-wide flags.
func (d Descriptor) HasFlag(f Flag) bool {
	return d.Flags&f == f
}

// Role is a named capability plus the flags it is offered with.
type Role struct {
	Name  string
	Flags Flag
}

// HasFlags reports whether the role carries at least the requested flags.
func (r Role) HasFlags(f Flag) bool {
	return r.Flags&f == f
}

// Dependency is a plugin's declared need for another plugin. At least one of
// Role or ID is set.
type Dependency struct {
	Role     string // Role name the provider must offer
	ID       string // Identifier of a specific provider
	Required bool   // Plugin cannot be initialized without it
	Flags    Flag   // Role flag filter used for lookup (FlagClient when zero)
}

// Target returns a printable name for the dependency.
func (d Dependency) Target() string {
	if d.Role != "" {
		return d.Role
	}
	return d.ID
}

// LookupFlags returns the role flags used to find a provider.
func (d Dependency) LookupFlags() Flag {
	if d.Flags == FlagNone {
		return FlagClient
	}
	return d.Flags
}

// HTTPProvider is implemented by plugins that expose admin API routes.
// Routes are mounted under /api/v1/<plugin id> once the plugin is initialized.
type HTTPProvider interface {
	Routes() []Route
}

// Route represents an HTTP route exposed by a plugin.
type Route struct {
	Method  string
	Path    string
	Handler http.HandlerFunc
}

// Dependencies provides controlled access to shared services.
// Injected by the lifecycle manager during Initialize.
type Dependencies struct {
	Config   Config      // Scoped to this plugin's config section
	Logger   *zap.Logger // Named logger for this plugin
	Bus      EventBus    // Event publish/subscribe for inter-plugin communication
	Store    Store       // Shared SQLite database
	Plugins  Resolver    // Locates initialized providers by role
	Resolved []string    // Identifiers of the dependencies bound for this plugin
}

// Config abstracts configuration access. Wraps Viper today, replaceable later.
type Config interface {
	Unmarshal(target any) error
	Get(key string) any
	GetString(key string) string
	GetInt(key string) int
	GetBool(key string) bool
	GetDuration(key string) time.Duration
	IsSet(key string) bool
	Sub(key string) Config
}

// Store gives plugins access to the shared database and its migration tracker.
type Store interface {
	DB() *sql.DB
	Tx(ctx context.Context, fn func(tx *sql.Tx) error) error
	Migrate(ctx context.Context, owner string, migrations []Migration) error
}

// Migration is a single forward-only schema change owned by a plugin.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// Publisher sends events to the bus.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Subscriber receives events from the bus.
type Subscriber interface {
	Subscribe(topic string, handler EventHandler) (unsubscribe func())
}

// EventBus provides typed publish/subscribe for lifecycle notifications.
type EventBus interface {
	Publisher
	Subscriber
	PublishAsync(ctx context.Context, event Event)
	SubscribeAll(handler EventHandler) (unsubscribe func())
}

// Event represents a typed message on the event bus.
type Event struct {
	Topic     string
	Source    string // Component or plugin that emitted the event
	Timestamp time.Time
	Payload   any // Type depends on topic
}

// EventHandler processes events from the bus.
type EventHandler func(ctx context.Context, event Event)

// Resolver lets plugins locate initialized providers by role.
type Resolver interface {
	Provider(role string) (Plugin, bool)
}
