package plugin

// Event bus topics published by the core.
const (
	TopicPluginDiscovered  = "plugin.discovered"
	TopicPluginInitialized = "plugin.initialized"
	TopicPluginDisabled    = "plugin.disabled"
	TopicPluginUnloaded    = "plugin.unloaded"

	TopicProfileAdded   = "profile.added"
	TopicProfileRemoved = "profile.removed"
	TopicProfileChanged = "profile.changed"
)

// LifecycleEvent is the payload of every plugin.* topic.
type LifecycleEvent struct {
	Descriptor Descriptor
	Plugin     Plugin
	State      State
	Err        error
}
