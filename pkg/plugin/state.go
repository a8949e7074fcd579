package plugin

// State is a plugin's position in the initialization lifecycle.
type State string

// Lifecycle states.
const (
	StateLoaded               State = "loaded"
	StateWaitingForDependency State = "waiting_for_dependency"
	StateInitialized          State = "initialized"
	StateDisabled             State = "disabled"
	StateUnloaded             State = "unloaded"
)

// AllStates lists every lifecycle state in lifecycle order.
var AllStates = []State{
	StateLoaded,
	StateWaitingForDependency,
	StateInitialized,
	StateDisabled,
	StateUnloaded,
}

// Usable reports whether a plugin in this state may still be resolved as a
// dependency provider.
func (s State) Usable() bool {
	return s != StateDisabled && s != StateUnloaded
}
