package registry

import (
	"fmt"

	"github.com/HerbHall/stbemu/pkg/plugin"
	"github.com/felixgeelhaar/statekit"
)

// Lifecycle events understood by the per-plugin state machine.
const (
	eventWait    statekit.EventType = "WAIT"
	eventInit    statekit.EventType = "INIT"
	eventDisable statekit.EventType = "DISABLE"
	eventUnload  statekit.EventType = "UNLOAD"
)

// lifecycleContext is the statekit machine context.
type lifecycleContext struct {
	PluginID string
}

func sid(s plugin.State) statekit.StateID {
	return statekit.StateID(string(s))
}

// newLifecycle builds and starts the state machine for one plugin:
//
//	loaded  -WAIT->    waiting_for_dependency -INIT-> initialized
//	loaded  -INIT->    initialized
//	loaded|waiting|initialized -DISABLE-> disabled
//	any     -UNLOAD->  unloaded
//
// Nothing leaves unloaded, and initialized never re-enters initialized.
func newLifecycle(id string) (*statekit.Interpreter[lifecycleContext], error) {
	machine, err := statekit.NewMachine[lifecycleContext]("plugin-"+id).
		WithInitial(sid(plugin.StateLoaded)).
		WithContext(lifecycleContext{PluginID: id}).
		State(sid(plugin.StateLoaded)).
		On(eventWait).Target(sid(plugin.StateWaitingForDependency)).
		On(eventInit).Target(sid(plugin.StateInitialized)).
		On(eventDisable).Target(sid(plugin.StateDisabled)).
		On(eventUnload).Target(sid(plugin.StateUnloaded)).Done().
		State(sid(plugin.StateWaitingForDependency)).
		On(eventInit).Target(sid(plugin.StateInitialized)).
		On(eventDisable).Target(sid(plugin.StateDisabled)).
		On(eventUnload).Target(sid(plugin.StateUnloaded)).Done().
		State(sid(plugin.StateInitialized)).
		On(eventDisable).Target(sid(plugin.StateDisabled)).
		On(eventUnload).Target(sid(plugin.StateUnloaded)).Done().
		State(sid(plugin.StateDisabled)).
		On(eventUnload).Target(sid(plugin.StateUnloaded)).Done().
		State(sid(plugin.StateUnloaded)).
		On(eventUnload).Target(sid(plugin.StateUnloaded)).Done().
		Build()
	if err != nil {
		return nil, fmt.Errorf("build lifecycle machine for %q: %w", id, err)
	}

	interp := statekit.NewInterpreter(machine)
	interp.Start()
	return interp, nil
}
