package registry

import (
	"sync"

	"github.com/HerbHall/stbemu/pkg/plugin"
	"github.com/felixgeelhaar/statekit"
)

// Entry is a registered plugin: its descriptor, its runtime implementation and
// the state machine tracking where it is in the lifecycle.
type Entry struct {
	Descriptor plugin.Descriptor
	Plugin     plugin.Plugin

	mu    sync.Mutex
	state *statekit.Interpreter[lifecycleContext]
}

func newEntry(desc plugin.Descriptor, impl plugin.Plugin) (*Entry, error) {
	lc, err := newLifecycle(desc.ID)
	if err != nil {
		return nil, err
	}
	pluginsByState.WithLabelValues(string(plugin.StateLoaded)).Inc()
	return &Entry{Descriptor: desc, Plugin: impl, state: lc}, nil
}

// ID returns the descriptor identifier.
func (e *Entry) ID() string { return e.Descriptor.ID }

// State returns the current lifecycle state.
func (e *Entry) State() plugin.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return plugin.State(e.state.State().Value)
}

// offers reports whether the entry declares role with at least flags.
func (e *Entry) offers(role string, flags plugin.Flag) bool {
	for _, r := range e.Descriptor.Roles {
		if r.Name == role && r.HasFlags(flags) {
			return true
		}
	}
	return false
}

// fire sends a lifecycle event and returns the resulting state. Events that
// the current state does not accept leave the state unchanged.
func (e *Entry) fire(ev statekit.EventType) plugin.State {
	e.mu.Lock()
	defer e.mu.Unlock()

	before := plugin.State(e.state.State().Value)
	e.state.Send(statekit.Event{Type: ev})
	after := plugin.State(e.state.State().Value)
	if after != before {
		pluginsByState.WithLabelValues(string(before)).Dec()
		pluginsByState.WithLabelValues(string(after)).Inc()
	}
	return after
}

// Info is a read-only snapshot of an entry, used by the HTTP API and CLI.
type Info struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Version     string       `json:"version"`
	InterfaceID string       `json:"interface_id,omitempty"`
	ClassName   string       `json:"class_name,omitempty"`
	Roles       []string     `json:"roles"`
	Flags       string       `json:"flags,omitempty"`
	State       plugin.State `json:"state"`
	Source      string       `json:"source,omitempty"`
	Depends     []string     `json:"dependencies,omitempty"`
}

// Info returns a snapshot of the entry.
func (e *Entry) Info() Info {
	d := e.Descriptor
	roles := make([]string, 0, len(d.Roles))
	for _, r := range d.Roles {
		roles = append(roles, r.Name)
	}
	var deps []string
	for _, dep := range d.Dependencies {
		deps = append(deps, dep.Target())
	}
	return Info{
		ID:          d.ID,
		Name:        d.Name,
		Version:     d.Version,
		InterfaceID: d.InterfaceID,
		ClassName:   d.ClassName,
		Roles:       roles,
		Flags:       d.Flags.String(),
		State:       e.State(),
		Source:      d.Source,
		Depends:     deps,
	}
}
