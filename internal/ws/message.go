package ws

import (
	"time"

	"github.com/HerbHall/stbemu/internal/profile"
	"github.com/HerbHall/stbemu/pkg/plugin"
)

// MessageType discriminates WebSocket messages. Values mirror bus topics.
type MessageType string

const (
	MessagePluginDiscovered  MessageType = plugin.TopicPluginDiscovered
	MessagePluginInitialized MessageType = plugin.TopicPluginInitialized
	MessagePluginDisabled    MessageType = plugin.TopicPluginDisabled
	MessagePluginUnloaded    MessageType = plugin.TopicPluginUnloaded
	MessageProfileAdded      MessageType = plugin.TopicProfileAdded
	MessageProfileRemoved    MessageType = plugin.TopicProfileRemoved
	MessageProfileChanged    MessageType = plugin.TopicProfileChanged
)

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type      MessageType `json:"type"`
	Source    string      `json:"source,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Data      any         `json:"data"`
}

// PluginData is the payload for plugin.* messages.
type PluginData struct {
	ID    string       `json:"id"`
	State plugin.State `json:"state"`
	Error string       `json:"error,omitempty"`
}

// ProfileData is the payload for profile.* messages.
type ProfileData struct {
	profile.Info
	Removed bool `json:"removed,omitempty"`
}

// messageFor converts a bus event into a stream message. Events with an
// unexpected payload are dropped.
func messageFor(ev plugin.Event) (Message, bool) {
	msg := Message{Type: MessageType(ev.Topic), Source: ev.Source, Timestamp: ev.Timestamp}
	switch p := ev.Payload.(type) {
	case plugin.LifecycleEvent:
		data := PluginData{ID: p.Descriptor.ID, State: p.State}
		if p.Err != nil {
			data.Error = p.Err.Error()
		}
		msg.Data = data
	case profile.Event:
		if p.Profile == nil {
			return Message{}, false
		}
		msg.Data = ProfileData{Info: p.Profile.Info(false), Removed: p.Removed}
	default:
		return Message{}, false
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	return msg, true
}
