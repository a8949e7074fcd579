// Package stats is the built-in statistics plugin. It counts bus events per
// topic since the last reset; the profile switcher resets it on every switch.
package stats

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/HerbHall/stbemu/pkg/plugin"
	"github.com/HerbHall/stbemu/pkg/roles"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin       = (*Module)(nil)
	_ plugin.HTTPProvider = (*Module)(nil)
	_ roles.Statistics    = (*Module)(nil)
)

var eventsSinceReset = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "stbemu_statistics_events",
		Help: "Events seen per topic since the last statistics reset.",
	},
	[]string{"topic"},
)

func init() {
	prometheus.MustRegister(eventsSinceReset)
}

// Counter is one topic count.
type Counter struct {
	Topic string `json:"topic"`
	Count uint64 `json:"count"`
}

// Snapshot is the statistics state at one point in time.
type Snapshot struct {
	Since    time.Time `json:"since"`
	Counters []Counter `json:"counters"`
}

// Module implements the statistics plugin.
type Module struct {
	logger *zap.Logger
	unsub  func()

	mu     sync.Mutex
	counts map[string]uint64
	since  time.Time
}

// New creates a new statistics plugin instance.
func New() *Module {
	return &Module{counts: make(map[string]uint64), since: time.Now()}
}

func (m *Module) Initialize(_ context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	if deps.Bus != nil {
		m.unsub = deps.Bus.SubscribeAll(m.record)
	}
	m.Reset()
	return nil
}

func (m *Module) Deinitialize(_ context.Context) error {
	if m.unsub != nil {
		m.unsub()
		m.unsub = nil
	}
	return nil
}

// Reset clears every counter.
func (m *Module) Reset() {
	m.mu.Lock()
	m.counts = make(map[string]uint64)
	m.since = time.Now()
	m.mu.Unlock()
	eventsSinceReset.Reset()
	if m.logger != nil {
		m.logger.Debug("statistics reset")
	}
}

// Snapshot returns the counters sorted by topic.
func (m *Module) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Snapshot{Since: m.since, Counters: make([]Counter, 0, len(m.counts))}
	for topic, n := range m.counts {
		s.Counters = append(s.Counters, Counter{Topic: topic, Count: n})
	}
	sort.Slice(s.Counters, func(i, j int) bool { return s.Counters[i].Topic < s.Counters[j].Topic })
	return s
}

func (m *Module) record(_ context.Context, ev plugin.Event) {
	m.mu.Lock()
	m.counts[ev.Topic]++
	m.mu.Unlock()
	eventsSinceReset.WithLabelValues(ev.Topic).Inc()
}

// Routes exposes the counters under /api/v1/<plugin id>.
func (m *Module) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: "GET", Path: "/snapshot", Handler: m.handleSnapshot},
		{Method: "POST", Path: "/reset", Handler: m.handleReset},
	}
}

func (m *Module) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(m.Snapshot())
}

func (m *Module) handleReset(w http.ResponseWriter, _ *http.Request) {
	m.Reset()
	w.WriteHeader(http.StatusNoContent)
}
