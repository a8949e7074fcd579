// Package webhook is the built-in notifier plugin. It POSTs plugin and
// profile lifecycle events as JSON to a configured URL.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/HerbHall/stbemu/internal/profile"
	"github.com/HerbHall/stbemu/internal/version"
	"github.com/HerbHall/stbemu/pkg/plugin"
	"go.uber.org/zap"
)

// Compile-time interface guard.
var _ plugin.Plugin = (*Module)(nil)

// Config holds the webhook plugin configuration.
type Config struct {
	URL       string
	Timeout   time.Duration
	Enabled   bool
	Prefixes  []string
	QueueSize int
}

// Module implements the webhook notifier plugin.
type Module struct {
	logger *zap.Logger
	cfg    Config
	client *http.Client

	unsub func()
	queue chan plugin.Event
	done  chan struct{}
	wg    sync.WaitGroup
}

// New creates a new webhook plugin instance.
func New() *Module {
	return &Module{}
}

func (m *Module) Initialize(_ context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	if m.logger == nil {
		m.logger = zap.NewNop()
	}

	// Defaults.
	m.cfg = Config{
		Timeout:   10 * time.Second,
		Enabled:   true,
		Prefixes:  []string{"plugin.", "profile."},
		QueueSize: 64,
	}

	if deps.Config != nil {
		if u := deps.Config.GetString("url"); u != "" {
			m.cfg.URL = u
		}
		if d := deps.Config.GetDuration("timeout"); d > 0 {
			m.cfg.Timeout = d
		}
		if deps.Config.IsSet("enabled") {
			m.cfg.Enabled = deps.Config.GetBool("enabled")
		}
		if p := deps.Config.GetString("topics"); p != "" {
			m.cfg.Prefixes = strings.Split(p, ",")
		}
		if n := deps.Config.GetInt("queue_size"); n > 0 {
			m.cfg.QueueSize = n
		}
	}

	m.client = &http.Client{Timeout: m.cfg.Timeout}

	if m.cfg.URL == "" {
		m.logger.Warn("webhook URL not configured; notifications will be dropped")
	}

	if deps.Bus != nil && m.cfg.Enabled && m.cfg.URL != "" {
		m.queue = make(chan plugin.Event, m.cfg.QueueSize)
		m.done = make(chan struct{})
		m.wg.Add(1)
		go m.run()
		m.unsub = deps.Bus.SubscribeAll(m.enqueue)
	}

	m.logger.Info("webhook module initialized",
		zap.String("url", m.cfg.URL),
		zap.Duration("timeout", m.cfg.Timeout),
		zap.Bool("enabled", m.cfg.Enabled),
	)
	return nil
}

func (m *Module) Deinitialize(_ context.Context) error {
	if m.unsub != nil {
		m.unsub()
		m.unsub = nil
	}
	if m.done != nil {
		close(m.done)
		m.wg.Wait()
		m.done = nil
	}
	return nil
}

// Wants reports whether topic matches one of the configured prefixes.
func (m *Module) Wants(topic string) bool {
	for _, p := range m.cfg.Prefixes {
		if p = strings.TrimSpace(p); p != "" && strings.HasPrefix(topic, p) {
			return true
		}
	}
	return false
}

func (m *Module) enqueue(_ context.Context, event plugin.Event) {
	if !m.Wants(event.Topic) {
		return
	}
	select {
	case m.queue <- event:
	default:
		m.logger.Warn("webhook queue full, dropping event", zap.String("topic", event.Topic))
	}
}

func (m *Module) run() {
	defer m.wg.Done()
	for {
		select {
		case ev := <-m.queue:
			m.handleEvent(context.Background(), ev)
		case <-m.done:
			return
		}
	}
}

// Payload is the JSON body sent to the webhook URL.
type Payload struct {
	Event     string `json:"event"`
	Source    string `json:"source"`
	Timestamp string `json:"timestamp"`
	Data      any    `json:"data"`
}

// lifecycleData is the JSON view of a plugin.LifecycleEvent.
type lifecycleData struct {
	ID    string `json:"id"`
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}

func dataFor(payload any) any {
	switch v := payload.(type) {
	case plugin.LifecycleEvent:
		d := lifecycleData{ID: v.Descriptor.ID, State: string(v.State)}
		if v.Err != nil {
			d.Error = v.Err.Error()
		}
		return d
	case profile.Event:
		if v.Profile == nil {
			return nil
		}
		return v.Profile.Info(false)
	default:
		return v
	}
}

func (m *Module) handleEvent(ctx context.Context, event plugin.Event) {
	if !m.cfg.Enabled || m.cfg.URL == "" {
		return
	}

	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	payload := Payload{
		Event:     event.Topic,
		Source:    event.Source,
		Timestamp: ts.UTC().Format(time.RFC3339),
		Data:      dataFor(event.Payload),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		m.logger.Error("failed to marshal webhook payload",
			zap.String("topic", event.Topic),
			zap.Error(err),
		)
		return
	}

	m.send(ctx, body, event.Topic)
}

func (m *Module) send(ctx context.Context, body []byte, topic string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.URL, bytes.NewReader(body))
	if err != nil {
		m.logger.Error("failed to create webhook request", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "stbemu-webhook/"+version.Short())

	resp, err := m.client.Do(req)
	if err != nil {
		m.logger.Warn("webhook delivery failed",
			zap.String("url", m.cfg.URL),
			zap.String("topic", topic),
			zap.Error(err),
		)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		m.logger.Warn("webhook endpoint returned error",
			zap.String("url", m.cfg.URL),
			zap.String("topic", topic),
			zap.Int("status_code", resp.StatusCode),
		)
		return
	}

	m.logger.Debug("webhook delivered",
		zap.String("topic", topic),
		zap.Int("status_code", resp.StatusCode),
	)
}
