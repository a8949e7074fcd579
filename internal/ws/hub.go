package ws

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/HerbHall/stbemu/pkg/plugin"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	sendBuffer   = 64
	writeTimeout = 5 * time.Second
	pingInterval = 30 * time.Second
)

var (
	clientsConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "stbemu_ws_clients",
		Help: "Connected event stream clients.",
	})
	messagesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stbemu_ws_messages_dropped_total",
		Help: "Events not delivered because a client's buffer was full.",
	})
)

func init() {
	prometheus.MustRegister(clientsConnected, messagesDropped)
}

// ParseTopics turns the comma-separated topics query value into bus
// prefixes. Empty means every stream prefix. Each entry must fall under one
// of Prefixes; "profile.changed" narrows the stream to that topic.
func ParseTopics(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return append([]string(nil), Prefixes...), nil
	}
	var out []string
	for _, t := range strings.Split(raw, ",") {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if !streamable(t) {
			return nil, fmt.Errorf("topic %q is not streamed; use one under %s", t, strings.Join(Prefixes, " or "))
		}
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no topics in %q", raw)
	}
	return out, nil
}

func streamable(topic string) bool {
	for _, p := range Prefixes {
		if strings.HasPrefix(topic, p) {
			return true
		}
	}
	return false
}

// Client is one event stream subscriber.
type Client struct {
	subject string
	topics  []string
	logger  *zap.Logger

	mu      sync.Mutex
	send    chan Message
	closed  bool
	dropped int
}

func newClient(subject string, topics []string, logger *zap.Logger) *Client {
	return &Client{
		subject: subject,
		topics:  topics,
		logger:  logger,
		send:    make(chan Message, sendBuffer),
	}
}

// Dropped returns how many messages were discarded for this client.
func (c *Client) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// deliver queues msg without blocking the bus. A full buffer drops it.
func (c *Client) deliver(msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- msg:
	default:
		c.dropped++
		messagesDropped.Inc()
		c.logger.Warn("event stream client too slow, dropping message",
			zap.String("subject", c.subject),
			zap.String("type", string(msg.Type)),
		)
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Hub subscribes each connected client to its own bus prefixes.
type Hub struct {
	bus    PrefixSubscriber
	logger *zap.Logger

	mu      sync.Mutex
	clients map[*Client][]func()
}

// NewHub creates a hub over bus. A nil bus accepts clients that never
// receive anything.
func NewHub(bus PrefixSubscriber, logger *zap.Logger) *Hub {
	return &Hub{bus: bus, logger: logger, clients: make(map[*Client][]func())}
}

// Attach subscribes c to its topics. The returned detach unsubscribes it
// and closes its send channel; calling it twice is harmless.
func (h *Hub) Attach(c *Client) (detach func()) {
	var unsubs []func()
	if h.bus != nil {
		for _, topic := range c.topics {
			unsubs = append(unsubs, h.bus.SubscribePrefix(topic, func(_ context.Context, ev plugin.Event) {
				if msg, ok := messageFor(ev); ok {
					c.deliver(msg)
				}
			}))
		}
	}
	h.mu.Lock()
	h.clients[c] = unsubs
	h.mu.Unlock()
	clientsConnected.Inc()
	h.logger.Debug("event stream client attached",
		zap.String("subject", c.subject),
		zap.Strings("topics", c.topics),
	)
	return func() { h.detach(c) }
}

func (h *Hub) detach(c *Client) {
	h.mu.Lock()
	unsubs, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if !ok {
		return
	}
	for _, unsub := range unsubs {
		unsub()
	}
	c.close()
	clientsConnected.Dec()
	h.logger.Debug("event stream client detached",
		zap.String("subject", c.subject),
		zap.Int("dropped", c.Dropped()),
	)
}

// ClientCount returns the number of attached clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close detaches every client, ending their streams.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		h.detach(c)
	}
}

// stream writes queued messages to conn until the client goes away, the
// hub closes the client, or ctx ends. Clients are not expected to send, so
// the read side only watches for the close frame.
func (c *Client) stream(ctx context.Context, conn *websocket.Conn) {
	ctx = conn.CloseRead(ctx)
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, conn, msg)
			cancel()
			if err != nil {
				c.logger.Debug("event stream write failed", zap.String("subject", c.subject), zap.Error(err))
				return
			}
		case <-ping.C:
			pctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				c.logger.Debug("event stream ping failed", zap.String("subject", c.subject), zap.Error(err))
				return
			}
		}
	}
}
