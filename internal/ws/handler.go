// Package ws streams plugin and profile lifecycle events to WebSocket
// clients.
package ws

import (
	"net/http"

	"github.com/HerbHall/stbemu/internal/auth"
	"github.com/HerbHall/stbemu/pkg/plugin"
	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// PrefixSubscriber is the part of the event bus the stream needs.
type PrefixSubscriber interface {
	SubscribePrefix(prefix string, handler plugin.EventHandler) (unsubscribe func())
}

// Prefixes are the bus topic prefixes forwarded to clients.
var Prefixes = []string{"plugin.", "profile."}

// Handler provides the WebSocket event stream endpoint.
type Handler struct {
	hub    *Hub
	tokens *auth.TokenService
	logger *zap.Logger
}

// NewHandler creates the event stream handler. tokens may be nil, in which
// case connections are not authenticated.
func NewHandler(tokens *auth.TokenService, bus PrefixSubscriber, logger *zap.Logger) *Handler {
	return &Handler{
		hub:    NewHub(bus, logger),
		tokens: tokens,
		logger: logger,
	}
}

// RegisterRoutes registers WebSocket routes on the server mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/ws/events", h.handleEvents)
}

// Close ends every open stream.
func (h *Handler) Close() { h.hub.Close() }

// Hub returns the client hub.
func (h *Handler) Hub() *Hub { return h.hub }

// handleEvents streams lifecycle events. The optional topics query
// parameter selects prefixes, e.g. ?topics=profile.changed,plugin.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	subject := "anonymous"
	if h.tokens != nil {
		// Browsers cannot set headers on a WebSocket handshake.
		token := r.URL.Query().Get("token")
		if token == "" {
			http.Error(w, "missing token parameter", http.StatusUnauthorized)
			return
		}
		claims, err := h.tokens.ValidateAccessToken(token)
		if err != nil {
			http.Error(w, "invalid or expired token", http.StatusUnauthorized)
			return
		}
		subject = claims.Subject
	}

	topics, err := ParseTopics(r.URL.Query().Get("topics"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Any origin: clients authenticate with the token.
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.logger.Error("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	client := newClient(subject, topics, h.logger)
	detach := h.hub.Attach(client)
	defer detach()

	client.stream(r.Context(), conn)
	conn.Close(websocket.StatusNormalClosure, "")
}
