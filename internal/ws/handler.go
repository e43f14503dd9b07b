package ws

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/humanoid-lab/motion-bridge/internal/session"
)

// Controller is the session surface the handler drives.
type Controller interface {
	SubmitText(text string)
	SubmitCommand(name string)
	Snapshot() session.State
}

type incomingMessage struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Command string `json:"command,omitempty"`
}

type outgoingMessage struct {
	Type    string         `json:"type"`
	State   *session.State `json:"state,omitempty"`
	Message string         `json:"message,omitempty"`
}

// Handler serves the observer websocket endpoint: clients submit prompt text
// and commands, the server pushes state updates and notices to every
// connected client.
type Handler struct {
	logger     *zap.Logger
	upgrader   websocket.Upgrader
	controller Controller

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn   *websocket.Conn
	sendMu sync.Mutex
}

// NewHandler executes the newHandler function.
func NewHandler(controller Controller, logger *zap.Logger) *Handler {
	return &Handler{
		logger:     logger,
		controller: controller,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: map[*client]struct{}{},
	}
}

// Handle upgrades the request and serves the client until it disconnects.
func (h *Handler) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &client{conn: conn}
	h.register(c)
	defer h.unregister(c)

	// Current state first so a fresh client does not wait for a change.
	state := h.controller.Snapshot()
	c.send(outgoingMessage{Type: "state-update", State: &state})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg incomingMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Warn("malformed client message", zap.Error(err))
			c.send(outgoingMessage{Type: "error", Message: "malformed message"})
			continue
		}
		h.dispatch(c, msg)
	}
}

func (h *Handler) dispatch(c *client, msg incomingMessage) {
	switch msg.Type {
	case "text-input":
		h.controller.SubmitText(msg.Text)
	case "command":
		h.controller.SubmitCommand(msg.Command)
	default:
		c.send(outgoingMessage{Type: "error", Message: "unknown message type: " + msg.Type})
	}
}

// BroadcastState pushes a state update to every connected client.
func (h *Handler) BroadcastState(state session.State) {
	h.broadcast(outgoingMessage{Type: "state-update", State: &state})
}

// BroadcastNotice pushes a user-facing message to every connected client.
func (h *Handler) BroadcastNotice(message string) {
	h.broadcast(outgoingMessage{Type: "notice", Message: message})
}

func (h *Handler) broadcast(msg outgoingMessage) {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		c.send(msg)
	}
}

func (h *Handler) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Handler) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.conn.Close()
}

func (c *client) send(msg outgoingMessage) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	c.conn.WriteJSON(msg)
}
