package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/recondeck/recondeck/internal/stream"
)

const writeWait = 10 * time.Second

// Hub tracks one websocket subscriber per client id and relays enumeration
// chunks to it. A subscriber's disconnect is reported through the
// disconnect callback so the running job can be torn down.
type Hub struct {
	mu           sync.Mutex
	conns        map[string]*wsConn
	upgrader     websocket.Upgrader
	logger       *slog.Logger
	onDisconnect func(clientID string)
}

type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithHubLogger sets the structured logger.
func WithHubLogger(logger *slog.Logger) HubOption {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithDisconnectCallback registers a function invoked when a subscriber's
// socket closes.
func WithDisconnectCallback(fn func(clientID string)) HubOption {
	return func(h *Hub) { h.onDisconnect = fn }
}

// NewHub creates an empty hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		conns: make(map[string]*wsConn),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle upgrades the request and registers the socket as the subscriber
// for clientID, replacing any previous one. It blocks reading the socket
// until the peer disconnects.
func (h *Hub) Handle(w http.ResponseWriter, r *http.Request, clientID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "client_id", clientID, "error", err)
		return
	}
	c := &wsConn{conn: conn}

	h.mu.Lock()
	if prev, ok := h.conns[clientID]; ok {
		prev.conn.Close()
	}
	h.conns[clientID] = c
	h.mu.Unlock()
	h.logger.Info("subscriber connected", "client_id", clientID)

	// Subscribers never send application data; the read loop only serves
	// to detect the disconnect.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.mu.Lock()
	current := h.conns[clientID] == c
	if current {
		delete(h.conns, clientID)
	}
	h.mu.Unlock()
	conn.Close()

	if current {
		h.logger.Info("subscriber disconnected", "client_id", clientID)
		if h.onDisconnect != nil {
			h.onDisconnect(clientID)
		}
	}
}

// send delivers one chunk to the subscriber, if any. A missing subscriber
// is not an error; chunks emitted before the socket connects are simply
// not relayed.
func (h *Hub) send(clientID string, chunk []byte) error {
	h.mu.Lock()
	c, ok := h.conns[clientID]
	h.mu.Unlock()
	if !ok {
		return nil
	}
	return c.write(websocket.TextMessage, chunk)
}

// closeClient sends the end-of-stream close frame and drops the
// subscriber.
func (h *Hub) closeClient(clientID string) error {
	h.mu.Lock()
	c, ok := h.conns[clientID]
	delete(h.conns, clientID)
	h.mu.Unlock()
	if !ok {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "end of stream")
	err := c.write(websocket.CloseMessage, msg)
	c.conn.Close()
	return err
}

// Sink returns a stream sink relaying chunks to the clientID's
// subscriber.
func (h *Hub) Sink(clientID string) stream.Sink {
	return &hubSink{hub: h, clientID: clientID}
}

type hubSink struct {
	hub      *Hub
	clientID string
}

func (s *hubSink) Send(chunk []byte) error { return s.hub.send(s.clientID, chunk) }
func (s *hubSink) Close() error            { return s.hub.closeClient(s.clientID) }
