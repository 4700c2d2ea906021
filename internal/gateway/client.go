package gateway

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/soyeahso/concierge/internal/domain"
	"github.com/soyeahso/concierge/internal/logging"
)

// ErrClientClosed is returned when writing to a closed connection.
var ErrClientClosed = errors.New("gateway: client connection closed")

// Client is an authenticated WebSocket connection speaking for one resident.
type Client struct {
	ConnID      string
	Info        ClientInfo
	From        string
	ChatID      string
	Group       bool
	ConnectedAt time.Time

	socket *websocket.Conn
	mu     sync.Mutex
	closed bool
}

// NewClient creates a Client for a connection that passed the handshake.
// Without a declared identity the connection id stands in for it.
func NewClient(conn *websocket.Conn, p ConnectParams) *Client {
	c := &Client{
		ConnID:      uuid.NewString(),
		Info:        p.Client,
		From:        p.From,
		ChatID:      p.ChatID,
		Group:       p.Group,
		ConnectedAt: time.Now(),
		socket:      conn,
	}
	if c.From == "" {
		c.From = "ws:" + c.ConnID
	}
	if c.ChatID == "" {
		c.ChatID = c.ConnID
	}
	return c
}

// ChatType returns how messages from this client are classified.
func (c *Client) ChatType() domain.ChatType {
	if c.Group {
		return domain.ChatTypeGroup
	}
	return domain.ChatTypeDM
}

// Matches reports whether an outbound target addresses this client.
func (c *Client) Matches(target string) bool {
	return target == c.From || target == c.ChatID || target == c.ConnID
}

// Send writes a frame. Safe for concurrent use.
func (c *Client) Send(frame Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	return c.socket.WriteJSON(frame)
}

// SendEvent sends a named event with payload.
func (c *Client) SendEvent(event string, payload any, seq int64) error {
	f, err := NewEvent(event, payload, seq)
	if err != nil {
		return err
	}
	return c.Send(f)
}

// Respond sends a success response for the given request id.
func (c *Client) Respond(reqID string, payload any) error {
	f, err := NewResponse(reqID, payload)
	if err != nil {
		return err
	}
	return c.Send(f)
}

// RespondError sends an error response for the given request id.
func (c *Client) RespondError(reqID string, e ErrorShape) error {
	return c.Send(NewErrorResponse(reqID, e))
}

// ReadFrame reads the next frame.
func (c *Client) ReadFrame() (Frame, error) {
	_, msg, err := c.socket.ReadMessage()
	if err != nil {
		return Frame{}, err
	}
	var f Frame
	if err := json.Unmarshal(msg, &f); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// Close closes the connection once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.socket.Close()
}

// ClientRegistry tracks connected clients.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*Client
	log     *logging.Logger
}

// NewClientRegistry creates an empty registry.
func NewClientRegistry(log *logging.Logger) *ClientRegistry {
	return &ClientRegistry{clients: make(map[string]*Client), log: log}
}

// Add registers a connected client.
func (r *ClientRegistry) Add(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.ConnID] = c
	r.log.Info().Str("connId", c.ConnID).Str("from", c.From).Msg("client connected")
}

// Remove unregisters a client.
func (r *ClientRegistry) Remove(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, connID)
	r.log.Info().Str("connId", connID).Msg("client disconnected")
}

// Count returns the number of connected clients.
func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Matching returns the clients an outbound target addresses. A resident
// with several open tabs gets every one of them.
func (r *ClientRegistry) Matching(target string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Client
	for _, c := range r.clients {
		if c.Matches(target) {
			out = append(out, c)
		}
	}
	return out
}

// CloseAll closes and forgets every client.
func (r *ClientRegistry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, c := range r.clients {
		c.Close()
		delete(r.clients, id)
	}
}
