package hub

import (
	"encoding/json"
	"sync"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
)

// Envelope is the wire frame in both directions.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type outEnvelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Conn is the subset of the websocket connection the hub needs; tests swap
// in a fake.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client is one connected participant. A client belongs to at most one room
// at a time.
type Client struct {
	ID       string
	UserID   string
	Username string

	conn    Conn
	writeMu sync.Mutex
}

// NewClient wraps a websocket connection with a fresh connection id
func NewClient(conn Conn, userID, username string) *Client {
	return &Client{
		ID:       uuid.NewString(),
		UserID:   userID,
		Username: username,
		conn:     conn,
	}
}

// ConnID returns the connection id
func (c *Client) ConnID() string {
	return c.ID
}

// Emit writes one JSON envelope to the client. Writes are serialized because
// broadcasts and the read-loop reply path run on different goroutines.
func (c *Client) Emit(event string, payload any) error {
	data, err := json.Marshal(outEnvelope{Type: event, Payload: payload})
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close closes the underlying connection
func (c *Client) Close() error {
	return c.conn.Close()
}
