package ws

import (
	"sync"

	"github.com/gorilla/websocket"

	"twatter-messaging/internal/models"
)

// wsConn is the slice of *websocket.Conn the client needs for writing.
type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client is an authenticated connection: the transport handle plus the
// identity resolved once at handshake. Writes are serialized because
// fan-outs from concurrent handlers may target the same connection.
type Client struct {
	UserID string
	Info   ConnInfo

	conn    wsConn
	writeMu sync.Mutex
}

func newClient(conn wsConn, info ConnInfo) *Client {
	return &Client{UserID: info.UserID, Info: info, conn: conn}
}

// Send delivers a single event to this connection only.
func (c *Client) Send(event string, data any) error {
	payload, err := models.NewEnvelope(event, data)
	if err != nil {
		return err
	}
	return c.write(websocket.TextMessage, payload)
}

func (c *Client) sendRaw(payload []byte) error {
	return c.write(websocket.TextMessage, payload)
}

func (c *Client) ping() error {
	return c.write(websocket.PingMessage, nil)
}

func (c *Client) write(messageType int, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(messageType, payload)
}

// Close closes the underlying transport.
func (c *Client) Close() error {
	return c.conn.Close()
}
