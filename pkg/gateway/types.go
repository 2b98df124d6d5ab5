package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/batteryshark/agent-armory/pkg/events"
	"github.com/batteryshark/agent-armory/pkg/router"
)

// Frame type discriminators on the outbound socket.
const (
	FrameHello    = "hello"
	FrameResponse = "response"
	FrameEvent    = "event"
	FrameShutdown = "shutdown"
)

// HelloFrame is the first frame sent on every connection. It carries the
// session id (possibly server-generated) and the last sequence number
// already assigned on the session's event stream, so a reconnecting
// client can tell whether it missed anything.
type HelloFrame struct {
	Type      string `json:"type"`
	Server    string `json:"server"`
	SessionID string `json:"session_id"`
	Sequence  uint64 `json:"sequence"`
}

// ResponseFrame wraps a synchronous reply to one inbound message.
type ResponseFrame struct {
	Type string `json:"type"`
	router.Response
}

// EventFrame wraps one session stream event.
type EventFrame struct {
	Type string `json:"type"`
	events.Event
}

// Client is one live WebSocket connection. A connection is bound to
// exactly one session for its lifetime.
type Client struct {
	ID          string
	SessionID   string
	Conn        *websocket.Conn
	ConnectedAt time.Time
	IPAddress   string

	mu           sync.Mutex
	lastActivity time.Time
}

// WriteJSON serializes writes to the connection. gorilla/websocket
// permits only one concurrent writer.
func (c *Client) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteJSON(v)
}

// Touch records inbound activity.
func (c *Client) Touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// LastActivity reports when the client last sent a frame.
func (c *Client) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// ClientInfo is the externally visible view of a connection.
type ClientInfo struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"session_id"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastActivity time.Time `json:"last_activity"`
	IPAddress    string    `json:"ip_address"`
	Idle         bool      `json:"idle"`
}
