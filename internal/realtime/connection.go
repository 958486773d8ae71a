package realtime

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"marketchat/internal/identity"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 1 << 20
	sendBuffer     = 256

	// enqueueWait is how long Send waits on a full queue before the
	// client counts as slow.
	enqueueWait = 100 * time.Millisecond
	// closeGrace bounds the close frame write when the writer may be stuck.
	closeGrace  = time.Second
)

var (
	errConnClosed = errors.New("connection closed")
	errSlowClient = errors.New("connection send buffer full")
)

// Connection is one authenticated websocket session. Outbound frames go
// through a buffered queue drained by a single writer goroutine; Send is
// safe for concurrent use.
type Connection struct {
	ID       string
	Identity identity.Identity

	ws     *websocket.Conn
	send   chan []byte
	once   sync.Once
	closed chan struct{}
}

func newConnection(id identity.Identity, ws *websocket.Conn) *Connection {
	return &Connection{
		ID:       uuid.NewString(),
		Identity: id,
		ws:       ws,
		send:     make(chan []byte, sendBuffer),
		closed:   make(chan struct{}),
	}
}

// UserID is the authenticated user behind the connection.
func (c *Connection) UserID() string { return c.Identity.UserID }

// Send queues payload. When the queue is full it waits up to enqueueWait
// for the writer to catch up; a client that still lags is disconnected.
// Send never blocks longer than that.
func (c *Connection) Send(payload []byte) error {
	select {
	case <-c.closed:
		return errConnClosed
	case c.send <- payload:
		return nil
	default:
	}

	timer := time.NewTimer(enqueueWait)
	defer timer.Stop()

	select {
	case <-c.closed:
		return errConnClosed
	case c.send <- payload:
		return nil
	case <-timer.C:
		c.Close(websocket.CloseGoingAway, "send buffer full")
		return errSlowClient
	}
}

// Close marks the connection closed and tears the socket down in the
// background. Only the first call has any effect and it returns at once,
// even while the writer is blocked on a client that stopped reading.
func (c *Connection) Close(code int, reason string) {
	c.once.Do(func() {
		close(c.closed)
		go func() {
			deadline := time.Now().Add(closeGrace)
			_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
			_ = c.ws.Close()
		}()
	})
}

// Done is closed once the connection has been closed.
func (c *Connection) Done() <-chan struct{} { return c.closed }

func (c *Connection) start() {
	go c.writeLoop()
}

func (c *Connection) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "ping failed")
				return
			}
		}
	}
}

func (c *Connection) write(messageType int, payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, payload)
}
