package transport

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arcflow/orchestrator/events"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// eventClient adapts one WebSocket connection into an events.Sink, buffering
// outbound events on a channel the way wsClient does in the teacher's
// websocket transport.
type eventClient struct {
	conn   *websocket.Conn
	send   chan events.Event
	mu     sync.Mutex
	closed bool
}

func newEventClient(conn *websocket.Conn) *eventClient {
	return &eventClient{conn: conn, send: make(chan events.Event, 256)}
}

// Send implements events.Sink. A full buffer or closed client reports
// failure so the bus unsubscribes it, matching events.py's
// try/except-then-discard behaviour.
func (c *eventClient) Send(e events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClosed
	}
	select {
	case c.send <- e:
		return nil
	default:
		return errBufferFull
	}
}

func (c *eventClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
		c.conn.Close()
	}
}

// writePump relays buffered events to the socket and keeps the connection
// alive with periodic pings, grounded on wsClient.writePump.
func (c *eventClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards client input beyond keep-alive pong handling; this
// stream is server-to-client only, so any inbound message just resets the
// read deadline, grounded on wsClient.readPump's pong handler.
func (c *eventClient) readPump(bus *events.Bus) {
	defer func() {
		bus.Unsubscribe(c)
		c.close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// handleEvents upgrades the connection and subscribes it to every
// orchestration event for the life of the socket.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Logger.Warn("websocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}

	client := newEventClient(conn)
	s.Engine.Machine.Bus.Subscribe(client)

	go client.writePump()
	client.readPump(s.Engine.Machine.Bus)
}

type wsError string

func (e wsError) Error() string { return string(e) }

const (
	errClosed     = wsError("client closed")
	errBufferFull = wsError("client send buffer full")
)
