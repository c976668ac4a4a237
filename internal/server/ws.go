package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jpalmerr/cascade/internal/metrics"
	"github.com/jpalmerr/cascade/internal/stream"
)

const (
	// wsWriteTimeout is the deadline for a single write to a client.
	wsWriteTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong response before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod controls how often the server sends WebSocket ping frames.
	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// errorBufSize is the per-client queue depth for error replies.
	errorBufSize = 8
)

// WebSocket event names sent to clients.
const (
	EventUpdate = "update"
	EventError  = "error"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// allow all origins; apply CORS at the reverse proxy
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Message is the JSON envelope sent to WebSocket clients.
type Message struct {
	Event string         `json:"event"`
	Data  *stream.Record `json:"data,omitempty"`
	Error string         `json:"error,omitempty"`
}

// UpdateRequest is a write sent by a WebSocket client.
type UpdateRequest struct {
	Key    string          `json:"key"`
	Value  json.RawMessage `json:"value"`
	Origin string          `json:"origin,omitempty"`
}

// handleWebSocket upgrades the connection and streams records to the client
// while applying the updates it sends. Blocks until the connection closes.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	keys, replay, err := streamParams(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response
		return
	}

	ch := s.stream.Subscribe(keys...)
	defer s.stream.Unsubscribe(ch)

	s.metrics.ClientConnected(metrics.TransportWebSocket)
	defer s.metrics.ClientDisconnected(metrics.TransportWebSocket)

	c := &wsClient{
		conn:   conn,
		errors: make(chan string, errorBufSize),
		done:   make(chan struct{}),
	}

	var initial []stream.Record
	if replay {
		initial = s.snapshot(keys)
	}

	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		c.writePump(r, ch, initial)
	}()

	c.readPump(s, r)
	close(c.done)
	<-pumpDone
}

// wsClient is one connected WebSocket client.
type wsClient struct {
	conn   *websocket.Conn
	errors chan string
	done   chan struct{}
}

// writePump is the only goroutine writing to the connection. It forwards
// records and error replies and sends periodic pings.
func (c *wsClient) writePump(r *http.Request, records <-chan stream.Record, initial []stream.Record) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for i := range initial {
		if err := c.writeJSON(Message{Event: EventUpdate, Data: &initial[i]}); err != nil {
			return
		}
	}

	for {
		select {
		case rec, ok := <-records:
			if !ok {
				c.closeWith(websocket.CloseNormalClosure, "")
				return
			}
			if err := c.writeJSON(Message{Event: EventUpdate, Data: &rec}); err != nil {
				return
			}

		case msg := <-c.errors:
			if err := c.writeJSON(Message{Event: EventError, Error: msg}); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-r.Context().Done():
			c.closeWith(websocket.CloseGoingAway, "server shutting down")
			return

		case <-c.done:
			return
		}
	}
}

// readPump applies client updates and processes control frames until the
// connection closes.
func (c *wsClient) readPump(s *Server, r *http.Request) {
	c.conn.SetReadLimit(maxValueBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var req UpdateRequest
		if err := json.Unmarshal(data, &req); err != nil {
			c.reportError("message must be a JSON object with key and value")
			continue
		}
		if req.Key == "" {
			c.reportError("key is required")
			continue
		}
		if len(req.Value) == 0 {
			c.reportError("value is required")
			continue
		}

		origin := req.Origin
		if origin == "" {
			origin = r.RemoteAddr
		}
		rec := s.source.Update(origin, req.Key, req.Value)
		s.logger.Debug("context updated", "key", req.Key, "version", rec.ID, "origin", origin)
	}
}

// reportError queues an error reply, dropping it if the client is not
// keeping up.
func (c *wsClient) reportError(msg string) {
	select {
	case c.errors <- msg:
	default:
	}
}

func (c *wsClient) writeJSON(m Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsClient) closeWith(code int, reason string) {
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
}
