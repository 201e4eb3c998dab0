package ws

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/mikhael221/gighub-realtime/internal/realtime"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const maxInboundMessageSize = 64 * 1024

var errSendBufferFull = errors.New("ws: send buffer full")

// client is one live websocket session. Outbound events go through a
// buffered channel drained by the write pump; a full buffer drops the
// event rather than blocking a publisher.
type client struct {
	id     string
	userID uuid.UUID
	ws     *websocket.Conn
	send   chan realtime.Event
	logger *slog.Logger

	writeTimeout time.Duration
	pongTimeout  time.Duration

	closeOnce sync.Once
	done      chan struct{}
}

func newClient(ws *websocket.Conn, userID uuid.UUID, sendBuffer int, writeTimeout, pongTimeout time.Duration, logger *slog.Logger) *client {
	id := uuid.NewString()
	return &client{
		id:           id,
		userID:       userID,
		ws:           ws,
		send:         make(chan realtime.Event, sendBuffer),
		logger:       logger.With(slog.String("conn", id), slog.String("user_id", userID.String())),
		writeTimeout: writeTimeout,
		pongTimeout:  pongTimeout,
		done:         make(chan struct{}),
	}
}

func (c *client) ID() string { return c.id }

// Send queues ev for delivery. Never blocks: a slow consumer whose buffer
// fills loses events and re-syncs over REST.
func (c *client) Send(ev realtime.Event) error {
	select {
	case <-c.done:
		return websocket.ErrCloseSent
	default:
	}
	select {
	case c.send <- ev:
		return nil
	default:
		return errSendBufferFull
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

// writePump serializes all writes to the socket and keeps the connection
// alive with periodic pings.
func (c *client) writePump() {
	pingInterval := c.pongTimeout * 9 / 10
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case ev := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// readPump consumes inbound frames and hands each envelope to the
// dispatcher. It returns when the peer goes away, which unwinds the whole
// session.
func (c *client) readPump(dispatch func(c *client, env envelope)) {
	defer c.close()

	c.ws.SetReadLimit(maxInboundMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(c.pongTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(c.pongTimeout))
		return nil
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("read failed", "error", err)
			}
			return
		}
		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
			c.sendError("", "invalid_request", "malformed event envelope")
			continue
		}
		dispatch(c, env)
	}
}

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type operationErrorData struct {
	Operation string `json:"operation,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// sendError reports a failed operation to this caller only; other group
// members never see it.
func (c *client) sendError(op, code, msg string) {
	_ = c.Send(realtime.Event{Name: "operation_error", Data: operationErrorData{
		Operation: op,
		Code:      code,
		Message:   msg,
	}})
}
