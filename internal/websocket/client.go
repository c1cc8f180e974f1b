package websocket

import (
	"context"
	"sync"
	"time"

	"support-chat-be/internal/entity"
	"support-chat-be/internal/pkg/logger"
	"support-chat-be/pkg/protocol"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 * 1024
)

// ChatService is what a connection needs from the chat service.
type ChatService interface {
	// CanJoin rejects unknown and closed sessions.
	CanJoin(ctx context.Context, sessionID uuid.UUID) error
	SendVisitorMessage(ctx context.Context, sessionID uuid.UUID, text string) (*entity.ChatMessage, error)
}

// Client is a middleman between the websocket connection and a session actor.
type Client struct {
	id      string
	hub     *Hub
	service ChatService
	conn    *websocket.Conn
	logger  logger.ILogger

	// Buffered channel of outbound frames.
	send chan []byte

	mu      sync.Mutex
	closed  bool
	session uuid.UUID
}

func newClient(hub *Hub, service ChatService, conn *websocket.Conn, bufferSize int, log logger.ILogger) *Client {
	return &Client{
		id:      uuid.NewString(),
		hub:     hub,
		service: service,
		conn:    conn,
		logger:  log,
		send:    make(chan []byte, bufferSize),
	}
}

func (c *Client) ID() string {
	return c.id
}

func (c *Client) Enqueue(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Close stops the write pump; the read pump follows once the socket closes.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) joined() uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *Client) reply(ev protocol.Event) {
	c.Enqueue(protocol.MustEncode(ev))
}

// readPump pumps frames from the websocket connection to the session actor.
func (c *Client) readPump() {
	defer func() {
		if sid := c.joined(); sid != uuid.Nil {
			c.hub.Leave(sid, c)
		}
		c.Close()
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("Client", "Unexpected close", map[string]interface{}{"peer_id": c.id, "error": err.Error()})
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		ev, err := protocol.DecodeClient(raw)
		if err != nil {
			c.logger.Warn("Client", "Rejected frame", map[string]interface{}{"peer_id": c.id, "error": err.Error()})
			c.reply(protocol.Error{Error: err.Error()})
			continue
		}
		c.handle(ev)
	}
}

func (c *Client) handle(ev protocol.Event) {
	ctx := context.Background()

	switch e := ev.(type) {
	case protocol.Ping:
		c.reply(protocol.Pong{})

	case protocol.Pong:

	case protocol.Join:
		sid, err := uuid.Parse(e.SessionID)
		if err != nil {
			c.reply(protocol.Error{Error: "invalid sessionId"})
			return
		}
		if err := c.service.CanJoin(ctx, sid); err != nil {
			c.reply(protocol.Error{Error: err.Error()})
			return
		}

		c.mu.Lock()
		previous := c.session
		c.session = sid
		c.mu.Unlock()
		if previous != uuid.Nil && previous != sid {
			c.hub.Leave(previous, c)
		}

		if err := c.hub.Join(sid, c); err != nil {
			c.logger.Error("Client", "Join failed", map[string]interface{}{"peer_id": c.id, "session_id": sid.String(), "error": err.Error()})
			c.reply(protocol.Error{Error: err.Error()})
		}

	case protocol.Send:
		sid := c.joined()
		if e.SessionID != "" {
			parsed, err := uuid.Parse(e.SessionID)
			if err != nil || (sid != uuid.Nil && parsed != sid) {
				c.reply(protocol.Error{Error: "invalid sessionId"})
				return
			}
			sid = parsed
		}
		if sid == uuid.Nil {
			c.reply(protocol.Error{Error: "join a session first"})
			return
		}
		if _, err := c.service.SendVisitorMessage(ctx, sid, e.Text); err != nil {
			c.reply(protocol.Error{Error: err.Error()})
		}
	}
}

// writePump pumps frames from the actor to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
