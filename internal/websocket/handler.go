package websocket

import (
	"support-chat-be/internal/metrics"
	"support-chat-be/internal/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

type Handler struct {
	hub        *Hub
	service    ChatService
	bufferSize int
	metrics    *metrics.Support
	logger     logger.ILogger
}

func NewHandler(hub *Hub, service ChatService, bufferSize int, m *metrics.Support, log logger.ILogger) *Handler {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Handler{hub: hub, service: service, bufferSize: bufferSize, metrics: m, logger: log}
}

func (h *Handler) RegisterRoutes(r fiber.Router) {
	r.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	r.Get("/ws", websocket.New(h.serve))
}

// serve runs one visitor connection. The read pump stays on the handler
// goroutine; fiber releases the connection when it returns.
func (h *Handler) serve(conn *websocket.Conn) {
	client := newClient(h.hub, h.service, conn, h.bufferSize, h.logger)
	h.metrics.ConnectionOpened()
	defer h.metrics.ConnectionClosed()

	h.logger.Info("Client", "Connection opened", map[string]interface{}{
		"peer_id": client.ID(),
		"ip":      conn.RemoteAddr().String(),
	})

	go client.writePump()
	client.readPump()
}
