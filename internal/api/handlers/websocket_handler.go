package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/trendscout/backend/internal/pipeline"
	"github.com/trendscout/backend/pkg/logger"
)

type EventSource interface {
	Subscribe() (<-chan pipeline.Event, func())
}

// WebSocketHandler streams run events to connected clients.
type WebSocketHandler struct {
	events EventSource
}

func NewWebSocketHandler(events EventSource) *WebSocketHandler {
	return &WebSocketHandler{
		events: events,
	}
}

// Upgrade rejects plain HTTP requests on the websocket route.
func (h *WebSocketHandler) Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	events, unsubscribe := h.events.Subscribe()
	defer func() {
		unsubscribe()
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	// Clients never send anything meaningful; reading only detects the close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if err := c.WriteJSON(e); err != nil {
				logger.Warn("Failed to write run event", zap.String("run_id", e.RunID), zap.Error(err))
				return
			}
		}
	}
}
