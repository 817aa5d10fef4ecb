package handlers

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/wardenhq/warden/internal/services"
)

// AgentChannelHandler serves the live agent channel. The channel only carries
// nudges ("poll now"); command delivery stays on the polled HTTP path so a
// dropped socket never loses a command.
type AgentChannelHandler struct {
	hub *services.AgentHub
}

func NewAgentChannelHandler(hub *services.AgentHub) *AgentChannelHandler {
	return &AgentChannelHandler{hub: hub}
}

// UpgradeCheck is middleware that checks if the request is a websocket upgrade.
func (h *AgentChannelHandler) UpgradeCheck() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}

// HandleChannel keeps the agent's connection registered until it drops.
func (h *AgentChannelHandler) HandleChannel() fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		deviceID, _ := c.Locals("device_id").(uuid.UUID)
		if deviceID == uuid.Nil {
			c.WriteMessage(websocket.TextMessage, []byte(`{"error":"unauthenticated"}`))
			return
		}

		h.hub.Register(deviceID, c)
		defer h.hub.Unregister(deviceID, c)

		// Read loop exists to detect disconnects; inbound frames are ignored.
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	})
}
