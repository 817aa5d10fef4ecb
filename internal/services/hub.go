package services

import (
	"log/slog"
	"sync"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
)

// AgentHub tracks live agent WebSocket connections so dispatch can nudge an
// agent to poll immediately instead of waiting out its poll interval. The hub
// is best-effort: an offline agent picks the command up on its next poll.
type AgentHub struct {
	mu    sync.RWMutex
	conns map[uuid.UUID]*websocket.Conn
}

func NewAgentHub() *AgentHub {
	return &AgentHub{conns: make(map[uuid.UUID]*websocket.Conn)}
}

// Register replaces any previous connection for the device.
func (h *AgentHub) Register(deviceID uuid.UUID, conn *websocket.Conn) {
	h.mu.Lock()
	old := h.conns[deviceID]
	h.conns[deviceID] = conn
	h.mu.Unlock()

	if old != nil {
		old.Close()
	}
	slog.Info("Agent channel connected", "device", deviceID)
}

// Unregister drops the device's connection if it is still the registered one.
func (h *AgentHub) Unregister(deviceID uuid.UUID, conn *websocket.Conn) {
	h.mu.Lock()
	if h.conns[deviceID] == conn {
		delete(h.conns, deviceID)
	}
	h.mu.Unlock()
	slog.Info("Agent channel disconnected", "device", deviceID)
}

// Notify nudges a connected agent that commands are pending. Errors are
// logged, never returned: polling is the delivery guarantee, not this.
func (h *AgentHub) Notify(deviceID uuid.UUID) {
	h.mu.RLock()
	conn := h.conns[deviceID]
	h.mu.RUnlock()

	if conn == nil {
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"commands_pending"}`)); err != nil {
		slog.Warn("Agent nudge failed, falling back to polling", "device", deviceID, "error", err)
	}
}

// Connected reports how many agents hold a live channel.
func (h *AgentHub) Connected() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}
