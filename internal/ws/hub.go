package ws

import (
	"encoding/json"
	"sync"

	"dutch_scoreboard/internal/domain"
	"dutch_scoreboard/internal/logger"
)

// Hub раздает снапшоты партии всем наблюдателям табло одного владельца
// табло читает леджер и ничего в него не пишет
type Hub struct {
	mu     sync.RWMutex
	boards map[int64]map[*Client]bool
}

func NewHub() *Hub {
	return &Hub{boards: make(map[int64]map[*Client]bool)}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients, ok := h.boards[c.OwnerID]
	if !ok {
		clients = make(map[*Client]bool)
		h.boards[c.OwnerID] = clients
	}
	clients[c] = true
	logger.Debug("scoreboard client joined", "owner_id", c.OwnerID, "watchers", len(clients))
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients, ok := h.boards[c.OwnerID]
	if !ok {
		return
	}
	if clients[c] {
		delete(clients, c)
		close(c.send)
	}
	if len(clients) == 0 {
		delete(h.boards, c.OwnerID)
	}
}

// Broadcast рассылает состояние партии наблюдателям; nil = партия снесена
func (h *Hub) Broadcast(ownerID int64, s *domain.Session) {
	msg := struct {
		Type    string          `json:"type"`
		Session *domain.Session `json:"session"`
	}{Type: "session", Session: s}
	if s == nil {
		msg.Type = "cleared"
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		logger.Error("broadcast encode failed", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.boards[ownerID] {
		select {
		case c.send <- raw:
		default:
			// медленный клиент не должен тормозить остальных
			logger.Warn("scoreboard client too slow, dropping message", "owner_id", ownerID)
		}
	}
}
