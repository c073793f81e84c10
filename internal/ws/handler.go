package ws

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"dutch_scoreboard/internal/logger"
	"dutch_scoreboard/internal/service"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// mini app живет на другом origin, браузер сам шлет корректный токен
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Handler struct {
	hub *Hub
}

func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

// HandleWS поднимает websocket для live-табло
// токен передается в query: заголовки из браузерного websocket не пробросить
func (h *Handler) HandleWS() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "token required"})
			return
		}
		tgID, err := service.ParseJWT(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Error("websocket upgrade failed", "error", err)
			return
		}

		client := &Client{
			hub:     h.hub,
			conn:    conn,
			send:    make(chan []byte, 16),
			OwnerID: tgID,
		}
		h.hub.register(client)

		go client.writePump()
		go client.readPump()
	}
}
