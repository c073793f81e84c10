package handlers

import (
	"dutch_scoreboard/internal/service"

	"github.com/gin-gonic/gin"
)

// содержит зависимости HTTP-обработчиков
type Handler struct {
	Lifecycle *service.Lifecycle
	BotToken  string
	Version   string
}

func NewHandler(lifecycle *service.Lifecycle, botToken, version string) *Handler {
	return &Handler{
		Lifecycle: lifecycle,
		BotToken:  botToken,
		Version:   version,
	}
}

// id владельца, положенный в контекст auth-middleware
func getUserID(c *gin.Context) (int64, bool) {
	v, ok := c.Get("tg_id")
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok && id != 0
}
