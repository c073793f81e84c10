package handlers

import (
	"net/http"

	"dutch_scoreboard/internal/service"

	"github.com/gin-gonic/gin"
)

// Обмен Telegram init_data на JWT
func (h *Handler) TelegramAuth(c *gin.Context) {
	var req struct {
		InitData string `json:"init_data"`
	}
	if err := c.BindJSON(&req); err != nil || req.InitData == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad request"})
		return
	}

	tgID, err := service.AuthenticateInitData(req.InitData, h.BotToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid init data"})
		return
	}

	token, err := service.GenerateJWT(tgID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token": token,
		"tg_id": tgID,
	})
}

// Версия и состояние сервиса
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": h.Version,
	})
}
