package http

import (
	"time"

	"dutch_scoreboard/internal/http/handlers"
	"dutch_scoreboard/internal/http/middleware"
	"dutch_scoreboard/internal/service"
	"dutch_scoreboard/internal/ws"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes вешает все маршруты публичного API
func RegisterRoutes(r *gin.Engine, lifecycle *service.Lifecycle, hub *ws.Hub, botToken, version string) {
	h := handlers.NewHandler(lifecycle, botToken, version)

	r.GET("/health", h.Health)

	api := r.Group("/api")
	api.POST("/auth/telegram", middleware.RateLimit(20, time.Minute), h.TelegramAuth)

	authed := api.Group("")
	authed.Use(middleware.RequireAuth(), middleware.RateLimit(120, time.Minute))
	{
		authed.GET("/session", h.CurrentSession)
		authed.POST("/session", h.CreateSession)
		authed.POST("/session/rounds", h.ApplyRound)
		authed.DELETE("/session/rounds/last", h.UndoRound)
		authed.POST("/session/end/request", h.RequestEnd)
		authed.POST("/session/end/confirm", h.ConfirmEnd)
		authed.POST("/session/end/cancel", h.CancelEnd)
		authed.POST("/session/continue", h.ContinueSession)
		authed.POST("/session/restart", h.RestartSession)
		authed.POST("/session/recover", h.RecoverEmergency)
		authed.GET("/history", h.GetHistory)
		authed.DELETE("/history/:id", h.DeleteHistoryEntry)
	}

	// live-табло: токен в query, т.к. websocket не шлет заголовки
	wsHandler := ws.NewHandler(hub)
	r.GET("/ws", wsHandler.HandleWS())
}
