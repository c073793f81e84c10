package handlers

import (
	"errors"
	"net/http"

	"dutch_scoreboard/internal/domain"
	"dutch_scoreboard/internal/ledger"
	"dutch_scoreboard/internal/service"

	"github.com/gin-gonic/gin"
)

// ошибки валидации раунда: пользовательские, не фатальные
func validationMessage(err error) (int, string) {
	switch {
	case errors.Is(err, ledger.ErrScoreCountMismatch),
		errors.Is(err, ledger.ErrNonIntegerScore),
		errors.Is(err, ledger.ErrDegenerateDutch),
		errors.Is(err, ledger.ErrUnknownDutchPlayer),
		errors.Is(err, ledger.ErrEmptyHistory),
		errors.Is(err, service.ErrTooFewPlayers),
		errors.Is(err, service.ErrEmptyName),
		errors.Is(err, service.ErrDuplicateName),
		errors.Is(err, service.ErrNoPendingEnd):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, service.ErrNoSession):
		return http.StatusNotFound, err.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func (h *Handler) sessionResponse(c *gin.Context, s *domain.Session) {
	resp := gin.H{"session": s}
	if h.Lifecycle.Degraded() {
		// durability деградировала, но играть можно
		resp["warning"] = "working in degraded durability mode"
	}
	c.JSON(http.StatusOK, resp)
}

// Создание новой партии
func (h *Handler) CreateSession(c *gin.Context) {
	ownerID, ok := getUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req struct {
		Players    []string `json:"players"`
		ScoreLimit int      `json:"score_limit"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad request"})
		return
	}

	s, err := h.Lifecycle.CreateSession(c.Request.Context(), ownerID, req.Players, req.ScoreLimit)
	if err != nil {
		code, msg := validationMessage(err)
		c.JSON(code, gin.H{"error": msg})
		return
	}
	h.sessionResponse(c, s)
}

// Текущая партия: восстановление из хранилища при необходимости
func (h *Handler) CurrentSession(c *gin.Context) {
	ownerID, ok := getUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	s, requested, err := h.Lifecycle.Resume(c.Request.Context(), ownerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load failed"})
		return
	}
	if s == nil {
		// сессии нет: интерфейс решает, идти ли сразу в настройку
		c.JSON(http.StatusNotFound, gin.H{
			"error":                 "no session, configuration required",
			"new_session_requested": requested,
		})
		return
	}
	h.sessionResponse(c, s)
}

// Запись раунда
func (h *Handler) ApplyRound(c *gin.Context) {
	ownerID, ok := getUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req struct {
		Scores        []float64 `json:"scores"`
		DutchPlayerID string    `json:"dutch_player_id"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad request"})
		return
	}

	// очки приходят JSON-числами; дробные отклоняются как нечисловые
	scores, err := ledger.CoerceScores(req.Scores)
	if err != nil {
		code, msg := validationMessage(err)
		c.JSON(code, gin.H{"error": msg})
		return
	}

	s, err := h.Lifecycle.ApplyRound(c.Request.Context(), ownerID, scores, req.DutchPlayerID)
	if err != nil {
		code, msg := validationMessage(err)
		c.JSON(code, gin.H{"error": msg})
		return
	}
	h.sessionResponse(c, s)
}

// Отмена последнего раунда
func (h *Handler) UndoRound(c *gin.Context) {
	ownerID, ok := getUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	s, err := h.Lifecycle.UndoRound(c.Request.Context(), ownerID)
	if err != nil {
		code, msg := validationMessage(err)
		c.JSON(code, gin.H{"error": msg})
		return
	}
	h.sessionResponse(c, s)
}

// Рукопожатие завершения: запрос
func (h *Handler) RequestEnd(c *gin.Context) {
	ownerID, ok := getUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if err := h.Lifecycle.RequestEnd(c.Request.Context(), ownerID); err != nil {
		code, msg := validationMessage(err)
		c.JSON(code, gin.H{"error": msg})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Рукопожатие завершения: подтверждение, партия уходит в архив
func (h *Handler) ConfirmEnd(c *gin.Context) {
	ownerID, ok := getUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	entry, err := h.Lifecycle.ConfirmEnd(c.Request.Context(), ownerID)
	if err != nil {
		code, msg := validationMessage(err)
		c.JSON(code, gin.H{"error": msg})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entry": entry})
}

// Рукопожатие завершения: отмена
func (h *Handler) CancelEnd(c *gin.Context) {
	ownerID, ok := getUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if err := h.Lifecycle.CancelEnd(c.Request.Context(), ownerID); err != nil {
		code, msg := validationMessage(err)
		c.JSON(code, gin.H{"error": msg})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Продолжение после конца игры: лимит поднимается
func (h *Handler) ContinueSession(c *gin.Context) {
	ownerID, ok := getUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req struct {
		ScoreDelta int `json:"score_delta"`
	}
	if err := c.BindJSON(&req); err != nil || req.ScoreDelta <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad request"})
		return
	}

	s, err := h.Lifecycle.ContinueSession(c.Request.Context(), ownerID, req.ScoreDelta)
	if err != nil {
		code, msg := validationMessage(err)
		c.JSON(code, gin.H{"error": msg})
		return
	}
	h.sessionResponse(c, s)
}

// Рестарт: безусловный снос партии
func (h *Handler) RestartSession(c *gin.Context) {
	ownerID, ok := getUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if err := h.Lifecycle.Restart(c.Request.Context(), ownerID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "restart failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Явное восстановление из аварийного ключа
func (h *Handler) RecoverEmergency(c *gin.Context) {
	ownerID, ok := getUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	s, err := h.Lifecycle.RecoverEmergency(c.Request.Context(), ownerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "recover failed"})
		return
	}
	if s == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no emergency save"})
		return
	}
	h.sessionResponse(c, s)
}
