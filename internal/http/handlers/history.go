package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Архив завершенных партий владельца
func (h *Handler) GetHistory(c *gin.Context) {
	ownerID, ok := getUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	limit := 100
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	entries, err := h.Lifecycle.History(c.Request.Context(), ownerID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": entries})
}

// Удаление записи архива
func (h *Handler) DeleteHistoryEntry(c *gin.Context) {
	ownerID, ok := getUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	if err := h.Lifecycle.DeleteHistory(c.Request.Context(), ownerID, id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
