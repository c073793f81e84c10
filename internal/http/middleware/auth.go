package middleware

import (
	"net/http"
	"strings"

	"dutch_scoreboard/internal/service"

	"github.com/gin-gonic/gin"
)

// RequireAuth проверяет Bearer JWT и кладет telegram id владельца в контекст
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if token == "" || token == header {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}
		tgID, err := service.ParseJWT(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set("tg_id", tgID)
		c.Next()
	}
}
