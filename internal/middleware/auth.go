package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"twatter-messaging/internal/session"
)

// SessionAuth validates the session cookie (or a bearer header, which the
// mobile clients use) and stores the user id in the request context.
func SessionAuth(sessions *session.Validator, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := tokenFromRequest(c, cookieName)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing session"})
			return
		}

		userID, err := sessions.Validate(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid session"})
			return
		}

		c.Set("userID", userID)
		c.Next()
	}
}

func tokenFromRequest(c *gin.Context, cookieName string) string {
	if cookie, err := c.Request.Cookie(cookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	header := c.GetHeader("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return parts[1]
	}
	return ""
}
