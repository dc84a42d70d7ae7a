package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// actorRoleKey is the gin context key carrying the caller's role header.
const actorRoleKey = "actor_role"

// AuthRequired validates the authorization token from the request headers.
// Role resolution is owned by the caller's identity system; the opaque
// X-Actor-Role header is only recorded for audit.
func AuthRequired(validToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errorBody{Code: "UNAUTHENTICATED", Message: "missing authorization header"}})
			return
		}
		if auth != validToken {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errorBody{Code: "UNAUTHENTICATED", Message: "invalid token"}})
			return
		}

		c.Set(actorRoleKey, c.GetHeader("X-Actor-Role"))
		c.Next()
	}
}

// actorRole returns the opaque role recorded by AuthRequired, if any
func actorRole(c *gin.Context) string {
	return c.GetString(actorRoleKey)
}

// RequestLogger logs one structured line per request
func RequestLogger(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.WithFields(logrus.Fields{
			"module":   "http",
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		}).Info("request handled")
	}
}
