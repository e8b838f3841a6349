package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	// Kubeflow standard headers
	UserIDHeader = "kubeflow-userid"
	UserIDPrefix = "accounts.google.com:"

	// Context keys
	UserEmailKey = "user-email"

	AnonymousUser = "anonymous@kubeflow.org"
)

// KubeflowAuthMiddleware extracts the caller identity from the Kubeflow
// header. Jobs record it as their requester.
func KubeflowAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userEmail := strings.TrimSpace(c.GetHeader(UserIDHeader))
		userEmail = strings.TrimPrefix(userEmail, UserIDPrefix)
		if userEmail == "" {
			userEmail = AnonymousUser
		}

		c.Set(UserEmailKey, userEmail)
		c.Next()
	}
}

// GetUserEmail retrieves user email from Gin context
func GetUserEmail(c *gin.Context) string {
	email, exists := c.Get(UserEmailKey)
	if !exists {
		return AnonymousUser
	}
	return email.(string)
}

// RequestLogger logs one line per request.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		fields := []interface{}{
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"user", GetUserEmail(c),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, "errors", c.Errors.String())
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			zap.S().Warnw("request failed", fields...)
			return
		}
		zap.S().Debugw("request served", fields...)
	}
}

// CORSMiddleware handles CORS for Kubeflow integration
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers",
			"Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, "+
				"Authorization, accept, origin, Cache-Control, X-Requested-With, "+
				UserIDHeader)
		c.Writer.Header().Set("Access-Control-Allow-Methods",
			"POST, OPTIONS, GET, PUT, DELETE, PATCH")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
