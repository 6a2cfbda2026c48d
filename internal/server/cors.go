package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// CORSMiddleware lets browser pixels post from any allowed origin.
// An empty allow list admits every origin.
func CORSMiddleware(allowedOrigins []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		headers := c.Writer.Header()
		if origin := c.GetHeader("Origin"); origin != "" && isOriginAllowed(origin, allowedOrigins) {
			headers.Set("Access-Control-Allow-Origin", origin)
			headers.Set("Access-Control-Allow-Credentials", "true")
			headers.Add("Vary", "Origin")
		}

		headers.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		allowHeaders := strings.TrimSpace(c.GetHeader("Access-Control-Request-Headers"))
		if allowHeaders == "" {
			allowHeaders = "Content-Type, X-Request-Id, X-Correlation-Id"
		}
		headers.Set("Access-Control-Allow-Headers", allowHeaders)
		headers.Set("Access-Control-Expose-Headers", "Retry-After, X-Request-Id, X-Correlation-Id")
		headers.Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func isOriginAllowed(origin string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}
