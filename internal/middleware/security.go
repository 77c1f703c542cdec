package middleware

import "github.com/gin-gonic/gin"

// DefaultContentSecurityPolicy forbids every resource type; the service only answers JSON.
const DefaultContentSecurityPolicy = "default-src 'none'; frame-ancestors 'none'"

// SecurityHeaders hardens JSON API responses. Authenticated payloads are personal, so
// they are never stored by shared caches.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		h.Set("Content-Security-Policy", DefaultContentSecurityPolicy)
		h.Set("Referrer-Policy", "no-referrer")
		if c.GetHeader("Authorization") != "" {
			h.Set("Cache-Control", "no-store")
		}
		c.Next()
	}
}
