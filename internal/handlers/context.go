package handlers

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/feedguard/internal/middleware"
	"github.com/charlesng35/feedguard/internal/quota"
)

// requestContext safely returns the request context with a background fallback for tests.
func requestContext(c *gin.Context) context.Context {
	if c == nil {
		return context.Background()
	}
	if req := c.Request; req != nil {
		return req.Context()
	}
	return context.Background()
}

// currentUserID returns the authenticated user placed on the context by middleware.Auth.
func currentUserID(c *gin.Context) string {
	return strings.TrimSpace(c.GetString(middleware.CtxUserIDKey))
}

func requestMeta(c *gin.Context) quota.Meta {
	meta := quota.Meta{IPAddress: c.ClientIP()}
	if c.Request != nil {
		meta.UserAgent = c.Request.UserAgent()
	}
	return meta
}
