package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/feedguard/internal/auditctx"
	iauth "github.com/charlesng35/feedguard/internal/auth"
	"github.com/charlesng35/feedguard/pkg/errors"
	"github.com/charlesng35/feedguard/pkg/response"
)

const (
	CtxClaimsKey = "authClaims"
	CtxUserIDKey = "userID"
)

// Auth enforces bearer token authentication using the supplied verifier. The verified identity
// is stored on the gin context and, as an audit actor, on the request context.
func Auth(verifier *iauth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		authenticate(c, verifier, token)
	}
}

// AuthWithQueryToken behaves like Auth but also accepts ?token= for clients that cannot
// set headers, such as browser websockets.
func AuthWithQueryToken(verifier *iauth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			token = strings.TrimSpace(c.Query("token"))
		}
		if token == "" {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		authenticate(c, verifier, token)
	}
}

func authenticate(c *gin.Context, verifier *iauth.Verifier, token string) {
	claims, err := verifier.Verify(token)
	if err != nil {
		// Normalise all validation failures to 401
		c.Header("WWW-Authenticate", "Bearer")
		response.Error(c, errors.ErrUnauthorized)
		c.Abort()
		return
	}

	// Propagate identity into request context
	userID := claims.Identity()
	c.Set(CtxClaimsKey, claims)
	c.Set(CtxUserIDKey, userID)
	c.Request = c.Request.WithContext(auditctx.WithActor(c.Request.Context(), auditctx.Actor{
		UserID:    userID,
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}))

	c.Next()
}

func bearerToken(header string) string {
	if len(header) < 8 || !strings.EqualFold(header[:7], "Bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
