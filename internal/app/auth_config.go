package app

import (
	"github.com/charlesng35/feedguard/internal/auth"
)

// JWTServiceConfig converts AuthConfig into the parameters expected by the token verifier.
func (c AuthConfig) JWTServiceConfig() auth.JWTConfig {
	ttl := c.JWT.TTL
	if ttl <= 0 {
		ttl = auth.DefaultAccessTokenTTL
	}

	return auth.JWTConfig{
		Secret:         c.JWT.Secret,
		Issuer:         c.JWT.Issuer,
		Audience:       c.JWT.Audience,
		AccessTokenTTL: ttl,
		Leeway:         c.JWT.Leeway,
	}
}
