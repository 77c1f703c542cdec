package auth

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultAccessTokenTTL is the lifetime of tokens minted by Issue when none is configured.
const DefaultAccessTokenTTL = 15 * time.Minute

// Sentinel verification failures. Callers map all of them to 401.
var (
	ErrTokenMissing  = errors.New("auth: token is empty")
	ErrTokenInvalid  = errors.New("auth: token is invalid")
	ErrTokenIssuer   = errors.New("auth: unexpected issuer")
	ErrTokenAudience = errors.New("auth: unexpected audience")
	ErrTokenSubject  = errors.New("auth: token has no subject")
)

// JWTConfig bundles the settings of a Verifier.
type JWTConfig struct {
	Secret string
	Issuer string
	// Audience, when set, must appear in the token's aud claim.
	Audience       string
	AccessTokenTTL time.Duration
	Leeway         time.Duration
	Clock          func() time.Time
}

// Claims are the verified identity attached to a request.
type Claims struct {
	UserID string   `json:"uid,omitempty"`
	Scopes []string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// Identity returns the user id, falling back to the registered sub claim.
func (c *Claims) Identity() string {
	if id := strings.TrimSpace(c.UserID); id != "" {
		return id
	}
	return strings.TrimSpace(c.RegisteredClaims.Subject)
}

// HasScope reports whether the token grants scope.
func (c *Claims) HasScope(scope string) bool {
	return slices.Contains(c.Scopes, scope)
}

// Verifier validates HS256 bearer tokens issued by the identity provider. Issue mints
// tokens with the same key for local tooling and tests.
type Verifier struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	leeway   time.Duration
	now      func() time.Time
}

// NewVerifier constructs a Verifier. A secret is mandatory.
func NewVerifier(cfg JWTConfig) (*Verifier, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, errors.New("auth: secret must be provided")
	}

	v := &Verifier{
		secret:   []byte(cfg.Secret),
		issuer:   strings.TrimSpace(cfg.Issuer),
		audience: strings.TrimSpace(cfg.Audience),
		ttl:      cfg.AccessTokenTTL,
		leeway:   max(cfg.Leeway, 0),
		now:      time.Now,
	}
	if v.ttl <= 0 {
		v.ttl = DefaultAccessTokenTTL
	}
	if cfg.Clock != nil {
		v.now = cfg.Clock
	}
	return v, nil
}

// IssueInput describes a token to mint.
type IssueInput struct {
	UserID string
	Scopes []string
}

// Issue signs a token for input.UserID valid for the configured TTL.
func (v *Verifier) Issue(input IssueInput) (string, error) {
	userID := strings.TrimSpace(input.UserID)
	if userID == "" {
		return "", ErrTokenSubject
	}

	now := v.now()
	claims := &Claims{
		UserID: userID,
		Scopes: slices.Clone(input.Scopes),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    v.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(v.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	if v.audience != "" {
		claims.Audience = jwt.ClaimStrings{v.audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// Verify parses token and returns its claims when the signature, lifetime, issuer and
// audience all check out.
func (v *Verifier) Verify(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrTokenMissing
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
		jwt.WithLeeway(v.leeway),
		jwt.WithExpirationRequired(),
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	var claims Claims
	_, err := jwt.NewParser(opts...).ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return nil, ErrTokenAudience
	case err != nil:
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	if v.issuer != "" && claims.Issuer != v.issuer {
		return nil, ErrTokenIssuer
	}
	if claims.Identity() == "" {
		return nil, ErrTokenSubject
	}
	return &claims, nil
}
