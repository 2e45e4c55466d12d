package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultSessionTTL is the lifetime of session tokens issued on login or accept
const DefaultSessionTTL = 24 * time.Hour

// MinSecretLength is the minimum HMAC secret length accepted by the issuer
const MinSecretLength = 32

var (
	ErrTokenMalformed = errors.New("token malformed")
	ErrTokenExpired   = errors.New("token expired")
	ErrTokenInvalid   = errors.New("token invalid")
	ErrTokenSubject   = errors.New("token has no subject")
)

// Claims carried by a session token. The subject is the principal ID; the org
// and role claims are informational and never trusted over the stored principal.
type Claims struct {
	jwt.RegisteredClaims

	OrganizationID string `json:"org,omitempty"`
	Role           Role   `json:"role,omitempty"`
}

// Verifier validates a bearer credential and returns its claims
type Verifier interface {
	Verify(token string) (*Claims, error)
}

// Issuer mints session tokens for a principal
type Issuer interface {
	Issue(p *Principal) (string, error)
}

// HMACCredentials signs and verifies HS256 session tokens with a shared secret
type HMACCredentials struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewHMACCredentials creates a signer/verifier. The secret must be at least
// MinSecretLength bytes.
func NewHMACCredentials(secret []byte, issuer string, ttl time.Duration) (*HMACCredentials, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("jwt secret must be at least %d bytes", MinSecretLength)
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &HMACCredentials{
		secret: secret,
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// Issue mints a token for p
func (c *HMACCredentials) Issue(p *Principal) (string, error) {
	now := c.now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
			ID:        newJTI(),
		},
		OrganizationID: p.OrganizationID,
		Role:           p.Role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates an HS256 token
func (c *HMACCredentials) Verify(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}

	claims := &Claims{}
	_, err := jwt.NewParser(opts...).ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return c.secret, nil
	})
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenMalformed):
		return nil, ErrTokenMalformed
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrTokenExpired
	default:
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	if claims.Subject == "" {
		return nil, ErrTokenSubject
	}
	return claims, nil
}

func newJTI() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return base64.RawURLEncoding.EncodeToString(b[:])
}
