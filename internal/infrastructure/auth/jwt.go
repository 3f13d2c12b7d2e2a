// Package auth verifies signed session tokens issued by the login service.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/analizadordatos/smart-analytics/internal/domain/access"
	"github.com/analizadordatos/smart-analytics/internal/domain/shared"
)

// SessionClaims is the payload of an HS256 session token.
type SessionClaims struct {
	jwt.RegisteredClaims
	Role  string `json:"role"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// JWTSessionSource implements access.SessionSource for stateless tokens.
// Logout is a client-side action in this mode.
type JWTSessionSource struct {
	secret []byte
	issuer string
	leeway time.Duration
	now    func() time.Time
}

// NewJWTSessionSource creates a source. An empty issuer disables the iss check.
func NewJWTSessionSource(secret, issuer string, leeway time.Duration) *JWTSessionSource {
	return &JWTSessionSource{
		secret: []byte(secret),
		issuer: issuer,
		leeway: leeway,
		now:    time.Now,
	}
}

var _ access.SessionSource = (*JWTSessionSource)(nil)

// Lookup validates the token and maps its claims to a session. The role is
// decoded leniently: an unknown role yields a session the resolver rejects.
func (s *JWTSessionSource) Lookup(_ context.Context, token string) (*access.Session, error) {
	claims, err := s.parse(strings.TrimSpace(token))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, shared.ErrSessionNotFound
		}
		return nil, shared.WrapError("session", "Validate", shared.ErrUnauthenticated, "invalid session token", err)
	}

	identity := claims.Email
	if identity == "" {
		identity = claims.Subject
	}
	if strings.TrimSpace(identity) == "" {
		return nil, shared.ErrInvalidToken
	}

	role, _ := access.ParseRole(claims.Role)
	return &access.Session{
		Role:        role,
		Identity:    identity,
		DisplayName: claims.Name,
	}, nil
}

func (s *JWTSessionSource) parse(token string) (*SessionClaims, error) {
	if token == "" {
		return nil, shared.ErrInvalidToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(s.leeway),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	parsed, err := jwt.ParseWithClaims(token, &SessionClaims{}, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(*SessionClaims)
	if !ok || !parsed.Valid {
		return nil, jwt.ErrTokenSignatureInvalid
	}
	return claims, nil
}

// Issue signs a token for sess. Used by operators to mint service tokens
// and by tests.
func (s *JWTSessionSource) Issue(sess access.Session, ttl time.Duration) (string, error) {
	now := s.now().UTC()
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sess.Identity,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role:  sess.Role.String(),
		Email: sess.Identity,
		Name:  sess.DisplayName,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}
