// README: Session-token verification. The identity service issues signed JWTs
// carrying {sub, role}; this layer trusts those claims verbatim.
package infra

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v4"
)

// SessionToken holds the verified identity claim used by downstream middleware.
type SessionToken struct {
	Subject string
	Role    string
}

// TokenVerifier verifies a raw session token string and returns its claims.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (*SessionToken, error)
}

var ErrInvalidToken = errors.New("invalid session token")

// jwtVerifier is the production implementation backed by HMAC-signed JWTs.
type jwtVerifier struct {
	secret []byte
}

func NewJWTVerifier(secret string) TokenVerifier {
	return &jwtVerifier{secret: []byte(secret)}
}

func (v *jwtVerifier) VerifyToken(_ context.Context, raw string) (*SessionToken, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	sub, _ := claims["sub"].(string)
	role, _ := claims["role"].(string)
	if sub == "" || role == "" {
		return nil, ErrInvalidToken
	}
	return &SessionToken{Subject: sub, Role: role}, nil
}
