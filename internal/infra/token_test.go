package infra

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return raw
}

func TestVerifyToken(t *testing.T) {
	v := NewJWTVerifier("test-secret")
	ctx := context.Background()

	raw := signToken(t, "test-secret", jwt.MapClaims{"sub": "u1", "role": "user"})
	tok, err := v.VerifyToken(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, "u1", tok.Subject)
	assert.Equal(t, "user", tok.Role)
}

func TestVerifyTokenRejections(t *testing.T) {
	v := NewJWTVerifier("test-secret")
	ctx := context.Background()

	cases := []struct {
		name string
		raw  string
	}{
		{name: "garbage", raw: "not-a-token"},
		{name: "wrong secret", raw: signToken(t, "other-secret", jwt.MapClaims{"sub": "u1", "role": "user"})},
		{name: "missing sub", raw: signToken(t, "test-secret", jwt.MapClaims{"role": "user"})},
		{name: "missing role", raw: signToken(t, "test-secret", jwt.MapClaims{"sub": "u1"})},
		{name: "expired", raw: signToken(t, "test-secret", jwt.MapClaims{
			"sub": "u1", "role": "user", "exp": time.Now().Add(-time.Hour).Unix(),
		})},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := v.VerifyToken(ctx, c.raw)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}
