// README: Hand-off code generation and verification.
package otp

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

const (
	MinDigits = 4
	MaxDigits = 6
)

type Generator struct {
	digits int
}

// NewGenerator clamps digits into [MinDigits, MaxDigits].
func NewGenerator(digits int) *Generator {
	if digits < MinDigits {
		digits = MinDigits
	}
	if digits > MaxDigits {
		digits = MaxDigits
	}
	return &Generator{digits: digits}
}

// Generate returns a uniformly random numeric code of fixed width.
// Leading zeros are kept so the code length never leaks the value range.
func (g *Generator) Generate() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < g.digits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("otp generate: %w", err)
	}
	return fmt.Sprintf("%0*d", g.digits, n), nil
}

// Verify compares codes by exact string equality after trimming whitespace.
func Verify(expected, provided string) bool {
	return strings.TrimSpace(provided) == strings.TrimSpace(expected)
}
