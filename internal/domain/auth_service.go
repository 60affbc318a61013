package domain

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"

	"github.com/Vovarama1992/livecaptions/internal/ports"
)

type authService struct {
	digest []byte
}

// NewAuthService checks client tokens against one shared secret.
func NewAuthService(secret string) ports.TokenValidator {
	return &authService{digest: sign(secret)}
}

func (s *authService) ValidateToken(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	return hmac.Equal(sign(token), s.digest), nil
}

// sign hashes to a fixed length for hmac.Equal.
func sign(msg string) []byte {
	h := sha256.Sum256([]byte(msg))
	return h[:]
}
