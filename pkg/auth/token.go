package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// InviteTokenBytes is the number of random bytes in an invitation token
// (64 hex characters once encoded).
const InviteTokenBytes = 32

// TokenSource produces single-use random tokens
type TokenSource interface {
	NewToken() (string, error)
}

// RandomTokens generates hex-encoded tokens from crypto/rand
type RandomTokens struct{}

// NewToken returns InviteTokenBytes random bytes, hex encoded
func (RandomTokens) NewToken() (string, error) {
	b := make([]byte, InviteTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// ValidTokenFormat reports whether token looks like a RandomTokens value
func ValidTokenFormat(token string) bool {
	if len(token) != InviteTokenBytes*2 {
		return false
	}
	_, err := hex.DecodeString(token)
	return err == nil
}
