package util

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

// NewID returns a random UUID string for row identifiers.
func NewID() string {
	return uuid.NewString()
}

// NewToken returns 32 random bytes hex-encoded, for secrets embedded in URLs.
func NewToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
