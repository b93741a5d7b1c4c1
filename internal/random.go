// Package internal holds small shared helpers for the engine internals.
package internal

import (
	"crypto/rand"
	"encoding/base64"
)

// NewOwnerToken returns an unguessable token identifying a lock holder.
func NewOwnerToken() (string, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
