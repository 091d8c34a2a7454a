package util

import (
	"crypto/rand"
	"encoding/hex"
)

func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}

// NewKey returns a structural key for array-of-object content fields.
// 24 hex characters, unique enough within a single document.
func NewKey() string {
	bytes := make([]byte, 12)
	_, _ = rand.Read(bytes)
	return hex.EncodeToString(bytes)
}
