package util

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a random UUIDv4, optionally prefixed ("tnt_...").
func NewID(prefix string) string {
	id := uuid.NewString()
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}

// IsID reports whether value is an id produced by NewID with the given prefix.
func IsID(prefix, value string) bool {
	if prefix != "" {
		if !strings.HasPrefix(value, prefix+"_") {
			return false
		}
		value = strings.TrimPrefix(value, prefix+"_")
	}
	_, err := uuid.Parse(value)
	return err == nil
}
