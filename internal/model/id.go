package model

import "github.com/google/uuid"

// NewID generates a new random UUID string for use as a job or data GUID.
func NewID() string {
	return uuid.NewString()
}

// ValidID reports whether s parses as a UUID.
func ValidID(s string) bool {
	return uuid.Validate(s) == nil
}
