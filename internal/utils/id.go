package utils

import "github.com/google/uuid"

// NewID returns a unique identifier suitable for frame correlation ids.
func NewID() string {
	return uuid.NewString()
}
