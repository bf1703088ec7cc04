package utils

import "github.com/google/uuid"

// NewID returns a unique identifier for connections and similar short-lived
// resources.
func NewID() string {
	return uuid.NewString()
}
