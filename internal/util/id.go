package util

import "github.com/google/uuid"

// NewID returns a client-generated identifier, optionally prefixed.
// Entities get their id at creation time so local writes are addressable
// before the server has ever seen them.
func NewID(prefix string) string {
	id := uuid.NewString()
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
