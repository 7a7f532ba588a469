// Package ids generates job identifiers.
package ids

import "github.com/google/uuid"

// NewJobID returns a time-sortable unique id (UUIDv7: 48-bit ms timestamp
// prefix + random tail), so job ids enumerated by the wait list's insertion
// order also sort close to chronological order.
func NewJobID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails if the system RNG is broken; fall back to pure
		// randomness rather than panic mid-publish.
		return uuid.NewString()
	}
	return id.String()
}
