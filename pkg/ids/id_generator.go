// Package ids generates opaque identifiers for entities that aren't the
// router's JobId (which has its own generator in internal/idgen because it
// must be a 64-bit PRNG draw, not a UUID). The admin CLI's request ids go
// through here.
package ids

import (
	"github.com/google/uuid"
)

// New returns a random UUID string for use as a process- or request-scoped
// identifier.
func New() string {
	return uuid.New().String()
}
