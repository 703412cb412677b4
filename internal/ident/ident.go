// Package ident generates the unique ids stamped on operations and
// transactions.
package ident

import "github.com/google/uuid"

// Generator assigns ids. Implemented by UUIDv7 (production) and
// testutil.FixedIDGenerator (deterministic tests and golden traces).
type Generator interface {
	Generate() string
}

// UUIDv7 generates time-sortable UUIDv7 ids.
//
// UUIDv7 embeds a timestamp in the most significant bits, making ids
// sortable by creation time. This is helpful when reading history and
// audit output.
//
// Thread-safety: UUIDv7 is stateless and safe for concurrent use.
type UUIDv7 struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
//
// Panics if UUID generation fails (should never happen in practice).
func (g UUIDv7) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
