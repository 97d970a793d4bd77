package conveyor

import (
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxKeyLength is the longest distribution key, in characters, accepted by
// the supported backends.
const MaxKeyLength = 256

// KeyAssigner generates distribution keys for entries added without one.
// Implementations must be safe for concurrent use; keys generated for
// concurrently built batches should collide with negligible probability.
type KeyAssigner interface {
	GenerateKey() string
}

// KeyAssignerFunc is a function adapter for KeyAssigner.
type KeyAssignerFunc func() string

// GenerateKey implements KeyAssigner.
func (f KeyAssignerFunc) GenerateKey() string {
	return truncateKey(f())
}

// UUIDKeys generates time-ordered UUIDv7 keys. It is the default
// KeyAssigner of a BatchBuilder.
type UUIDKeys struct{}

// GenerateKey implements KeyAssigner.
func (UUIDKeys) GenerateKey() string {
	id, err := uuid.NewV7()
	if err != nil {
		// v7 only fails when the random source does; v4 panics in that case.
		return uuid.NewString()
	}
	return id.String()
}

func truncateKey(key string) string {
	if utf8.RuneCountInString(key) <= MaxKeyLength {
		return key
	}
	n := 0
	for i := range key {
		if n == MaxKeyLength {
			return key[:i]
		}
		n++
	}
	return key
}
