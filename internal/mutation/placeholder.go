package mutation

import (
	"github.com/google/uuid"

	"github.com/roach88/graphcache/internal/store"
)

// PlaceholderGenerator synthesizes ids for records created optimistically.
// Generated ids must satisfy store.IsPlaceholder.
type PlaceholderGenerator interface {
	Generate() string
}

// UUIDPlaceholders generates "tmp-" prefixed UUIDv7 placeholder ids.
//
// Thread-safety: stateless and safe for concurrent use.
type UUIDPlaceholders struct{}

// Generate returns a fresh placeholder id.
func (UUIDPlaceholders) Generate() string {
	return store.PlaceholderPrefix + uuid.Must(uuid.NewV7()).String()
}
