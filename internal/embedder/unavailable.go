package embedder

import (
	"context"
	"fmt"

	"github.com/NamLeeeWatatek/omnikb-go/internal/rag"
)

// Unavailable is a rag.Embedder placeholder used when no embedding backend is
// configured. Every call fails with rag.ErrProviderUnavailable carrying the
// configuration reason, so ingestion records a clear failure status instead
// of panicking on a nil embedder.
type Unavailable struct {
	// reason describes what configuration is missing.
	reason string
}

// NewUnavailable constructs an Unavailable embedder with the given reason.
func NewUnavailable(reason string) *Unavailable {
	return &Unavailable{reason: reason}
}

// Embed always fails with rag.ErrProviderUnavailable.
func (e *Unavailable) Embed(_ context.Context, _ []string) ([][]float32, error) {
	return nil, fmt.Errorf("%w: %s", rag.ErrProviderUnavailable, e.reason)
}
