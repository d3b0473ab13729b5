// Package rag defines the contracts between the knowledge-base core and its
// external retrieval collaborators: embedding providers and the vector index.
// Concrete implementations (Qdrant, OpenAI, Gemini, Ollama) satisfy these
// interfaces so the orchestration layer never depends on a specific backend.
package rag

import (
	"context"
	"errors"
)

// ErrProviderUnavailable is returned when no embedding or generation provider
// is configured. It is a configuration condition, not a transient failure —
// callers must short-circuit rather than retry.
var ErrProviderUnavailable = errors.New("rag: provider not configured")

// ErrIndexUnavailable is returned by write operations on a vector index that
// was constructed without connection configuration. Search degrades to empty
// results instead.
var ErrIndexUnavailable = errors.New("rag: vector index not configured")

// ErrPermissionDenied is returned when the vector index rejects an operation
// for lack of privileges (e.g. a read-only API key). Deletion paths treat it
// as non-fatal; everywhere else it is a genuine error.
var ErrPermissionDenied = errors.New("rag: vector index permission denied")

// ErrNotFound is returned when the vector index reports a missing collection
// or point.
var ErrNotFound = errors.New("rag: not found")

// Point is a single entry in the vector index: the embedding of one document
// plus a denormalized payload sufficient to render a search hit without a
// relational lookup.
type Point struct {
	// ID is the point identifier. It equals the relational document id, so a
	// re-embedded document overwrites its old vector in place.
	ID string

	// Vector is the embedding of the document content.
	Vector []float32

	// Payload carries content, tenant id, and document metadata.
	Payload map[string]any
}

// Hit is a single search result returned by the vector index.
type Hit struct {
	// ID is the matched point's identifier (= document id).
	ID string

	// Content is the stored text of the matched document.
	Content string

	// Score is the similarity under the collection's configured metric,
	// higher is closer. Tie order between equal scores is unspecified.
	Score float32

	// Payload is the full stored payload, including tenant id and metadata.
	Payload map[string]any
}

// Filter is a conjunction of exact-match payload constraints
// (e.g. {"botId": "abc"}). Empty or nil means no filtering.
type Filter map[string]string

// Embedder converts text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input; a failure of any element
	// fails the whole batch. Callers needing partial-success semantics must
	// submit texts one at a time.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorIndex is the contract for a named collection in an external
// nearest-neighbor search service.
// Implementations must be safe to call from multiple goroutines.
type VectorIndex interface {
	// EnsureCollection creates the collection if it does not exist.
	// Idempotent and safe to race across processes.
	EnsureCollection(ctx context.Context) error

	// Upsert stores or replaces the given points. A returned error means the
	// caller must assume none of the batch was persisted.
	Upsert(ctx context.Context, points []Point) error

	// Search returns the top-limit nearest points for the query vector,
	// restricted to points matching filter when non-empty. Results are
	// ordered by descending score.
	Search(ctx context.Context, vector []float32, limit int, filter Filter) ([]Hit, error)

	// Delete removes points by id. Missing ids are not an error.
	Delete(ctx context.Context, ids []string) error

	// DeleteByFilter removes every point matching filter.
	DeleteByFilter(ctx context.Context, filter Filter) error

	// Count returns the number of points matching filter (all points when
	// filter is empty).
	Count(ctx context.Context, filter Filter) (uint64, error)

	// Close releases the underlying connection.
	Close() error
}
