package rag

import "context"

// DisabledIndex is the VectorIndex used when no Qdrant connection is
// configured. Construction-time absence of credentials yields this
// deterministic implementation instead of a nil handle checked at every call
// site: searches return no hits so retrieval degrades to "no context", and
// writes fail with ErrIndexUnavailable so ingestion records a failed
// embedding status rather than crashing.
type DisabledIndex struct{}

// NewDisabledIndex returns the no-op VectorIndex.
func NewDisabledIndex() *DisabledIndex { return &DisabledIndex{} }

// EnsureCollection reports the index as unavailable.
func (*DisabledIndex) EnsureCollection(context.Context) error { return ErrIndexUnavailable }

// Upsert reports the index as unavailable.
func (*DisabledIndex) Upsert(context.Context, []Point) error { return ErrIndexUnavailable }

// Search returns no hits; retrieval degrades gracefully.
func (*DisabledIndex) Search(context.Context, []float32, int, Filter) ([]Hit, error) {
	return nil, nil
}

// Delete reports the index as unavailable.
func (*DisabledIndex) Delete(context.Context, []string) error { return ErrIndexUnavailable }

// DeleteByFilter reports the index as unavailable.
func (*DisabledIndex) DeleteByFilter(context.Context, Filter) error { return ErrIndexUnavailable }

// Count reports zero points.
func (*DisabledIndex) Count(context.Context, Filter) (uint64, error) { return 0, nil }

// Close is a no-op.
func (*DisabledIndex) Close() error { return nil }
