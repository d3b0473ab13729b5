package server

import (
	"context"

	"github.com/NamLeeeWatatek/omnikb-go/internal/docstore"
	"github.com/NamLeeeWatatek/omnikb-go/internal/rag"
)

// QdrantPinger probes the vector index using Qdrant's native HealthCheck RPC.
// It satisfies the Pinger interface and is used by GET /api/ready.
type QdrantPinger struct {
	// index is the vector index to probe.
	index *rag.QdrantIndex
}

// NewQdrantPinger constructs a QdrantPinger for the given index.
func NewQdrantPinger(index *rag.QdrantIndex) *QdrantPinger {
	return &QdrantPinger{index: index}
}

// Name returns the dependency label used in readiness responses.
func (p *QdrantPinger) Name() string { return "qdrant" }

// Ping calls the Qdrant HealthCheck RPC through the index client.
func (p *QdrantPinger) Ping(ctx context.Context) error {
	return p.index.Ping(ctx)
}

// StorePinger probes the relational document store. A failed probe means the
// table of record is unavailable and no write path can succeed.
type StorePinger struct {
	// store is the document store to probe.
	store *docstore.Store
}

// NewStorePinger constructs a StorePinger for the given store.
func NewStorePinger(store *docstore.Store) *StorePinger {
	return &StorePinger{store: store}
}

// Name returns the dependency label used in readiness responses.
func (p *StorePinger) Name() string { return "sqlite" }

// Ping verifies the database connection.
func (p *StorePinger) Ping(ctx context.Context) error {
	return p.store.Ping(ctx)
}
