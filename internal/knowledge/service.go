// Package knowledge implements the knowledge-base pipeline: document
// ingestion (store → embed → index) and retrieval-augmented answering.
//
// The relational store is the record of truth; the vector index is a derived,
// rebuildable cache. Write operations therefore persist relationally first
// and capture embedding or index failures in the document's status rather
// than propagating them — a broken embedding backend degrades search, never
// document management.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/NamLeeeWatatek/omnikb-go/internal/docstore"
	"github.com/NamLeeeWatatek/omnikb-go/internal/rag"
)

// DefaultTenant is the payload tenant tag used when a document or query
// carries no explicit bot ID. Keeping it non-empty means tenant filters are
// always exact-match; untagged documents and untagged queries meet here.
const DefaultTenant = "default"

// defaultEmbedConcurrency bounds parallel index upserts during batch ingestion.
const defaultEmbedConcurrency = 5

// Config holds tuning knobs for the Service. The zero value is usable.
type Config struct {
	// EmbedConcurrency bounds parallel vector upserts in batch ingestion.
	// Defaults to 5 if zero.
	EmbedConcurrency int
}

// Service orchestrates the dual-store write path for knowledge documents.
type Service struct {
	// store is the relational record of truth.
	store *docstore.Store

	// embedder converts document content into dense vectors.
	embedder rag.Embedder

	// index holds the derived vector points for similarity search.
	index rag.VectorIndex

	// log receives structured pipeline events.
	log *slog.Logger

	// cfg holds resolved tuning knobs.
	cfg Config
}

// NewService constructs a Service from its dependencies. All of store,
// embedder, and index are required; use rag.NewDisabledIndex and
// embedder.NewUnavailable for degraded deployments rather than passing nil.
func NewService(store *docstore.Store, emb rag.Embedder, index rag.VectorIndex, log *slog.Logger, cfg Config) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("knowledge: store must not be nil")
	}
	if emb == nil {
		return nil, fmt.Errorf("knowledge: embedder must not be nil")
	}
	if index == nil {
		return nil, fmt.Errorf("knowledge: index must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.EmbedConcurrency <= 0 {
		cfg.EmbedConcurrency = defaultEmbedConcurrency
	}
	return &Service{store: store, embedder: emb, index: index, log: log, cfg: cfg}, nil
}

// AddDocument persists a document and synchronously embeds it into the vector
// index. Relational failures (validation, storage) are returned as errors.
// Embedding or index failures are NOT returned: they are recorded in the
// document's embedding status and the stored document is returned with
// status "failed" so callers and operators can retry later.
func (s *Service) AddDocument(ctx context.Context, doc docstore.Document) (docstore.Document, error) {
	doc.EmbeddingStatus = docstore.StatusProcessing
	created, err := s.store.Create(ctx, doc)
	if err != nil {
		return docstore.Document{}, err
	}

	if embedErr := s.embedAndIndex(ctx, created); embedErr != nil {
		return s.markFailed(ctx, created, embedErr), nil
	}

	return s.markCompleted(ctx, created), nil
}

// AddDocuments ingests a batch of documents. All rows are persisted first;
// the batch is then embedded in a single call. An embedding failure is
// all-or-nothing: every row in the batch is marked failed. Index upserts run
// concurrently (bounded) and failures are captured per document.
//
// The returned slice is parallel to the input and reflects each document's
// final status. Only relational errors abort the batch.
func (s *Service) AddDocuments(ctx context.Context, docs []docstore.Document) ([]docstore.Document, error) {
	created := make([]docstore.Document, len(docs))
	for i, doc := range docs {
		doc.EmbeddingStatus = docstore.StatusProcessing
		c, err := s.store.Create(ctx, doc)
		if err != nil {
			return nil, fmt.Errorf("knowledge: batch item %d: %w", i, err)
		}
		created[i] = c
	}

	texts := make([]string, len(created))
	for i, c := range created {
		texts[i] = c.Content
	}

	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil || len(vectors) != len(created) {
		if err == nil {
			err = fmt.Errorf("knowledge: embedder returned %d vectors for %d documents", len(vectors), len(created))
		}
		for i, c := range created {
			created[i] = s.markFailed(ctx, c, err)
		}
		return created, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.EmbedConcurrency)
	for i := range created {
		g.Go(func() error {
			c := created[i]
			upsertErr := s.index.Upsert(gctx, []rag.Point{{
				ID:      c.ID,
				Vector:  vectors[i],
				Payload: vectorPayload(c),
			}})
			if upsertErr != nil {
				created[i] = s.markFailed(gctx, c, upsertErr)
			} else {
				created[i] = s.markCompleted(gctx, c)
			}
			// Per-document failures are captured in status, never propagated,
			// so sibling upserts are not cancelled.
			return nil
		})
	}
	_ = g.Wait()

	return created, nil
}

// UpdateDocument applies a partial update. When the content changes the
// document is re-embedded in place: the vector point keeps its ID, so the
// index never holds two generations of the same document. Embedding failures
// are captured in status, as in AddDocument.
func (s *Service) UpdateDocument(ctx context.Context, id string, patch docstore.Patch) (docstore.Document, error) {
	updated, err := s.store.Update(ctx, id, patch)
	if err != nil {
		return docstore.Document{}, err
	}

	if patch.Content == nil {
		return updated, nil
	}

	if err := s.store.SetStatus(ctx, id, docstore.StatusProcessing, ""); err != nil {
		return docstore.Document{}, err
	}
	updated.EmbeddingStatus = docstore.StatusProcessing

	if embedErr := s.embedAndIndex(ctx, updated); embedErr != nil {
		return s.markFailed(ctx, updated, embedErr), nil
	}
	return s.markCompleted(ctx, updated), nil
}

// DeleteDocument removes a document from the relational store and its point
// from the vector index, in that order — if the vector delete fails the row
// is already gone and the orphaned point can never surface a live document.
//
// A vector backend that forbids deletes (read-only API key) is tolerated:
// rag.ErrPermissionDenied is logged as a warning and the delete succeeds.
// Deleting an unknown id succeeds.
func (s *Service) DeleteDocument(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}

	if err := s.index.Delete(ctx, []string{id}); err != nil {
		if errors.Is(err, rag.ErrPermissionDenied) || errors.Is(err, rag.ErrIndexUnavailable) {
			s.log.Warn("knowledge: vector delete skipped",
				slog.String("document_id", id),
				slog.String("reason", err.Error()),
			)
			return nil
		}
		return fmt.Errorf("knowledge: vector delete for %s: %w", id, err)
	}
	return nil
}

// DeleteAllForTenant removes every document belonging to botID from both
// stores, relational first. Vector permission failures are tolerated as in
// DeleteDocument.
func (s *Service) DeleteAllForTenant(ctx context.Context, botID string) error {
	if botID == "" {
		return fmt.Errorf("%w: bot id is required", docstore.ErrValidation)
	}

	if err := s.store.DeleteByTenant(ctx, botID); err != nil {
		return err
	}

	if err := s.index.DeleteByFilter(ctx, rag.Filter{"botId": botID}); err != nil {
		if errors.Is(err, rag.ErrPermissionDenied) || errors.Is(err, rag.ErrIndexUnavailable) {
			s.log.Warn("knowledge: tenant vector delete skipped",
				slog.String("bot_id", botID),
				slog.String("reason", err.Error()),
			)
			return nil
		}
		return fmt.Errorf("knowledge: tenant vector delete for %s: %w", botID, err)
	}
	return nil
}

// ChunkAndIngest splits raw text into paragraph chunks and ingests each chunk
// as its own document via AddDocuments. Chunks inherit the given title
// (suffixed with their position), source, tenant, and metadata; each chunk
// additionally records its index and the chunk count.
func (s *Service) ChunkAndIngest(ctx context.Context, title, text, source, botID string, metadata map[string]any) ([]docstore.Document, error) {
	chunks := SplitParagraphs(text)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: no ingestible content", docstore.ErrValidation)
	}

	docs := make([]docstore.Document, len(chunks))
	for i, chunk := range chunks {
		meta := make(map[string]any, len(metadata)+2)
		for k, v := range metadata {
			meta[k] = v
		}
		meta["chunk_index"] = i
		meta["chunk_count"] = len(chunks)

		docs[i] = docstore.Document{
			Title:    fmt.Sprintf("%s (%d/%d)", title, i+1, len(chunks)),
			Content:  chunk,
			Source:   source,
			BotID:    botID,
			Metadata: meta,
		}
	}

	return s.AddDocuments(ctx, docs)
}

// GetDocument returns a single document by id.
func (s *Service) GetDocument(ctx context.Context, id string) (docstore.Document, error) {
	return s.store.Get(ctx, id)
}

// ListDocuments returns documents matching the filter, newest first.
func (s *Service) ListDocuments(ctx context.Context, filter docstore.Filter) ([]docstore.Document, error) {
	return s.store.List(ctx, filter)
}

// CountDocuments returns the number of documents matching the filter.
func (s *Service) CountDocuments(ctx context.Context, filter docstore.Filter) (int64, error) {
	return s.store.Count(ctx, filter)
}

// embedAndIndex embeds one document and upserts its vector point.
func (s *Service) embedAndIndex(ctx context.Context, doc docstore.Document) error {
	vectors, err := s.embedder.Embed(ctx, []string{doc.Content})
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}
	if len(vectors) != 1 {
		return fmt.Errorf("embed: expected 1 vector, got %d", len(vectors))
	}

	err = s.index.Upsert(ctx, []rag.Point{{
		ID:      doc.ID,
		Vector:  vectors[0],
		Payload: vectorPayload(doc),
	}})
	if err != nil {
		return fmt.Errorf("index upsert: %w", err)
	}
	return nil
}

// markCompleted records a successful embed and returns the updated document.
func (s *Service) markCompleted(ctx context.Context, doc docstore.Document) docstore.Document {
	if err := s.store.SetStatus(ctx, doc.ID, docstore.StatusCompleted, ""); err != nil {
		s.log.Error("knowledge: status update failed",
			slog.String("document_id", doc.ID),
			slog.String("error", err.Error()),
		)
	}
	doc.EmbeddingStatus = docstore.StatusCompleted
	doc.EmbeddingError = ""
	return doc
}

// markFailed records an embed or index failure and returns the updated document.
func (s *Service) markFailed(ctx context.Context, doc docstore.Document, cause error) docstore.Document {
	s.log.Warn("knowledge: embedding failed",
		slog.String("document_id", doc.ID),
		slog.String("error", cause.Error()),
	)
	if err := s.store.SetStatus(ctx, doc.ID, docstore.StatusFailed, cause.Error()); err != nil {
		s.log.Error("knowledge: status update failed",
			slog.String("document_id", doc.ID),
			slog.String("error", err.Error()),
		)
	}
	doc.EmbeddingStatus = docstore.StatusFailed
	doc.EmbeddingError = cause.Error()
	return doc
}

// vectorPayload builds the index payload for a document: the content itself,
// the tenant tag (defaulted so filters stay exact-match), user metadata, and
// provenance fields. Reserved keys win over metadata on collision.
func vectorPayload(doc docstore.Document) map[string]any {
	payload := make(map[string]any, len(doc.Metadata)+5)
	for k, v := range doc.Metadata {
		payload[k] = v
	}
	payload["content"] = doc.Content
	payload["title"] = doc.Title
	payload["source"] = doc.Source
	payload["botId"] = tenantOrDefault(doc.BotID)
	payload["createdAt"] = doc.CreatedAt.UTC().Format(time.RFC3339)
	return payload
}

// tenantOrDefault maps an empty bot ID to DefaultTenant.
func tenantOrDefault(botID string) string {
	if botID == "" {
		return DefaultTenant
	}
	return botID
}
