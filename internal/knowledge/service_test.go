package knowledge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/NamLeeeWatatek/omnikb-go/internal/docstore"
	"github.com/NamLeeeWatatek/omnikb-go/internal/rag"
)

// fakeEmbedder returns deterministic vectors, or a fixed error when failWith
// is set.
type fakeEmbedder struct {
	failWith error
	calls    int
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.failWith != nil {
		return nil, f.failWith
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1, 0}
	}
	return out, nil
}

// fakeIndex is an in-memory rag.VectorIndex keyed by point id.
type fakeIndex struct {
	mu         sync.Mutex
	points     map[string]rag.Point
	upsertErr  error
	deleteErr  error
	searchErr  error
	deleteByID []string
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{points: make(map[string]rag.Point)}
}

func (f *fakeIndex) EnsureCollection(context.Context) error { return nil }

func (f *fakeIndex) Upsert(_ context.Context, points []rag.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	for _, p := range points {
		f.points[p.ID] = p
	}
	return nil
}

func (f *fakeIndex) Search(_ context.Context, _ []float32, limit int, filter rag.Filter) ([]rag.Hit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	var hits []rag.Hit
	for _, p := range f.points {
		match := true
		for k, want := range filter {
			if got, _ := p.Payload[k].(string); got != want {
				match = false
				break
			}
		}
		if !match {
			continue
		}
		content, _ := p.Payload["content"].(string)
		hits = append(hits, rag.Hit{ID: p.ID, Content: content, Score: 0.9, Payload: p.Payload})
		if len(hits) == limit {
			break
		}
	}
	return hits, nil
}

func (f *fakeIndex) Delete(_ context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleteByID = append(f.deleteByID, ids...)
	for _, id := range ids {
		delete(f.points, id)
	}
	return nil
}

func (f *fakeIndex) DeleteByFilter(_ context.Context, filter rag.Filter) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	for id, p := range f.points {
		match := true
		for k, want := range filter {
			if got, _ := p.Payload[k].(string); got != want {
				match = false
				break
			}
		}
		if match {
			delete(f.points, id)
		}
	}
	return nil
}

func (f *fakeIndex) Count(_ context.Context, _ rag.Filter) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.points)), nil
}

func (f *fakeIndex) Close() error { return nil }

func (f *fakeIndex) has(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.points[id]
	return ok
}

// fakeChat returns a canned answer and records the prompt it was given.
type fakeChat struct {
	reply      string
	failWith   error
	lastPrompt string
}

func (f *fakeChat) Generate(_ context.Context, msgs []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	if len(msgs) > 0 {
		f.lastPrompt = msgs[len(msgs)-1].Content
	}
	if f.failWith != nil {
		return nil, f.failWith
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeChat) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, fmt.Errorf("stream not supported")
}

func (f *fakeChat) WithTools([]*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return f, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T, emb rag.Embedder, index rag.VectorIndex) (*Service, *docstore.Store) {
	t.Helper()
	store, err := docstore.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	svc, err := NewService(store, emb, index, testLogger(), Config{})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, store
}

func TestAddDocumentCompletes(t *testing.T) {
	index := newFakeIndex()
	svc, store := newTestService(t, &fakeEmbedder{}, index)
	ctx := context.Background()

	doc, err := svc.AddDocument(ctx, docstore.Document{
		Title:   "Shipping",
		Content: "Orders ship within 2 business days.",
		BotID:   "bot-1",
	})
	if err != nil {
		t.Fatalf("AddDocument: %v", err)
	}
	if doc.EmbeddingStatus != docstore.StatusCompleted {
		t.Fatalf("status = %q, want completed", doc.EmbeddingStatus)
	}
	if !index.has(doc.ID) {
		t.Fatal("vector point missing after ingestion")
	}

	p := index.points[doc.ID]
	if got, _ := p.Payload["botId"].(string); got != "bot-1" {
		t.Fatalf("payload botId = %q, want bot-1", got)
	}
	if got, _ := p.Payload["content"].(string); got != doc.Content {
		t.Fatalf("payload content = %q", got)
	}

	stored, err := store.Get(ctx, doc.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.EmbeddingStatus != docstore.StatusCompleted {
		t.Fatalf("stored status = %q, want completed", stored.EmbeddingStatus)
	}
}

func TestAddDocumentDefaultsTenantPayload(t *testing.T) {
	index := newFakeIndex()
	svc, _ := newTestService(t, &fakeEmbedder{}, index)

	doc, err := svc.AddDocument(context.Background(), docstore.Document{Title: "t", Content: "c"})
	if err != nil {
		t.Fatalf("AddDocument: %v", err)
	}
	if got, _ := index.points[doc.ID].Payload["botId"].(string); got != DefaultTenant {
		t.Fatalf("payload botId = %q, want %q", got, DefaultTenant)
	}
}

func TestAddDocumentCapturesEmbedFailure(t *testing.T) {
	emb := &fakeEmbedder{failWith: errors.New("embedding API timed out")}
	svc, store := newTestService(t, emb, newFakeIndex())
	ctx := context.Background()

	doc, err := svc.AddDocument(ctx, docstore.Document{Title: "t", Content: "c"})
	if err != nil {
		t.Fatalf("embed failure must not propagate, got %v", err)
	}
	if doc.EmbeddingStatus != docstore.StatusFailed {
		t.Fatalf("status = %q, want failed", doc.EmbeddingStatus)
	}

	stored, _ := store.Get(ctx, doc.ID)
	if stored.EmbeddingStatus != docstore.StatusFailed || stored.EmbeddingError == "" {
		t.Fatalf("stored status=%q error=%q, want failed with message", stored.EmbeddingStatus, stored.EmbeddingError)
	}
}

func TestAddDocumentCapturesUpsertFailure(t *testing.T) {
	index := newFakeIndex()
	index.upsertErr = errors.New("connection refused")
	svc, _ := newTestService(t, &fakeEmbedder{}, index)

	doc, err := svc.AddDocument(context.Background(), docstore.Document{Title: "t", Content: "c"})
	if err != nil {
		t.Fatalf("upsert failure must not propagate, got %v", err)
	}
	if doc.EmbeddingStatus != docstore.StatusFailed {
		t.Fatalf("status = %q, want failed", doc.EmbeddingStatus)
	}
}

func TestAddDocumentValidationPropagates(t *testing.T) {
	svc, _ := newTestService(t, &fakeEmbedder{}, newFakeIndex())

	_, err := svc.AddDocument(context.Background(), docstore.Document{Title: "", Content: "c"})
	if !errors.Is(err, docstore.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestAddDocumentsBatchEmbedsOnce(t *testing.T) {
	emb := &fakeEmbedder{}
	index := newFakeIndex()
	svc, _ := newTestService(t, emb, index)

	docs, err := svc.AddDocuments(context.Background(), []docstore.Document{
		{Title: "a", Content: "ca"},
		{Title: "b", Content: "cb"},
		{Title: "c", Content: "cc"},
	})
	if err != nil {
		t.Fatalf("AddDocuments: %v", err)
	}
	if emb.calls != 1 {
		t.Fatalf("embedder called %d times, want 1", emb.calls)
	}
	for _, d := range docs {
		if d.EmbeddingStatus != docstore.StatusCompleted {
			t.Fatalf("doc %s status = %q, want completed", d.ID, d.EmbeddingStatus)
		}
		if !index.has(d.ID) {
			t.Fatalf("doc %s missing from index", d.ID)
		}
	}
}

func TestAddDocumentsBatchFailureMarksAllFailed(t *testing.T) {
	emb := &fakeEmbedder{failWith: errors.New("quota exceeded")}
	svc, store := newTestService(t, emb, newFakeIndex())
	ctx := context.Background()

	docs, err := svc.AddDocuments(ctx, []docstore.Document{
		{Title: "a", Content: "ca"},
		{Title: "b", Content: "cb"},
	})
	if err != nil {
		t.Fatalf("batch embed failure must not propagate, got %v", err)
	}
	for _, d := range docs {
		if d.EmbeddingStatus != docstore.StatusFailed {
			t.Fatalf("doc %s status = %q, want failed", d.ID, d.EmbeddingStatus)
		}
		stored, _ := store.Get(ctx, d.ID)
		if stored.EmbeddingStatus != docstore.StatusFailed {
			t.Fatalf("stored doc %s status = %q, want failed", d.ID, stored.EmbeddingStatus)
		}
	}
}

func TestUpdateDocumentReembedsInPlace(t *testing.T) {
	emb := &fakeEmbedder{}
	index := newFakeIndex()
	svc, _ := newTestService(t, emb, index)
	ctx := context.Background()

	doc, err := svc.AddDocument(ctx, docstore.Document{Title: "t", Content: "old content"})
	if err != nil {
		t.Fatalf("AddDocument: %v", err)
	}

	newContent := "new content"
	updated, err := svc.UpdateDocument(ctx, doc.ID, docstore.Patch{Content: &newContent})
	if err != nil {
		t.Fatalf("UpdateDocument: %v", err)
	}
	if updated.EmbeddingStatus != docstore.StatusCompleted {
		t.Fatalf("status = %q, want completed", updated.EmbeddingStatus)
	}

	// Same point id, refreshed payload — the index holds exactly one
	// generation of the document.
	if len(index.points) != 1 {
		t.Fatalf("index holds %d points, want 1", len(index.points))
	}
	if got, _ := index.points[doc.ID].Payload["content"].(string); got != "new content" {
		t.Fatalf("payload content = %q, want refreshed", got)
	}
}

func TestUpdateDocumentTitleOnlySkipsReembed(t *testing.T) {
	emb := &fakeEmbedder{}
	svc, _ := newTestService(t, emb, newFakeIndex())
	ctx := context.Background()

	doc, _ := svc.AddDocument(ctx, docstore.Document{Title: "t", Content: "c"})
	callsAfterAdd := emb.calls

	newTitle := "renamed"
	if _, err := svc.UpdateDocument(ctx, doc.ID, docstore.Patch{Title: &newTitle}); err != nil {
		t.Fatalf("UpdateDocument: %v", err)
	}
	if emb.calls != callsAfterAdd {
		t.Fatalf("title-only update re-embedded (calls %d → %d)", callsAfterAdd, emb.calls)
	}
}

func TestDeleteDocumentRemovesBothStores(t *testing.T) {
	index := newFakeIndex()
	svc, store := newTestService(t, &fakeEmbedder{}, index)
	ctx := context.Background()

	doc, _ := svc.AddDocument(ctx, docstore.Document{Title: "t", Content: "c"})

	if err := svc.DeleteDocument(ctx, doc.ID); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if index.has(doc.ID) {
		t.Fatal("vector point survived delete")
	}
	if _, err := store.Get(ctx, doc.ID); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("row survived delete: %v", err)
	}

	// Deleting again is a no-op.
	if err := svc.DeleteDocument(ctx, doc.ID); err != nil {
		t.Fatalf("second DeleteDocument: %v", err)
	}
}

func TestDeleteDocumentToleratesPermissionDenied(t *testing.T) {
	index := newFakeIndex()
	svc, store := newTestService(t, &fakeEmbedder{}, index)
	ctx := context.Background()

	doc, _ := svc.AddDocument(ctx, docstore.Document{Title: "t", Content: "c"})
	index.deleteErr = fmt.Errorf("%w: read-only key", rag.ErrPermissionDenied)

	if err := svc.DeleteDocument(ctx, doc.ID); err != nil {
		t.Fatalf("permission-denied vector delete must succeed, got %v", err)
	}
	// The relational row is gone even though the point is orphaned.
	if _, err := store.Get(ctx, doc.ID); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("row survived delete: %v", err)
	}
}

func TestDeleteDocumentPropagatesTransportError(t *testing.T) {
	index := newFakeIndex()
	svc, _ := newTestService(t, &fakeEmbedder{}, index)
	ctx := context.Background()

	doc, _ := svc.AddDocument(ctx, docstore.Document{Title: "t", Content: "c"})
	index.deleteErr = errors.New("connection refused")

	if err := svc.DeleteDocument(ctx, doc.ID); err == nil {
		t.Fatal("transport error should propagate")
	}
}

func TestDeleteAllForTenant(t *testing.T) {
	index := newFakeIndex()
	svc, store := newTestService(t, &fakeEmbedder{}, index)
	ctx := context.Background()

	_, _ = svc.AddDocument(ctx, docstore.Document{Title: "a", Content: "ca", BotID: "bot-1"})
	_, _ = svc.AddDocument(ctx, docstore.Document{Title: "b", Content: "cb", BotID: "bot-1"})
	keep, _ := svc.AddDocument(ctx, docstore.Document{Title: "c", Content: "cc", BotID: "bot-2"})

	if err := svc.DeleteAllForTenant(ctx, "bot-1"); err != nil {
		t.Fatalf("DeleteAllForTenant: %v", err)
	}

	n, _ := store.Count(ctx, docstore.Filter{})
	if n != 1 {
		t.Fatalf("rows after tenant delete = %d, want 1", n)
	}
	if !index.has(keep.ID) {
		t.Fatal("other tenant's point was deleted")
	}
	if len(index.points) != 1 {
		t.Fatalf("index holds %d points, want 1", len(index.points))
	}

	if err := svc.DeleteAllForTenant(ctx, ""); !errors.Is(err, docstore.ErrValidation) {
		t.Fatalf("empty tenant: err = %v, want ErrValidation", err)
	}
}

func TestChunkAndIngest(t *testing.T) {
	index := newFakeIndex()
	svc, _ := newTestService(t, &fakeEmbedder{}, index)

	text := "First paragraph.\n\nSecond paragraph.\n\n\n\nThird paragraph."
	docs, err := svc.ChunkAndIngest(context.Background(), "FAQ", text, "upload", "bot-1", map[string]any{"origin": "faq.txt"})
	if err != nil {
		t.Fatalf("ChunkAndIngest: %v", err)
	}
	if len(docs) != 3 {
		t.Fatalf("got %d chunks, want 3", len(docs))
	}
	for i, d := range docs {
		if d.EmbeddingStatus != docstore.StatusCompleted {
			t.Fatalf("chunk %d status = %q", i, d.EmbeddingStatus)
		}
		if d.Metadata["chunk_index"] != i {
			t.Fatalf("chunk %d index metadata = %v", i, d.Metadata["chunk_index"])
		}
		if d.Metadata["origin"] != "faq.txt" {
			t.Fatalf("chunk %d lost shared metadata", i)
		}
	}

	if _, err := svc.ChunkAndIngest(context.Background(), "empty", "\n\n \n\n", "upload", "", nil); !errors.Is(err, docstore.ErrValidation) {
		t.Fatalf("empty text: err = %v, want ErrValidation", err)
	}
}

func TestSplitParagraphs(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"   ", 0},
		{"one block", 1},
		{"a\n\nb", 2},
		{"a\n\n\n\nb", 2},
		{"  a  \n\n  b  \n\n", 2},
	}
	for _, tc := range cases {
		if got := SplitParagraphs(tc.in); len(got) != tc.want {
			t.Errorf("SplitParagraphs(%q) returned %d chunks, want %d", tc.in, len(got), tc.want)
		}
	}
}
