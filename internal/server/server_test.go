package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/NamLeeeWatatek/omnikb-go/internal/docstore"
	"github.com/NamLeeeWatatek/omnikb-go/internal/knowledge"
	"github.com/NamLeeeWatatek/omnikb-go/internal/rag"
)

// ---------------------------------------------------------------------------
// Test doubles shared across the server tests
// ---------------------------------------------------------------------------

// stubEmbedder returns a fixed-size vector derived from the text length so
// tests are deterministic without a real embedding backend.
type stubEmbedder struct {
	// err, when set, fails every Embed call.
	err error
}

func (e *stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1, 0}
	}
	return out, nil
}

// stubIndex is an in-memory VectorIndex double.
type stubIndex struct {
	mu     sync.Mutex
	points map[string]rag.Point
	// searchErr, when set, fails every Search call.
	searchErr error
}

func newStubIndex() *stubIndex {
	return &stubIndex{points: make(map[string]rag.Point)}
}

func (s *stubIndex) EnsureCollection(context.Context) error { return nil }

func (s *stubIndex) Upsert(_ context.Context, points []rag.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range points {
		s.points[p.ID] = p
	}
	return nil
}

func (s *stubIndex) Search(_ context.Context, _ []float32, limit int, filter rag.Filter) ([]rag.Hit, error) {
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var hits []rag.Hit
	for _, p := range s.points {
		if !matchesFilter(p.Payload, filter) {
			continue
		}
		content, _ := p.Payload["content"].(string)
		hits = append(hits, rag.Hit{ID: p.ID, Content: content, Score: 0.9, Payload: p.Payload})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].ID < hits[j].ID })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (s *stubIndex) Delete(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.points, id)
	}
	return nil
}

func (s *stubIndex) DeleteByFilter(_ context.Context, filter rag.Filter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range s.points {
		if matchesFilter(p.Payload, filter) {
			delete(s.points, id)
		}
	}
	return nil
}

func (s *stubIndex) Count(_ context.Context, filter rag.Filter) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n uint64
	for _, p := range s.points {
		if matchesFilter(p.Payload, filter) {
			n++
		}
	}
	return n, nil
}

func (s *stubIndex) Close() error { return nil }

func matchesFilter(payload map[string]any, filter rag.Filter) bool {
	for k, want := range filter {
		got, _ := payload[k].(string)
		if got != want {
			return false
		}
	}
	return true
}

// stubChat is a chat-model double returning a canned reply.
type stubChat struct {
	// reply is the content of every generated message.
	reply string
	// err, when set, fails every Generate call.
	err error
}

func (c *stubChat) Generate(context.Context, []*schema.Message, ...model.Option) (*schema.Message, error) {
	if c.err != nil {
		return nil, c.err
	}
	return schema.AssistantMessage(c.reply, nil), nil
}

func (c *stubChat) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, nil
}

func (c *stubChat) WithTools([]*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return c, nil
}

// ---------------------------------------------------------------------------
// Server construction helpers
// ---------------------------------------------------------------------------

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testServerOpts tweaks the doubles wired into newTestServerWith.
type testServerOpts struct {
	embedder rag.Embedder
	index    rag.VectorIndex
	chat     model.ToolCallingChatModel
	apiKey   string
}

// newTestServerWith builds a fully wired Server backed by an in-memory
// document store. The returned index double allows direct state assertions.
func newTestServerWith(t *testing.T, opts testServerOpts) *Server {
	t.Helper()

	store, err := docstore.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if opts.embedder == nil {
		opts.embedder = &stubEmbedder{}
	}
	if opts.index == nil {
		opts.index = newStubIndex()
	}

	log := discardLogger()
	svc, err := knowledge.NewService(store, opts.embedder, opts.index, log, knowledge.Config{})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	answerer, err := knowledge.NewAnswerer(opts.embedder, opts.index, opts.chat, log)
	if err != nil {
		t.Fatalf("new answerer: %v", err)
	}

	s, err := New(svc, answerer, &Config{
		Logger:   log,
		APIKey:   opts.apiKey,
		Registry: prometheus.NewRegistry(),
		// Generous limits so handler tests never trip the rate limiter.
		RateLimit: 10000,
		RateBurst: 10000,
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	t.Cleanup(s.stopRL)
	return s
}

// newTestServer builds a Server with default doubles and auth disabled.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	return newTestServerWith(t, testServerOpts{})
}

// okHandler is a trivial handler used to verify that allowed requests reach
// the downstream handler.
var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})
