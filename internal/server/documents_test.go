package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// doJSON drives the server's full handler chain with a JSON body and decodes
// the JSON response into out (when out is non-nil).
func doJSON(t *testing.T, s *Server, method, path string, body any, out any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if out != nil && w.Body.Len() > 0 {
		if err := json.NewDecoder(w.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decode response: %v — body: %s", method, path, err, w.Body.String())
		}
	}
	return w
}

func TestCreateDocument(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	var doc documentResponse
	w := doJSON(t, s, http.MethodPost, "/api/documents", createDocumentRequest{
		Title:   "Refund policy",
		Content: "Refunds are issued within 14 days.",
		BotID:   "bot-1",
	}, &doc)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d — body: %s", w.Code, w.Body.String())
	}
	if doc.ID == "" {
		t.Error("expected a generated document id")
	}
	if doc.EmbeddingStatus != "completed" {
		t.Errorf("expected status completed, got %q", doc.EmbeddingStatus)
	}
	if doc.BotID != "bot-1" {
		t.Errorf("expected botId bot-1, got %q", doc.BotID)
	}
}

func TestCreateDocument_ValidationError(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/api/documents", createDocumentRequest{Title: "no content"}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d — body: %s", w.Code, w.Body.String())
	}
}

func TestCreateDocument_InvalidJSON(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/documents", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

// TestCreateDocument_EmbedFailureStillStores verifies the capture semantics:
// a broken embedding backend must not fail document creation — the document
// is stored with status failed and the request still returns 201.
func TestCreateDocument_EmbedFailureStillStores(t *testing.T) {
	t.Parallel()
	s := newTestServerWith(t, testServerOpts{
		embedder: &stubEmbedder{err: fmt.Errorf("backend down")},
	})

	var doc documentResponse
	w := doJSON(t, s, http.MethodPost, "/api/documents", createDocumentRequest{
		Title:   "Shipping",
		Content: "Orders ship in 2 days.",
	}, &doc)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d — body: %s", w.Code, w.Body.String())
	}
	if doc.EmbeddingStatus != "failed" {
		t.Errorf("expected status failed, got %q", doc.EmbeddingStatus)
	}
	if doc.EmbeddingError == "" {
		t.Error("expected embeddingError to carry the failure reason")
	}
}

func TestGetDocument(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	var created documentResponse
	doJSON(t, s, http.MethodPost, "/api/documents", createDocumentRequest{
		Title: "FAQ", Content: "Q and A.",
	}, &created)

	var got documentResponse
	w := doJSON(t, s, http.MethodGet, "/api/documents/"+created.ID, nil, &got)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got.ID != created.ID || got.Title != "FAQ" {
		t.Errorf("unexpected document: %+v", got)
	}
}

func TestGetDocument_NotFound(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	w := doJSON(t, s, http.MethodGet, "/api/documents/missing-id", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d — body: %s", w.Code, w.Body.String())
	}
}

func TestUpdateDocument(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	var created documentResponse
	doJSON(t, s, http.MethodPost, "/api/documents", createDocumentRequest{
		Title: "Old title", Content: "Old content.",
	}, &created)

	newContent := "New content."
	var updated documentResponse
	w := doJSON(t, s, http.MethodPatch, "/api/documents/"+created.ID,
		updateDocumentRequest{Content: &newContent}, &updated)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d — body: %s", w.Code, w.Body.String())
	}
	if updated.Content != newContent {
		t.Errorf("expected content updated, got %q", updated.Content)
	}
	if updated.Title != "Old title" {
		t.Errorf("expected title unchanged, got %q", updated.Title)
	}
	if updated.EmbeddingStatus != "completed" {
		t.Errorf("expected re-embed to complete, got %q", updated.EmbeddingStatus)
	}
}

func TestUpdateDocument_NotFound(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	title := "x"
	w := doJSON(t, s, http.MethodPatch, "/api/documents/nope",
		updateDocumentRequest{Title: &title}, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestDeleteDocument(t *testing.T) {
	t.Parallel()
	idx := newStubIndex()
	s := newTestServerWith(t, testServerOpts{index: idx})

	var created documentResponse
	doJSON(t, s, http.MethodPost, "/api/documents", createDocumentRequest{
		Title: "Doomed", Content: "Delete me.",
	}, &created)

	w := doJSON(t, s, http.MethodDelete, "/api/documents/"+created.ID, nil, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}

	if w := doJSON(t, s, http.MethodGet, "/api/documents/"+created.ID, nil, nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", w.Code)
	}
	if len(idx.points) != 0 {
		t.Errorf("expected vector point removed, %d remain", len(idx.points))
	}

	// Deleting again is idempotent.
	if w := doJSON(t, s, http.MethodDelete, "/api/documents/"+created.ID, nil, nil); w.Code != http.StatusNoContent {
		t.Errorf("expected 204 on repeat delete, got %d", w.Code)
	}
}

func TestListAndCountDocuments(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	for i := range 3 {
		doJSON(t, s, http.MethodPost, "/api/documents", createDocumentRequest{
			Title: fmt.Sprintf("doc %d", i), Content: "body", BotID: "bot-a",
		}, nil)
	}
	doJSON(t, s, http.MethodPost, "/api/documents", createDocumentRequest{
		Title: "other tenant", Content: "body", BotID: "bot-b",
	}, nil)

	var listed []documentResponse
	if w := doJSON(t, s, http.MethodGet, "/api/documents?botId=bot-a", nil, &listed); w.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", w.Code)
	}
	if len(listed) != 3 {
		t.Errorf("expected 3 documents for bot-a, got %d", len(listed))
	}

	var count countResponse
	if w := doJSON(t, s, http.MethodGet, "/api/documents/count?botId=bot-b", nil, &count); w.Code != http.StatusOK {
		t.Fatalf("count: expected 200, got %d", w.Code)
	}
	if count.Count != 1 {
		t.Errorf("expected count 1 for bot-b, got %d", count.Count)
	}

	var all []documentResponse
	doJSON(t, s, http.MethodGet, "/api/documents", nil, &all)
	if len(all) != 4 {
		t.Errorf("expected 4 documents unfiltered, got %d", len(all))
	}
}

func TestBatchCreate(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	var docs []documentResponse
	w := doJSON(t, s, http.MethodPost, "/api/documents/batch", batchRequest{
		Documents: []createDocumentRequest{
			{Title: "a", Content: "first"},
			{Title: "b", Content: "second"},
		},
	}, &docs)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d — body: %s", w.Code, w.Body.String())
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}
	for _, d := range docs {
		if d.EmbeddingStatus != "completed" {
			t.Errorf("document %q: expected completed, got %q", d.Title, d.EmbeddingStatus)
		}
	}
}

func TestBatchCreate_Empty(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/api/documents/batch", batchRequest{}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty batch, got %d", w.Code)
	}
}

func TestUpload(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "handbook.txt")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	fmt.Fprint(fw, "First paragraph.\n\nSecond paragraph.\n\n\n\nThird.")
	if err := mw.WriteField("botId", "bot-u"); err != nil {
		t.Fatalf("write field: %v", err)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/documents/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d — body: %s", w.Code, w.Body.String())
	}

	var resp uploadResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Chunks != 3 {
		t.Errorf("expected 3 chunks, got %d", resp.Chunks)
	}
	for _, d := range resp.Documents {
		if d.BotID != "bot-u" {
			t.Errorf("chunk %q: expected botId bot-u, got %q", d.Title, d.BotID)
		}
		if d.Metadata["filename"] != "handbook.txt" {
			t.Errorf("chunk %q: filename metadata = %v", d.Title, d.Metadata["filename"])
		}
	}
}

func TestUpload_MissingFile(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("botId", "bot-u")
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/documents/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without file part, got %d", w.Code)
	}
}

func TestDeleteTenant(t *testing.T) {
	t.Parallel()
	idx := newStubIndex()
	s := newTestServerWith(t, testServerOpts{index: idx})

	doJSON(t, s, http.MethodPost, "/api/documents", createDocumentRequest{
		Title: "keep", Content: "body", BotID: "bot-keep",
	}, nil)
	doJSON(t, s, http.MethodPost, "/api/documents", createDocumentRequest{
		Title: "drop", Content: "body", BotID: "bot-drop",
	}, nil)

	w := doJSON(t, s, http.MethodDelete, "/api/bots/bot-drop/documents", nil, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d — body: %s", w.Code, w.Body.String())
	}

	var count countResponse
	doJSON(t, s, http.MethodGet, "/api/documents/count", nil, &count)
	if count.Count != 1 {
		t.Errorf("expected 1 surviving document, got %d", count.Count)
	}
	n, _ := idx.Count(t.Context(), map[string]string{"botId": "bot-drop"})
	if n != 0 {
		t.Errorf("expected bot-drop vectors removed, %d remain", n)
	}
}
