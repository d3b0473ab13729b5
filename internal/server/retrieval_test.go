package server

import (
	"errors"
	"net/http"
	"strings"
	"testing"
)

func TestQuery(t *testing.T) {
	t.Parallel()
	s := newTestServerWith(t, testServerOpts{chat: &stubChat{reply: "unused"}})

	doJSON(t, s, http.MethodPost, "/api/documents", createDocumentRequest{
		Title: "Returns", Content: "Returns are accepted within 30 days.", BotID: "bot-q",
	}, nil)
	doJSON(t, s, http.MethodPost, "/api/documents", createDocumentRequest{
		Title: "Other", Content: "Unrelated tenant data.", BotID: "bot-other",
	}, nil)

	var resp queryResponse
	w := doJSON(t, s, http.MethodPost, "/api/query", queryRequest{
		Query: "can I return an item?", BotID: "bot-q",
	}, &resp)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d — body: %s", w.Code, w.Body.String())
	}
	if len(resp.Results) != 1 {
		t.Fatalf("expected 1 tenant-scoped hit, got %d", len(resp.Results))
	}
	hit := resp.Results[0]
	if !strings.Contains(hit.Content, "30 days") {
		t.Errorf("unexpected hit content: %q", hit.Content)
	}
	if hit.Score <= 0 {
		t.Errorf("expected positive score, got %v", hit.Score)
	}
}

func TestQuery_EmptyQuestion(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/api/query", queryRequest{Query: "   "}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d — body: %s", w.Code, w.Body.String())
	}
}

func TestQuery_SearchFailure(t *testing.T) {
	t.Parallel()
	idx := newStubIndex()
	idx.searchErr = errors.New("grpc: connection refused")
	s := newTestServerWith(t, testServerOpts{index: idx})

	w := doJSON(t, s, http.MethodPost, "/api/query", queryRequest{Query: "anything"}, nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 on transport failure, got %d", w.Code)
	}
}

func TestAnswer(t *testing.T) {
	t.Parallel()
	s := newTestServerWith(t, testServerOpts{chat: &stubChat{reply: "Returns are accepted within 30 days."}})

	doJSON(t, s, http.MethodPost, "/api/documents", createDocumentRequest{
		Title: "Returns", Content: "Returns are accepted within 30 days.", BotID: "bot-a",
	}, nil)

	var resp answerResponse
	w := doJSON(t, s, http.MethodPost, "/api/answer", answerRequest{
		Question: "What is the return window?", BotID: "bot-a",
	}, &resp)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d — body: %s", w.Code, w.Body.String())
	}
	if resp.Answer == "" {
		t.Fatal("expected a non-empty answer")
	}
	if len(resp.Sources) != 1 {
		t.Fatalf("expected 1 source, got %d", len(resp.Sources))
	}
	if resp.Sources[0].Title != "Returns" {
		t.Errorf("expected source title Returns, got %q", resp.Sources[0].Title)
	}
}

// TestAnswer_NoContext verifies the fixed fallback reply: when the tenant has
// no matching documents the canned answer is returned with no sources.
func TestAnswer_NoContext(t *testing.T) {
	t.Parallel()
	s := newTestServerWith(t, testServerOpts{chat: &stubChat{reply: "should not be called"}})

	var resp answerResponse
	w := doJSON(t, s, http.MethodPost, "/api/answer", answerRequest{
		Question: "Anything at all?", BotID: "empty-bot",
	}, &resp)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if resp.Answer != "I don't have enough information to answer that question." {
		t.Errorf("unexpected fallback answer: %q", resp.Answer)
	}
	if len(resp.Sources) != 0 {
		t.Errorf("expected no sources, got %d", len(resp.Sources))
	}
}

func TestAnswer_NoChatModel(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/api/answer", answerRequest{Question: "hi"}, nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without a chat model, got %d — body: %s", w.Code, w.Body.String())
	}
}

func TestAnswer_GenerationFailure(t *testing.T) {
	t.Parallel()
	s := newTestServerWith(t, testServerOpts{chat: &stubChat{err: errors.New("model overloaded")}})

	doJSON(t, s, http.MethodPost, "/api/documents", createDocumentRequest{
		Title: "Doc", Content: "Some context.", BotID: "bot-g",
	}, nil)

	w := doJSON(t, s, http.MethodPost, "/api/answer", answerRequest{
		Question: "What?", BotID: "bot-g",
	}, nil)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 on generation failure, got %d — body: %s", w.Code, w.Body.String())
	}
}
