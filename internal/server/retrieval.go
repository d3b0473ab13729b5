package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/NamLeeeWatatek/omnikb-go/internal/docstore"
	"github.com/NamLeeeWatatek/omnikb-go/internal/knowledge"
	"github.com/NamLeeeWatatek/omnikb-go/internal/logging"
	"github.com/NamLeeeWatatek/omnikb-go/internal/rag"
)

// handleQuery handles POST /api/query: semantic search over a tenant's
// documents, returning raw hits without generation.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	start := time.Now()
	hits, err := s.answerer.Query(r.Context(), req.Query, req.BotID, req.Limit)
	if err != nil {
		s.metrics.queryTotal.WithLabelValues("error").Inc()
		s.writeRetrievalError(w, r, err)
		return
	}
	s.metrics.queryTotal.WithLabelValues("ok").Inc()
	s.metrics.queryDuration.Observe(time.Since(start).Seconds())

	resp := queryResponse{Results: make([]queryHit, len(hits))}
	for i, h := range hits {
		resp.Results[i] = queryHit{
			ID:      h.ID,
			Content: h.Content,
			Score:   h.Score,
			Payload: h.Payload,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleAnswer handles POST /api/answer: retrieval-grounded generation.
func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	start := time.Now()
	ans, err := s.answerer.Generate(r.Context(), req.Question, req.BotID)
	if err != nil {
		s.metrics.answerTotal.WithLabelValues("error").Inc()
		s.writeRetrievalError(w, r, err)
		return
	}
	s.metrics.answerTotal.WithLabelValues("ok").Inc()
	s.metrics.answerDuration.Observe(time.Since(start).Seconds())

	resp := answerResponse{Answer: ans.Text, Sources: make([]answerSource, len(ans.Sources))}
	for i, src := range ans.Sources {
		resp.Sources[i] = answerSource{ID: src.ID, Title: src.Title, Score: src.Score}
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeRetrievalError maps retrieval and generation failures to HTTP
// statuses: bad input is the caller's fault, an unreachable provider or
// index is a 503, a mid-generation model failure is a 502.
func (s *Server) writeRetrievalError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, docstore.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, rag.ErrProviderUnavailable), errors.Is(err, rag.ErrIndexUnavailable):
		writeError(w, http.StatusServiceUnavailable, "retrieval backend unavailable")
	case errors.Is(err, knowledge.ErrAnswerGeneration):
		writeError(w, http.StatusBadGateway, "answer generation failed")
	default:
		logging.FromContext(r.Context()).Error("server: retrieval error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
