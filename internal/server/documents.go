package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"

	"github.com/NamLeeeWatatek/omnikb-go/internal/docstore"
	"github.com/NamLeeeWatatek/omnikb-go/internal/logging"
)

// handleCreateDocument handles POST /api/documents. The document is stored
// and embedded synchronously; the response carries the final embedding
// status, which may be "failed" while the HTTP call still succeeds — the
// relational row is the source of truth.
func (s *Server) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	var req createDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	doc, err := s.svc.AddDocument(r.Context(), docstore.Document{
		Title:    req.Title,
		Content:  req.Content,
		Source:   req.Source,
		BotID:    req.BotID,
		Metadata: req.Metadata,
	})
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}

	s.metrics.ingestTotal.WithLabelValues(outcomeOf(doc)).Inc()
	writeJSON(w, http.StatusCreated, toDocumentResponse(doc))
}

// handleBatchCreate handles POST /api/documents/batch. The batch is embedded
// in a single call; an embedding failure marks every row failed while the
// request still succeeds.
func (s *Server) handleBatchCreate(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Documents) == 0 {
		writeError(w, http.StatusBadRequest, "documents must not be empty")
		return
	}

	docs := make([]docstore.Document, len(req.Documents))
	for i, d := range req.Documents {
		docs[i] = docstore.Document{
			Title:    d.Title,
			Content:  d.Content,
			Source:   d.Source,
			BotID:    d.BotID,
			Metadata: d.Metadata,
		}
	}

	stored, err := s.svc.AddDocuments(r.Context(), docs)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}

	resp := make([]documentResponse, len(stored))
	for i, d := range stored {
		s.metrics.ingestTotal.WithLabelValues(outcomeOf(d)).Inc()
		resp[i] = toDocumentResponse(d)
	}
	writeJSON(w, http.StatusCreated, resp)
}

// handleUpload handles POST /api/documents/upload: a multipart form with a
// "file" part and optional "botId" and "title" fields. The file text is
// split on blank lines and each paragraph becomes its own document.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file part is required")
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read file")
		return
	}

	title := r.FormValue("title")
	if title == "" {
		title = filepath.Base(header.Filename)
	}

	meta := map[string]any{"filename": header.Filename}
	if ct := header.Header.Get("Content-Type"); ct != "" {
		meta["mimeType"] = ct
	}

	docs, err := s.svc.ChunkAndIngest(r.Context(),
		title, string(content), header.Filename, r.FormValue("botId"), meta)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}

	resp := uploadResponse{Chunks: len(docs), Documents: make([]documentResponse, len(docs))}
	for i, d := range docs {
		s.metrics.ingestTotal.WithLabelValues(outcomeOf(d)).Inc()
		resp.Documents[i] = toDocumentResponse(d)
	}
	writeJSON(w, http.StatusCreated, resp)
}

// handleListDocuments handles GET /api/documents. An optional botId query
// parameter narrows the listing to one tenant.
func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.svc.ListDocuments(r.Context(), docstore.Filter{BotID: r.URL.Query().Get("botId")})
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}

	resp := make([]documentResponse, len(docs))
	for i, d := range docs {
		resp[i] = toDocumentResponse(d)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCountDocuments handles GET /api/documents/count.
func (s *Server) handleCountDocuments(w http.ResponseWriter, r *http.Request) {
	n, err := s.svc.CountDocuments(r.Context(), docstore.Filter{BotID: r.URL.Query().Get("botId")})
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, countResponse{Count: n})
}

// handleGetDocument handles GET /api/documents/{id}.
func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.svc.GetDocument(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDocumentResponse(doc))
}

// handleUpdateDocument handles PATCH /api/documents/{id}. A content change
// triggers a synchronous re-embed; the response reflects the new status.
func (s *Server) handleUpdateDocument(w http.ResponseWriter, r *http.Request) {
	var req updateDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	doc, err := s.svc.UpdateDocument(r.Context(), r.PathValue("id"), docstore.Patch{
		Title:    req.Title,
		Content:  req.Content,
		Source:   req.Source,
		Metadata: req.Metadata,
	})
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDocumentResponse(doc))
}

// handleDeleteDocument handles DELETE /api/documents/{id}. Deleting an
// unknown id succeeds: the desired end state already holds.
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteDocument(r.Context(), r.PathValue("id")); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDeleteTenant handles DELETE /api/bots/{botId}/documents, removing
// every document owned by the tenant.
func (s *Server) handleDeleteTenant(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteAllForTenant(r.Context(), r.PathValue("botId")); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeStoreError maps storage-layer sentinels to HTTP statuses.
func (s *Server) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, docstore.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, docstore.ErrNotFound):
		writeError(w, http.StatusNotFound, "document not found")
	default:
		logging.FromContext(r.Context()).Error("server: storage error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// outcomeOf maps a document's final embedding status to a metric label.
func outcomeOf(d docstore.Document) string {
	if d.EmbeddingStatus == docstore.StatusCompleted {
		return "ok"
	}
	return "failed"
}
