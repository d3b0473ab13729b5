package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/NamLeeeWatatek/omnikb-go/internal/docstore"
	"github.com/NamLeeeWatatek/omnikb-go/internal/knowledge"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [slog.Default] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// Registry receives the server's Prometheus metrics. If nil a private
	// registry is created; /metrics always serves the registry in use.
	Registry *prometheus.Registry
	// MaxUploadBytes caps the accepted size of document uploads.
	// Defaults to 8 MiB if zero.
	MaxUploadBytes int64
}

// Server is the HTTP server exposing the knowledge-base API.
type Server struct {
	// svc is the ingestion orchestrator handling all document writes.
	svc *knowledge.Service
	// answerer runs retrieval and retrieval-augmented answering.
	answerer *knowledge.Answerer
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus instruments owned by this server.
	metrics *serverMetrics
	// registry is the Prometheus registry served by GET /metrics.
	registry *prometheus.Registry
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// createDocumentRequest is the JSON body for POST /api/documents and the
// element type of batch ingestion.
type createDocumentRequest struct {
	// Title is the required document label.
	Title string `json:"title"`
	// Content is the required document body.
	Content string `json:"content"`
	// Source is an optional provenance tag.
	Source string `json:"source,omitempty"`
	// BotID scopes the document to one tenant.
	BotID string `json:"botId,omitempty"`
	// Metadata is an open key/value bag stored with the document.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// updateDocumentRequest is the JSON body for PATCH /api/documents/{id}.
// Absent fields are left unchanged.
type updateDocumentRequest struct {
	Title    *string        `json:"title,omitempty"`
	Content  *string        `json:"content,omitempty"`
	Source   *string        `json:"source,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// batchRequest is the JSON body for POST /api/documents/batch.
type batchRequest struct {
	Documents []createDocumentRequest `json:"documents"`
}

// documentResponse is the JSON representation of a stored document.
type documentResponse struct {
	ID              string         `json:"id"`
	Title           string         `json:"title"`
	Content         string         `json:"content"`
	Source          string         `json:"source"`
	BotID           string         `json:"botId,omitempty"`
	EmbeddingStatus string         `json:"embeddingStatus"`
	EmbeddingError  string         `json:"embeddingError,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// toDocumentResponse converts a stored document to its wire form.
func toDocumentResponse(d docstore.Document) documentResponse {
	return documentResponse{
		ID:              d.ID,
		Title:           d.Title,
		Content:         d.Content,
		Source:          d.Source,
		BotID:           d.BotID,
		EmbeddingStatus: string(d.EmbeddingStatus),
		EmbeddingError:  d.EmbeddingError,
		Metadata:        d.Metadata,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

// countResponse is the JSON body for GET /api/documents/count.
type countResponse struct {
	Count int64 `json:"count"`
}

// queryRequest is the JSON body for POST /api/query.
type queryRequest struct {
	// Query is the natural-language search text.
	Query string `json:"query"`
	// BotID scopes the search to one tenant; empty means the default tenant.
	BotID string `json:"botId,omitempty"`
	// Limit caps the number of results (default 5).
	Limit int `json:"limit,omitempty"`
}

// queryHit is one retrieval result in a queryResponse.
type queryHit struct {
	ID      string         `json:"id"`
	Content string         `json:"content"`
	Score   float32        `json:"score"`
	Payload map[string]any `json:"payload,omitempty"`
}

// queryResponse is the JSON body returned by POST /api/query.
type queryResponse struct {
	Results []queryHit `json:"results"`
}

// answerRequest is the JSON body for POST /api/answer.
type answerRequest struct {
	// Question is the natural-language question to answer.
	Question string `json:"question"`
	// BotID scopes retrieval to one tenant; empty means the default tenant.
	BotID string `json:"botId,omitempty"`
}

// answerSource is one grounding passage in an answerResponse.
type answerSource struct {
	ID    string  `json:"id"`
	Title string  `json:"title,omitempty"`
	Score float32 `json:"score"`
}

// answerResponse is the JSON body returned by POST /api/answer.
type answerResponse struct {
	Answer  string         `json:"answer"`
	Sources []answerSource `json:"sources"`
}

// uploadResponse is the JSON body returned by POST /api/documents/upload.
type uploadResponse struct {
	// Chunks is the number of paragraph chunks ingested from the file.
	Chunks int `json:"chunks"`
	// Documents lists the stored chunk documents with their statuses.
	Documents []documentResponse `json:"documents"`
}

// errorResponse is the JSON error envelope used by every handler.
type errorResponse struct {
	Error string `json:"error"`
}
