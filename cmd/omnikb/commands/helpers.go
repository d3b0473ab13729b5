package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/NamLeeeWatatek/omnikb-go/internal/docstore"
	"github.com/NamLeeeWatatek/omnikb-go/internal/embedder"
	"github.com/NamLeeeWatatek/omnikb-go/internal/rag"
)

// getEnvOrDefault returns the value of the environment variable or the
// fallback when unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the environment variable or the
// fallback when unset or not parseable.
func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// openStore opens the relational document store. OMNIKB_DB overrides the
// default path (~/.omnikb/documents.db).
func openStore(log *slog.Logger) (*docstore.Store, error) {
	dbPath := os.Getenv("OMNIKB_DB")
	if dbPath == "" {
		var err error
		dbPath, err = docstore.DefaultDBPath()
		if err != nil {
			return nil, err
		}
	}
	store, err := docstore.Open(dbPath)
	if err != nil {
		return nil, err
	}
	log.Info("document store opened", slog.String("path", dbPath))
	return store, nil
}

// buildEmbedder constructs the embedding client from the environment. When no
// provider is usable the returned embedder fails every call with
// rag.ErrProviderUnavailable so document management keeps working.
func buildEmbedder(log *slog.Logger) rag.Embedder {
	emb, err := embedder.NewFromEnv()
	if err != nil {
		log.Warn("embedder unavailable — documents will be stored without vectors",
			slog.Any("error", err),
		)
		return embedder.NewUnavailable(err.Error())
	}
	log.Info("embedder initialised", slog.String("provider", embedder.ResolveBackend()))
	return emb
}

// buildIndex connects to the Qdrant vector index when QDRANT_HOST is set.
// Without it a disabled index is returned: writes fail softly and search
// returns no results.
func buildIndex(ctx context.Context, log *slog.Logger) (rag.VectorIndex, func(), error) {
	if os.Getenv("QDRANT_HOST") == "" {
		log.Warn("QDRANT_HOST not set — vector search is disabled")
		return rag.NewDisabledIndex(), func() {}, nil
	}

	host := getEnvOrDefault("QDRANT_HOST", "localhost")
	port := getEnvInt("QDRANT_PORT", 6334)
	collection := getEnvOrDefault("QDRANT_COLLECTION", "knowledge-base")
	vectorSize := uint64(embedder.DefaultDimensions(embedder.ResolveBackend())) //nolint:gosec // dimensions are bounded

	idx, err := rag.NewQdrantIndex(ctx, &rag.QdrantConfig{
		Host:       host,
		Port:       port,
		Collection: collection,
		VectorSize: vectorSize,
		APIKey:     os.Getenv("QDRANT_API_KEY"),
		UseTLS:     os.Getenv("QDRANT_TLS") == "true",
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to Qdrant at %s:%d: %w", host, port, err)
	}
	log.Info("qdrant index ready",
		slog.String("host", host),
		slog.Int("port", port),
		slog.String("collection", collection),
	)
	return idx, func() { _ = idx.Close() }, nil
}
