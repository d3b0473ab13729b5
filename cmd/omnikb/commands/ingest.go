package commands

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/NamLeeeWatatek/omnikb-go/internal/docstore"
	"github.com/NamLeeeWatatek/omnikb-go/internal/embedder"
	"github.com/NamLeeeWatatek/omnikb-go/internal/knowledge"
	"github.com/NamLeeeWatatek/omnikb-go/internal/logging"
)

// NewIngestCmd constructs the `omnikb ingest` command, which adds documents
// to the knowledge base from files or inline text.
func NewIngestCmd() *cobra.Command {
	var title string
	var content string
	var botID string
	var source string
	var files []string

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest documents into the knowledge base",
		Long: `Store documents in the knowledge base and embed them into the vector index.

Files are split on blank lines; each paragraph becomes its own document so
retrieval returns focused passages. Inline ingestion (--title/--content)
stores exactly one document.

Embedding failures do not abort ingestion: affected documents are stored
with embedding status "failed" and can be retried by updating them.

Required environment variables for vector indexing:
  QDRANT_HOST          Qdrant server hostname
  QDRANT_PORT          Qdrant gRPC port (default: 6334)
  QDRANT_COLLECTION    Collection name (default: knowledge-base)
  MODEL_PROVIDER       Embedding backend: gemini, ollama, openai, azure (default: gemini)
  EMBEDDING_*          Provider-specific overrides (see README)

Examples:
  omnikb ingest --file ./docs/handbook.txt --bot support-bot
  omnikb ingest --title "Refund policy" --content "Refunds are issued within 14 days." --bot support-bot`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			if len(files) == 0 && content == "" {
				return fmt.Errorf("ingest: provide --file or --title/--content")
			}
			if content != "" && title == "" {
				return fmt.Errorf("ingest: --content requires --title")
			}

			if err := embedder.ValidateForRAG(log); err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			store, err := openStore(log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer func() { _ = store.Close() }()

			emb := buildEmbedder(log)

			index, closeIndex, err := buildIndex(ctx, log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer closeIndex()

			svc, err := knowledge.NewService(store, emb, index, log, knowledge.Config{})
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			var stored []docstore.Document

			if content != "" {
				doc, err := svc.AddDocument(ctx, docstore.Document{
					Title:   title,
					Content: content,
					Source:  source,
					BotID:   botID,
				})
				if err != nil {
					return fmt.Errorf("ingest: %w", err)
				}
				stored = append(stored, doc)
			}

			for _, f := range files {
				data, err := os.ReadFile(f)
				if err != nil {
					return fmt.Errorf("ingest: read %s: %w", f, err)
				}
				fileTitle := title
				if fileTitle == "" {
					fileTitle = filepath.Base(f)
				}
				docs, err := svc.ChunkAndIngest(ctx, fileTitle, string(data), f, botID, nil)
				if err != nil {
					return fmt.Errorf("ingest: %s: %w", f, err)
				}
				stored = append(stored, docs...)
			}

			failed := 0
			for _, d := range stored {
				if d.EmbeddingStatus != docstore.StatusCompleted {
					failed++
					log.Warn("document stored without embedding",
						slog.String("id", d.ID),
						slog.String("title", d.Title),
						slog.String("error", d.EmbeddingError),
					)
				}
			}

			log.Info("ingestion complete",
				slog.Int("documents", len(stored)),
				slog.Int("failed_embeddings", failed),
			)
			fmt.Printf("Ingested %d document(s), %d with failed embeddings.\n", len(stored), failed)
			return nil
		},
	}

	cmd.Flags().StringVarP(&title, "title", "t", "", "Document title (defaults to the file name for --file)")
	cmd.Flags().StringVarP(&content, "content", "c", "", "Inline document content")
	cmd.Flags().StringVarP(&botID, "bot", "b", "", "Bot (tenant) the documents belong to")
	cmd.Flags().StringVarP(&source, "source", "s", "", "Provenance tag stored with the document")
	cmd.Flags().StringArrayVarP(&files, "file", "f", nil, "Text file to ingest, split on blank lines (repeatable)")

	return cmd
}
