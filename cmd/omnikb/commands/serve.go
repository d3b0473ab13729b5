package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/model"
	"github.com/spf13/cobra"

	"github.com/NamLeeeWatatek/omnikb-go/internal/embedder"
	"github.com/NamLeeeWatatek/omnikb-go/internal/knowledge"
	"github.com/NamLeeeWatatek/omnikb-go/internal/logging"
	"github.com/NamLeeeWatatek/omnikb-go/internal/provider"
	"github.com/NamLeeeWatatek/omnikb-go/internal/rag"
	"github.com/NamLeeeWatatek/omnikb-go/internal/server"
	"github.com/NamLeeeWatatek/omnikb-go/internal/tracing"
)

// NewServeCmd constructs the `omnikb serve` command, which starts the HTTP
// server exposing the knowledge-base API.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the OmniKB HTTP server",
		Long: `Start the OmniKB HTTP server on localhost.

The server exposes a REST API for document management (create, update,
delete, batch and file ingestion), tenant-scoped vector search, and
retrieval-augmented answering.

Examples:
  omnikb serve
  omnikb serve --port 9090
  MODEL_PROVIDER=gemini QDRANT_HOST=localhost omnikb serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			log.Info("serve starting", slog.String("provider", os.Getenv("MODEL_PROVIDER")))

			// Setup Langfuse tracing — opt-in, no-op if keys are absent.
			handler, flush, ok := tracing.Setup()
			if ok {
				callbacks.AppendGlobalHandlers(handler)
				defer flush()
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
			}

			if err := embedder.ValidateForRAG(log); err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			store, err := openStore(log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer func() { _ = store.Close() }()

			emb := buildEmbedder(log)

			index, closeIndex, err := buildIndex(ctx, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer closeIndex()

			// The chat model is optional: without one the server still ingests
			// and searches, and /api/answer returns 503.
			var chatModel model.ToolCallingChatModel
			if cm, cmErr := provider.NewFromEnv(ctx); cmErr != nil {
				log.Warn("chat model unavailable — /api/answer is disabled", slog.Any("error", cmErr))
			} else {
				chatModel = cm
			}

			svc, err := knowledge.NewService(store, emb, index, log, knowledge.Config{})
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			answerer, err := knowledge.NewAnswerer(emb, index, chatModel, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			pingers := []server.Pinger{server.NewStorePinger(store)}
			if qidx, isQdrant := index.(*rag.QdrantIndex); isQdrant {
				pingers = append(pingers, server.NewQdrantPinger(qidx))
			}

			srv, err := server.New(svc, answerer, &server.Config{
				Host:    host,
				Port:    port,
				Logger:  log,
				Pingers: pingers,
				APIKey:  os.Getenv("OMNIKB_API_KEY"),
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", getEnvOrDefault("OMNIKB_HOST", "127.0.0.1"), "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", getEnvInt("OMNIKB_PORT", 8080), "TCP port to listen on")

	return cmd
}
