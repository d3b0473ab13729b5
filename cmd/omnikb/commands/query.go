package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/NamLeeeWatatek/omnikb-go/internal/knowledge"
	"github.com/NamLeeeWatatek/omnikb-go/internal/logging"
)

// NewQueryCmd constructs the `omnikb query` command: a one-shot semantic
// search over a bot's documents, printed to stdout.
func NewQueryCmd() *cobra.Command {
	var botID string
	var limit int

	cmd := &cobra.Command{
		Use:   "query [text]",
		Short: "Search the knowledge base",
		Long: `Run a semantic search over a bot's documents and print the top passages.

Examples:
  omnikb query "what is the refund window?"
  omnikb query --bot support-bot --limit 3 "shipping times"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			emb := buildEmbedder(log)

			index, closeIndex, err := buildIndex(ctx, log)
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}
			defer closeIndex()

			answerer, err := knowledge.NewAnswerer(emb, index, nil, log)
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}

			hits, err := answerer.Query(ctx, args[0], botID, limit)
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}

			if len(hits) == 0 {
				fmt.Println("No matching documents.")
				return nil
			}
			for i, h := range hits {
				title, _ := h.Payload["title"].(string)
				fmt.Printf("%d. [%.3f] %s\n   %s\n", i+1, h.Score, title, h.Content)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&botID, "bot", "b", "", "Bot (tenant) to search; empty searches the default tenant")
	cmd.Flags().IntVarP(&limit, "limit", "l", 5, "Maximum number of passages to return")

	return cmd
}
