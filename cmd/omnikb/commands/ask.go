package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/NamLeeeWatatek/omnikb-go/internal/knowledge"
	"github.com/NamLeeeWatatek/omnikb-go/internal/logging"
	"github.com/NamLeeeWatatek/omnikb-go/internal/provider"
)

// NewAskCmd constructs the `omnikb ask` command, which answers a single
// question grounded on the bot's knowledge base.
func NewAskCmd() *cobra.Command {
	var botID string

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question against the knowledge base",
		Long: `Retrieve the most relevant passages for a question and generate an answer
grounded on them. When the knowledge base holds nothing relevant the fixed
insufficient-context reply is printed instead of calling the model.

Examples:
  omnikb ask "what is the refund window?"
  omnikb ask --bot support-bot "do you ship internationally?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			chatModel, err := provider.NewFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("ask: failed to initialise model provider: %w", err)
			}

			emb := buildEmbedder(log)

			index, closeIndex, err := buildIndex(ctx, log)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer closeIndex()

			answerer, err := knowledge.NewAnswerer(emb, index, chatModel, log)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			ans, err := answerer.Generate(ctx, args[0], botID)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			fmt.Println(ans.Text)
			if len(ans.Sources) > 0 {
				fmt.Println("\nSources:")
				for i, src := range ans.Sources {
					fmt.Printf("  %d. %s (%.3f)\n", i+1, src.Title, src.Score)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&botID, "bot", "b", "", "Bot (tenant) to answer from; empty uses the default tenant")

	return cmd
}
