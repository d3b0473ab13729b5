// Package commands defines all Cobra CLI commands for the omnikb binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/NamLeeeWatatek/omnikb-go/internal/audit"
	"github.com/NamLeeeWatatek/omnikb-go/internal/config"
	"github.com/NamLeeeWatatek/omnikb-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "omnikb",
		Short: "OmniKB — multi-tenant knowledge base with retrieval-augmented answering",
		Long: `OmniKB stores chatbot knowledge documents, embeds them into a Qdrant
vector index, and answers questions grounded on the retrieved passages.

Documents live in a local SQLite database (the record of truth); the vector
index is derived from it and rebuildable. Each document belongs to a bot
(tenant) and search never crosses tenant boundaries.

Model and embedding providers are selected via the MODEL_PROVIDER environment
variable or a YAML config file (~/.omnikb/config.yaml).
See 'omnikb --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.omnikb/config.yaml)")

	root.AddCommand(
		NewServeCmd(),
		NewIngestCmd(),
		NewQueryCmd(),
		NewAskCmd(),
		NewVersionCmd(),
	)

	return root
}
