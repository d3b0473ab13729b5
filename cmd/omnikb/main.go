// Command omnikb is the entry point for the OmniKB knowledge-base service.
// It provides a CLI (via Cobra) for document ingestion and one-shot queries,
// plus an HTTP server exposing the knowledge-base API.
package main

import (
	"fmt"
	"os"

	"github.com/NamLeeeWatatek/omnikb-go/cmd/omnikb/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
