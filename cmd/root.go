package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/draftforge/manuscript-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "manuscript-cli",
	Short: "Document-to-manuscript pipeline orchestrator",
	Long:  "Extracts relation triples from source documents, vets them for contradictions, drafts a manuscript, and governs numeric precision and tone before saving.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
