package main

import (
	"github.com/spf13/cobra"

	"github.com/mwhitford/cabinet/internal/api"
	"github.com/mwhitford/cabinet/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "cabinet",
	Short: "Personal document intake and record keeping",
	Long: `Cabinet turns scanned documents and photos into structured, searchable
records. Uploaded files run through a staged intake pipeline:

  - Recognition and classification of the document type
  - Field extraction with per-field confidence scoring
  - Expiration date detection for renewable documents
  - Human review with grouped, bucketed fields before saving`,
	Version: version.GitRelease,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.cabinet/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "cabinet home directory (default: ~/.cabinet)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)

	// Set output format before any command runs
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		api.SetOutputFormat(outputFormat)
	}

	rootCmd.AddCommand(versionCmd)
}
