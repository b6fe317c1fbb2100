package main

import (
	"github.com/spf13/cobra"

	"github.com/mwhitford/cabinet/internal/server/endpoints"
)

var serverURL string

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Commands that call the running server",
	Long: `API commands call the running Cabinet server via HTTP.

These commands require a running server (cabinet serve).
Use --server to specify a custom server URL.

Examples:
  cabinet api health                   # Check server health
  cabinet api intake upload file.pdf   # Start a document intake
  cabinet api records list             # List saved records`,
}

var intakeCmd = &cobra.Command{
	Use:   "intake",
	Short: "Document intake commands",
}

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Record management commands",
}

// getServerURL returns the server URL at runtime (after flag parsing).
func getServerURL() string {
	return serverURL
}

func init() {
	// Add --server flag to api command (persistent so all subcommands inherit it)
	apiCmd.PersistentFlags().StringVar(
		&serverURL, "server", "http://localhost:8080", "Server URL",
	)

	// Health endpoints at top level of api
	apiCmd.AddCommand((&endpoints.HealthEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.StatusEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.SettingsEndpoint{}).Command(getServerURL))

	// Intake as subcommand group
	intakeCmd.AddCommand((&endpoints.UploadIntakeEndpoint{}).Command(getServerURL))
	intakeCmd.AddCommand((&endpoints.IntakeStatusEndpoint{}).Command(getServerURL))
	intakeCmd.AddCommand((&endpoints.IntakeSkipEndpoint{}).Command(getServerURL))
	intakeCmd.AddCommand((&endpoints.IntakeReviewEndpoint{}).Command(getServerURL))
	intakeCmd.AddCommand((&endpoints.IntakeFieldsEndpoint{}).Command(getServerURL))
	intakeCmd.AddCommand((&endpoints.IntakeConfirmEndpoint{}).Command(getServerURL))
	intakeCmd.AddCommand((&endpoints.IntakeSaveEndpoint{}).Command(getServerURL))
	intakeCmd.AddCommand((&endpoints.IntakeResetEndpoint{}).Command(getServerURL))

	// Records as subcommand group
	recordsCmd.AddCommand((&endpoints.ListRecordsEndpoint{}).Command(getServerURL))
	recordsCmd.AddCommand((&endpoints.GetRecordEndpoint{}).Command(getServerURL))
	recordsCmd.AddCommand((&endpoints.DeleteRecordEndpoint{}).Command(getServerURL))

	apiCmd.AddCommand(intakeCmd)
	apiCmd.AddCommand(recordsCmd)
	rootCmd.AddCommand(apiCmd)
}
