package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/mwhitford/cabinet/internal/config"
	"github.com/mwhitford/cabinet/internal/home"
	"github.com/mwhitford/cabinet/internal/server"
)

var (
	serveHost string
	servePort string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Cabinet server",
	Long: `Start the Cabinet HTTP server.

The server opens the record database under the cabinet home directory and
serves the intake and record APIs. Shutting down (Ctrl+C or SIGTERM)
closes the database cleanly.

Examples:
  cabinet serve                    # Start on default port 8080
  cabinet serve --port 3000        # Start on custom port
  cabinet serve --host 0.0.0.0     # Bind to all interfaces`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))

		h, err := home.New(homeDir)
		if err != nil {
			return err
		}
		if err := h.EnsureExists(); err != nil {
			return err
		}

		// --config wins; otherwise the manager searches . and the
		// home directory.
		cfgPath := cfgFile
		if cfgPath == "" && h.ConfigExists() {
			cfgPath = h.ConfigPath()
		}
		mgr, err := config.NewManager(cfgPath)
		if err != nil {
			return err
		}

		srv, err := server.New(server.Config{
			Host:          serveHost,
			Port:          servePort,
			Home:          h,
			ConfigManager: mgr,
			Logger:        logger,
		})
		if err != nil {
			return err
		}

		// Start server (blocks until shutdown)
		return srv.Start(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "127.0.0.1", "Host to bind to")
	serveCmd.Flags().StringVar(&servePort, "port", "8080", "Port to listen on")

	rootCmd.AddCommand(serveCmd)
}
