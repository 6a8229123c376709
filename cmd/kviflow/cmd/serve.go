package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kviflow/kviflow/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the kviflow HTTP server.

The server exposes a REST API for driving interview sessions, including
an SSE streaming endpoint for incremental responses.

Examples:
  # Start with defaults (localhost:8080)
  kviflow serve

  # Start on custom host and port
  kviflow serve --host 0.0.0.0 --port 3000

  # Disable CORS (for production behind a reverse proxy)
  kviflow serve --no-cors`,
	RunE: runServe,
}

var (
	serveHost   string
	servePort   int
	serveNoCORS bool
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "",
		"Host address to bind to")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0,
		"Port to listen on")
	serveCmd.Flags().BoolVar(&serveNoCORS, "no-cors", false,
		"Disable CORS headers")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("host") {
		cfg.Server.Host = serveHost
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = servePort
	}
	if serveNoCORS {
		cfg.Server.EnableCORS = false
	}

	logger := newLogger(cfg)

	deps, err := buildPipeline(cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	srv := api.NewServer(deps.orch, deps.sessions, cfg.Server, api.WithLogger(logger))

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.ListenAndServe(ctx, cfg.Server.Addr()); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
