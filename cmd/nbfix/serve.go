package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httpserver "github.com/fyrsmithlabs/nbfix/internal/http"
)

var (
	serveHost string
	servePort int
)

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "listen host (default server.host)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (default server.port)")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the execute and repair HTTP API",
	Long: `Start the HTTP API. Endpoints:

  GET  /health
  GET  /metrics
  POST /api/v1/execute   {"notebook_path": "..."}
  POST /api/v1/repair    {"notebook_path": "...", "max_iterations": 3}
  POST /api/v1/scrub     {"content": "..."}

Requests for a notebook that is already being executed or repaired get 409.
When server.api_token is set, /api/v1 requires "Authorization: Bearer <token>".
The server shuts down gracefully on SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	deps, err := initDependencies(ctx)
	if err != nil {
		return err
	}
	defer deps.Close()

	orch, err := deps.orchestrator(ctx)
	if err != nil {
		return err
	}
	scrubber, err := deps.scrubber()
	if err != nil {
		return fmt.Errorf("failed to create scrubber: %w", err)
	}

	srvCfg := httpserver.ConfigFrom(deps.cfg.Server)
	if serveHost != "" {
		srvCfg.Host = serveHost
	}
	if servePort != 0 {
		srvCfg.Port = servePort
	}
	srv, err := httpserver.NewServer(deps.executor, orch, scrubber, deps.logger.Underlying(), srvCfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	deps.logger.Info(ctx, "starting nbfix server",
		zap.String("version", version),
		zap.String("host", srvCfg.Host),
		zap.Int("port", srvCfg.Port),
		zap.Bool("auth", srvCfg.APIToken.Value() != ""),
		zap.Bool("telemetry_degraded", deps.telemetry.Degraded()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), deps.cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	deps.logger.Info(ctx, "server stopped")
	return nil
}
