package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/sjteam/spoolscan/internal/handlers"
	"github.com/sjteam/spoolscan/internal/storage"
	"github.com/spf13/cobra"
)

func newServeCmd(g *globals) *cobra.Command {
	var port string
	var history int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the scanning kiosk web interface",
		Long: `Starts the spool scanning kiosk on the specified port.

The kiosk scans spool labels with the configured camera or from uploaded
photos, shows the resolved spool, and lets you record usage or delete it.
Sign in with "spoolscan login" first; the kiosk acts as that user.`,
		Example: `  # Start server on default port 8888
  spoolscan serve

  # Replay label photos from a directory instead of a camera
  SPOOLSCAN_CAMERA=replay SPOOLSCAN_REPLAY_DIR=./frames spoolscan serve --port 3000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := g.newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if _, err := a.Auth.RequireSignedIn(); err != nil {
				slog.Warn("Kiosk is not signed in; scans will be rejected until you run spoolscan login")
			}

			go a.Spools.Run(ctx, a.Bus)

			handler := handlers.New(a, storage.New(history))
			mux := http.NewServeMux()
			handler.Routes(mux)

			addr := ":" + port
			server := &http.Server{
				Addr:    addr,
				Handler: mux,
			}

			// Start server in goroutine
			serverErr := make(chan error, 1)
			go func() {
				slog.Info("Spoolscan kiosk available", "addr", addr, "url", "http://localhost"+addr)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serverErr <- err
				}
			}()

			// Wait for context cancellation (Ctrl+C) or server error
			select {
			case <-ctx.Done():
				slog.Info("Shutting down server...")
				// Give server 5 seconds to shut down gracefully
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					slog.Error("Server shutdown failed", "err", err)
					return err
				}
				slog.Info("Server stopped")
				return nil
			case err := <-serverErr:
				return err
			}
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "8888", "Port to listen on")
	cmd.Flags().IntVar(&history, "history", storage.DefaultLimit, "Number of scans to keep in memory")

	return cmd
}
