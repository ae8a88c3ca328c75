package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/sjteam/spoolscan/internal/app"
	"github.com/sjteam/spoolscan/internal/config"
	"github.com/sjteam/spoolscan/internal/logger"
	"github.com/sjteam/spoolscan/internal/telemetry"
	"github.com/spf13/cobra"
)

// globals holds the settings every subcommand shares.
type globals struct {
	configPath string
	logLevel   string
	logFormat  string
	apiURL     string

	cfg      config.Config
	shutdown telemetry.ShutdownFunc
}

func NewRootCmd(version string) *cobra.Command {
	g := &globals{}

	cmd := &cobra.Command{
		Use:   "spoolscan",
		Short: "Scan filament spool labels and manage the spool inventory",
		Long: `Spoolscan reads the QR label on a filament spool, from a camera or a photo,
and looks the spool up in the inventory service.

From the resolved spool you can record plastic usage or delete the spool.
The serve command runs the same flow as a local kiosk web interface.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Load .env file if present (ignore errors)
			_ = godotenv.Load()
			return g.setup(cmd.Context(), version)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if g.shutdown == nil {
				return nil
			}
			return g.shutdown(context.Background())
		},
	}

	cmd.PersistentFlags().StringVar(&g.configPath, "config", "", "Config file (default "+config.DefaultPath()+")")
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	cmd.PersistentFlags().StringVar(&g.logFormat, "log-format", "", "Log format: text or json")
	cmd.PersistentFlags().StringVar(&g.apiURL, "api-url", "", "Inventory service base URL")

	cmd.AddCommand(newServeCmd(g))
	cmd.AddCommand(newLoginCmd(g))
	cmd.AddCommand(newLogoutCmd(g))
	cmd.AddCommand(newWhoamiCmd(g))
	cmd.AddCommand(newScanCmd(g))
	cmd.AddCommand(newSpoolCmd(g))
	cmd.AddCommand(newExportCmd(g))
	cmd.AddCommand(newInspectCmd())

	return cmd
}

func (g *globals) setup(ctx context.Context, version string) error {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return err
	}
	if g.apiURL != "" {
		cfg.APIURL = g.apiURL
	}
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}
	if g.logFormat != "" {
		cfg.LogFormat = g.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := logger.Setup(os.Stderr, cfg.LogLevel, cfg.LogFormat); err != nil {
		return err
	}

	shutdown, err := telemetry.Setup(ctx, cfg.OTLPEndpoint, version)
	if err != nil {
		return err
	}
	g.cfg = cfg
	g.shutdown = shutdown
	slog.Debug("Configuration loaded", "api_url", cfg.APIURL, "camera", cfg.Camera.Device)
	return nil
}

// newApp builds the pipeline for commands that talk to the inventory.
func (g *globals) newApp(ctx context.Context, opts ...app.Option) (*app.App, error) {
	a, err := app.New(ctx, g.cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to start: %w", err)
	}
	return a, nil
}
