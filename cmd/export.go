package cmd

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/sjteam/spoolscan/internal/app"
	"github.com/sjteam/spoolscan/internal/export"
	"github.com/sjteam/spoolscan/internal/models"
	"github.com/spf13/cobra"
)

func newExportCmd(g *globals) *cobra.Command {
	var spoolsPath, usagesPath string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Save the spool and usage lists to Parquet or JSONL files",
		Long: `Downloads every spool and usage visible to you and writes them to disk.

The file extension picks the format: .parquet or .jsonl.`,
		Example: `  spoolscan export --spools spools.parquet --usages usages.parquet
  spoolscan export --spools spools.jsonl`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if spoolsPath == "" && usagesPath == "" {
				return errors.New("at least one of --spools or --usages is required")
			}
			for _, p := range []string{spoolsPath, usagesPath} {
				if p == "" {
					continue
				}
				if _, err := export.FormatOf(p); err != nil {
					return err
				}
			}

			return g.withApp(cmd, func(a *app.App) error {
				ctx := cmd.Context()
				if spoolsPath != "" {
					spools, err := a.API.ListSpools(ctx)
					if err != nil {
						return fmt.Errorf("failed to list spools: %w", err)
					}
					if err := export.Write(spoolsPath, spools); err != nil {
						return err
					}
					slog.Info("Exported spools", "path", spoolsPath, "count", len(spools))
				}
				if usagesPath != "" {
					usages, err := a.API.ListUsages(ctx)
					if err != nil {
						return fmt.Errorf("failed to list usages: %w", err)
					}
					if err := export.Write(usagesPath, usages); err != nil {
						return err
					}
					slog.Info("Exported usages", "path", usagesPath, "count", len(usages))
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&spoolsPath, "spools", "", "Write spools to this file")
	cmd.Flags().StringVar(&usagesPath, "usages", "", "Write usages to this file")

	return cmd
}

func newInspectCmd() *cobra.Command {
	var kind string
	var limit int
	var output string

	cmd := &cobra.Command{
		Use:   "inspect FILE",
		Short: "Print records from an exported Parquet or JSONL file",
		Args:  cobra.ExactArgs(1),
		Example: `  # Show the first 5 spools of an export
  spoolscan inspect spools.parquet --limit 5

  # Show every usage
  spoolscan inspect usages.jsonl --kind usages --limit 0`,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch kind {
			case "spools":
				rows, err := export.Load[models.Spool](args[0])
				if err != nil {
					return err
				}
				return writeOutput(cmd.OutOrStdout(), output, head(rows, limit))
			case "usages":
				rows, err := export.Load[models.Usage](args[0])
				if err != nil {
					return err
				}
				return writeOutput(cmd.OutOrStdout(), output, head(rows, limit))
			default:
				return fmt.Errorf("unknown kind %q (want spools or usages)", kind)
			}
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "spools", "Record kind: spools or usages")
	cmd.Flags().IntVar(&limit, "limit", 10, "Number of records to print (0 for all)")
	cmd.Flags().StringVarP(&output, "output", "o", "yaml", "Output format: yaml or json")

	return cmd
}

func head[T any](rows []T, limit int) []T {
	if limit > 0 && len(rows) > limit {
		return rows[:limit]
	}
	return rows
}
