package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sjteam/spoolscan/internal/app"
	"github.com/sjteam/spoolscan/internal/inventory"
	"github.com/spf13/cobra"
)

func newSpoolCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "spool",
		Short: "Show, delete or record usage for a spool by id",
	}

	cmd.AddCommand(newSpoolListCmd(g))
	cmd.AddCommand(newSpoolShowCmd(g))
	cmd.AddCommand(newSpoolDeleteCmd(g))
	cmd.AddCommand(newSpoolUseCmd(g))
	cmd.AddCommand(newSpoolQRCmd(g))

	return cmd
}

// withApp runs fn with a signed-in app.
func (g *globals) withApp(cmd *cobra.Command, fn func(a *app.App) error) error {
	a, err := g.newApp(cmd.Context(), app.WithDevice(nil))
	if err != nil {
		return err
	}
	defer a.Close()
	if _, err := a.Auth.RequireSignedIn(); err != nil {
		return err
	}
	return fn(a)
}

func parseSpoolID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid spool id %q", arg)
	}
	return id, nil
}

func newSpoolListCmd(g *globals) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List every spool visible to you",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withApp(cmd, func(a *app.App) error {
				if err := a.Spools.Refresh(cmd.Context()); err != nil {
					return err
				}
				return writeOutput(cmd.OutOrStdout(), output, a.Spools.Snapshot().Spools)
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "yaml", "Output format: yaml or json")
	return cmd
}

func newSpoolShowCmd(g *globals) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "show ID",
		Short: "Show one spool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseSpoolID(args[0])
			if err != nil {
				return err
			}
			return g.withApp(cmd, func(a *app.App) error {
				snap, err := a.ShowSpool(cmd.Context(), id)
				if err != nil {
					return err
				}
				return writeOutput(cmd.OutOrStdout(), output, snap.Spool)
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "yaml", "Output format: yaml or json")
	return cmd
}

func newSpoolDeleteCmd(g *globals) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a spool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseSpoolID(args[0])
			if err != nil {
				return err
			}
			if !yes {
				fmt.Fprintf(cmd.ErrOrStderr(), "Delete spool %d? [y/N] ", id)
				line, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if answer := strings.ToLower(strings.TrimSpace(line)); answer != "y" && answer != "yes" {
					return errors.New("aborted")
				}
			}
			return g.withApp(cmd, func(a *app.App) error {
				if _, err := a.DeleteSpool(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted spool %d\n", id)
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}

func newSpoolUseCmd(g *globals) *cobra.Command {
	var form inventory.UsageForm
	var output string

	cmd := &cobra.Command{
		Use:   "use ID",
		Short: "Record plastic used from a spool",
		Args:  cobra.ExactArgs(1),
		Example: `  spoolscan spool use 42 --amount 37.5 --purpose "bracket" --project printer-upgrade`,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseSpoolID(args[0])
			if err != nil {
				return err
			}
			if _, err := inventory.ValidateAmount(form.Amount); err != nil {
				return err
			}
			return g.withApp(cmd, func(a *app.App) error {
				snap, err := a.RecordUsage(cmd.Context(), id, form)
				if err != nil {
					if snap.UsageError != "" {
						return errors.New(snap.UsageError)
					}
					return err
				}
				return writeOutput(cmd.OutOrStdout(), output, snap.Spool)
			})
		},
	}
	cmd.Flags().StringVar(&form.Amount, "amount", "", "Grams used (required)")
	cmd.Flags().StringVar(&form.Purpose, "purpose", "", "What the plastic was used for")
	cmd.Flags().StringVar(&form.Project, "project", "", "Project id or name; a new name creates the project")
	cmd.Flags().StringVarP(&output, "output", "o", "yaml", "Output format: yaml or json")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func newSpoolQRCmd(g *globals) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "qr ID",
		Short: "Download a spool's QR label as PNG",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseSpoolID(args[0])
			if err != nil {
				return err
			}
			if out == "" {
				out = fmt.Sprintf("spool_%d.png", id)
			}
			return g.withApp(cmd, func(a *app.App) error {
				png, err := a.API.DownloadQR(cmd.Context(), id)
				if err != nil {
					return fmt.Errorf("failed to download label: %w", err)
				}
				if err := os.WriteFile(out, png, 0644); err != nil {
					return fmt.Errorf("failed to write label: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Saved %s\n", out)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "Output file (default spool_ID.png)")
	return cmd
}
