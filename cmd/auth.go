package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/sjteam/spoolscan/internal/app"
	"github.com/sjteam/spoolscan/internal/auth"
	"github.com/spf13/cobra"
)

func newLoginCmd(g *globals) *cobra.Command {
	var username, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to the inventory service",
		Long: `Signs in with a username and password and saves the session token.

The password is read from --password, then SPOOLSCAN_PASSWORD, then the
first line of standard input.`,
		Example: `  spoolscan login -u alice
  echo "$PASS" | spoolscan login -u alice`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv("SPOOLSCAN_PASSWORD")
			}
			if password == "" {
				fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("failed to read password: %w", err)
				}
				password = strings.TrimRight(line, "\r\n")
			}

			a, err := g.newApp(cmd.Context(), app.WithDevice(nil))
			if err != nil {
				return err
			}
			defer a.Close()

			s, err := a.Auth.Login(cmd.Context(), a.API, username, password)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s (%s)\n", s.Username, s.Role)
			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "Username (required)")
	cmd.Flags().StringVar(&password, "password", "", "Password")
	_ = cmd.MarkFlagRequired("username")

	return cmd
}

func newLogoutCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved session",
		RunE: func(cmd *cobra.Command, args []string) error {
			auth.NewContext(auth.NewFileStore(g.cfg.SessionFile)).Logout()
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		},
	}
}

type whoami struct {
	Username  string         `yaml:"username" json:"username"`
	Role      string         `yaml:"role" json:"role"`
	GroupID   *int64         `yaml:"group_id,omitempty" json:"group_id,omitempty"`
	ExpiresAt string         `yaml:"expires_at,omitempty" json:"expires_at,omitempty"`
	Sections  []auth.Section `yaml:"sections" json:"sections"`
}

func newWhoamiCmd(g *globals) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user and what they may access",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := auth.NewContext(auth.NewFileStore(g.cfg.SessionFile)).RequireSignedIn()
			if err != nil {
				return err
			}

			out := whoami{Username: s.Username, Role: s.Role, GroupID: s.GroupID}
			if !s.ExpiresAt.IsZero() {
				out.ExpiresAt = s.ExpiresAt.Format("2006-01-02 15:04:05 MST")
			}
			for _, section := range []auth.Section{
				auth.SectionSpools, auth.SectionUsage, auth.SectionProjects,
				auth.SectionProfile, auth.SectionUsers, auth.SectionGroups,
			} {
				if s.CanView(section) {
					out.Sections = append(out.Sections, section)
				}
			}
			return writeOutput(cmd.OutOrStdout(), output, out)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "yaml", "Output format: yaml or json")
	return cmd
}
