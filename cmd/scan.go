package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sjteam/spoolscan/internal/app"
	"github.com/sjteam/spoolscan/internal/decoder"
	"github.com/sjteam/spoolscan/internal/models"
	"github.com/sjteam/spoolscan/internal/resolve"
	"github.com/sjteam/spoolscan/internal/scan"
	"github.com/spf13/cobra"
)

// scanResult is what the scan command prints.
type scanResult struct {
	Source  string         `yaml:"source" json:"source"`
	Raw     string         `yaml:"raw" json:"raw"`
	SpoolID *int64         `yaml:"spool_id,omitempty" json:"spool_id,omitempty"`
	Spool   *models.Spool  `yaml:"spool,omitempty" json:"spool,omitempty"`
	Payload map[string]any `yaml:"payload,omitempty" json:"payload,omitempty"`
	Error   string         `yaml:"error,omitempty" json:"error,omitempty"`
}

func newScanCmd(g *globals) *cobra.Command {
	var photo string
	var useCamera bool
	var offline bool
	var timeout time.Duration
	var output string

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan a spool label and look the spool up",
		Long: `Reads a spool QR label from a photo or the configured camera and resolves
it to a spool in the inventory.

With --offline the label is only decoded locally. The signature is not
checked and the inventory is not contacted.`,
		Example: `  # Scan a photo of a label
  spoolscan scan --photo label.jpg

  # Scan with the camera, giving up after 20 seconds
  spoolscan scan --camera --timeout 20s -o json

  # Show what a label encodes without signing in
  spoolscan scan --photo label.jpg --offline`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (photo == "") == !useCamera {
				return errors.New("exactly one of --photo or --camera is required")
			}
			if offline {
				if photo == "" {
					return errors.New("--offline needs --photo")
				}
				return scanOffline(cmd, photo, output)
			}

			req := app.ScanRequest{Mode: scan.ModeCamera}
			if photo != "" {
				data, err := os.ReadFile(photo)
				if err != nil {
					return fmt.Errorf("failed to read photo: %w", err)
				}
				req = app.ScanRequest{Mode: scan.ModePhoto, Photo: data}
			}

			var opts []app.Option
			if req.Mode == scan.ModePhoto {
				opts = append(opts, app.WithDevice(nil))
			}
			a, err := g.newApp(cmd.Context(), opts...)
			if err != nil {
				return err
			}
			defer a.Close()
			if _, err := a.Auth.RequireSignedIn(); err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			out, err := a.Scan(ctx, req)
			if errors.Is(err, context.DeadlineExceeded) {
				return fmt.Errorf("no code was read within %s", timeout)
			}
			if err != nil {
				return err
			}

			res := scanResult{
				Source:  string(out.Source),
				Raw:     out.Resolved.Raw,
				SpoolID: out.Resolved.SpoolID,
				Spool:   out.Resolved.Spool,
				Error:   out.Resolved.Error,
			}
			if err := writeOutput(cmd.OutOrStdout(), output, res); err != nil {
				return err
			}
			return out.Resolved.Err
		},
	}

	cmd.Flags().StringVar(&photo, "photo", "", "Image file containing the label")
	cmd.Flags().BoolVar(&useCamera, "camera", false, "Scan with the configured camera")
	cmd.Flags().BoolVar(&offline, "offline", false, "Decode the label locally without contacting the inventory")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Give up after this long")
	cmd.Flags().StringVarP(&output, "output", "o", "yaml", "Output format: yaml or json")

	return cmd
}

func scanOffline(cmd *cobra.Command, path, output string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read photo: %w", err)
	}

	res := decoder.New().DecodeStillImage(data)
	switch res.Kind {
	case decoder.Error:
		return fmt.Errorf("failed to decode photo: %w", res.Err)
	case decoder.NotFound:
		return errors.New(scan.MsgNoCode)
	}

	out := scanResult{Source: string(scan.ModePhoto), Raw: res.Text}
	p, err := resolve.ParsePayload(res.Text)
	if err != nil {
		out.Error = err.Error()
	} else {
		out.SpoolID = &p.ID
		out.Payload = p.Fields
	}
	if err := writeOutput(cmd.OutOrStdout(), output, out); err != nil {
		return err
	}
	return err
}
