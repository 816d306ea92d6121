package smoke

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/carzone/carzone-backend/internal/tools/ui"
)

// NewCommand builds the smoke subcommand for the server binary.
func NewCommand() *cobra.Command {
	var (
		baseURL  string
		email    string
		password string
		ci       bool
	)
	cmd := &cobra.Command{
		Use:   "smoke",
		Short: "Probe a running API instance end to end",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := Config{BaseURL: baseURL, Email: email, Password: password}
			if ci {
				ctx, cancel := context.WithTimeout(cmd.Context(), 3*time.Minute)
				defer cancel()
				return Run(ctx, cfg, func(s string) { fmt.Fprintln(cmd.OutOrStdout(), "ok:", s) })
			}
			_, err := ui.Run("carzone smoke", func(ctx context.Context, step func(string)) error {
				return Run(ctx, cfg, step)
			})
			return err
		},
	}
	cmd.Flags().StringVar(&baseURL, "base-url", "http://localhost:8080", "API base URL")
	cmd.Flags().StringVar(&email, "email", fmt.Sprintf("smoke-%d@example.com", time.Now().Unix()), "probe account email")
	cmd.Flags().StringVar(&password, "password", "smoke-probe-password", "probe account password")
	cmd.Flags().BoolVar(&ci, "ci", false, "non-interactive line output")
	return cmd
}
