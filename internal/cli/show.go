package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"spread-sentinel/internal/app"
)

var (
	showLimit int
	showAudit bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent alerts or audit entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit: showLimit,
			Audit: showAudit,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of rows to display")
	showCmd.Flags().BoolVar(&showAudit, "audit", false, "Show the audit log instead of alerts")
}
