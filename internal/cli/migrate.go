package cli

import (
	"github.com/spf13/cobra"
)

var migrateSteps int

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply embedded database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Migrate(cmd.Context(), migrateSteps)
	},
}

func init() {
	migrateCmd.Flags().IntVar(&migrateSteps, "steps", 0, "Apply N steps (negative rolls back); 0 applies all pending")
}
