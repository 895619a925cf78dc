package cli

import (
	"github.com/spf13/cobra"
)

var (
	prefUser    string
	prefEnabled bool
	prefMaxRisk string
)

var preferenceCmd = &cobra.Command{
	Use:   "set-preference",
	Short: "Enable or disable auto-execution for a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().SetPreference(cmd.Context(), prefUser, prefEnabled, prefMaxRisk)
	},
}

func init() {
	preferenceCmd.Flags().StringVar(&prefUser, "user", "", "User id")
	preferenceCmd.Flags().BoolVar(&prefEnabled, "enabled", true, "Allow automatic execution")
	preferenceCmd.Flags().StringVar(&prefMaxRisk, "max-risk", "MEDIUM", "Highest risk tier to execute: LOW, MEDIUM or HIGH")
	_ = preferenceCmd.MarkFlagRequired("user")
}
