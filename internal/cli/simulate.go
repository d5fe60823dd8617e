package cli

import (
	"github.com/spf13/cobra"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Walk one full vault lifecycle against an in-memory engine",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Simulate(cmd.Context())
	},
}
