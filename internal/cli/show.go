package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"vault-keeper/internal/app"
)

var (
	showLimit     int
	showPenalties bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent vault journal rows",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit:     showLimit,
			Penalties: showPenalties,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of rows to display")
	showCmd.Flags().BoolVar(&showPenalties, "penalties", false, "Show penalty pools instead of vaults")
}
