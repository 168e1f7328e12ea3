package cmd

import (
	"github.com/spf13/cobra"

	"github.com/quantdesk/bar-service/internal/bootstrap"
	"github.com/quantdesk/bar-service/internal/constant"
)

// refreshDailyBarsCmd represents the refresh-daily-bars command
var refreshDailyBarsCmd = &cobra.Command{
	Use:   "refresh-daily-bars",
	Short: "Refresh canonical 1-day bars from raw daily prices",
	Long: `Validates raw daily price rows and refreshes the canonical 1-day bar
table. Rows that fail validation are rejected to the audit table instead
of being written; repaired rows are logged there too.`,
	Run: func(cmd *cobra.Command, args []string) {
		bootstrap.StartBarRefresh(cmd, constant.BarFamilyDaily)
	},
}

func init() {
	rootCmd.AddCommand(refreshDailyBarsCmd)
	addRefreshFlags(refreshDailyBarsCmd)
	refreshDailyBarsCmd.Flags().Bool("rebuild", false, "ignore state and rebuild from scratch")
	refreshDailyBarsCmd.Flags().Bool("fail-on-rejects", false, "exit non-zero when any row is rejected")
}
