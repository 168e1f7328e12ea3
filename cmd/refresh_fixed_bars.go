package cmd

import (
	"github.com/spf13/cobra"

	"github.com/quantdesk/bar-service/internal/bootstrap"
	"github.com/quantdesk/bar-service/internal/constant"
)

// refreshFixedBarsCmd represents the refresh-fixed-bars command
var refreshFixedBarsCmd = &cobra.Command{
	Use:   "refresh-fixed-bars",
	Short: "Refresh fixed-length multi-day bars",
	Long: `Aggregates raw daily prices into fixed-length bars of N days counted
from each entity's first available day. Forming bars emit one snapshot
per contributing day.`,
	Run: func(cmd *cobra.Command, args []string) {
		bootstrap.StartBarRefresh(cmd, constant.BarFamilyFixed)
	},
}

func init() {
	rootCmd.AddCommand(refreshFixedBarsCmd)
	addRefreshFlags(refreshFixedBarsCmd)
	refreshFixedBarsCmd.Flags().Bool("rebuild", false, "ignore state and rebuild from scratch")
	refreshFixedBarsCmd.Flags().Int("lookback-days", -1, "re-derive snapshots this many days back (0 disables, -1 = config default)")
}
