package cmd

import (
	"github.com/spf13/cobra"

	"github.com/quantdesk/bar-service/internal/bootstrap"
	"github.com/quantdesk/bar-service/internal/constant"
	"github.com/quantdesk/bar-service/internal/util"
)

// refreshAnchoredBarsCmd represents the refresh-anchored-bars command
var refreshAnchoredBarsCmd = &cobra.Command{
	Use:   "refresh-anchored-bars",
	Short: "Refresh calendar-anchored forming bars",
	Long: `Aggregates raw daily prices into calendar-anchored bars that may start
partial and emit one snapshot per contributing day while forming.`,
	Run: func(cmd *cobra.Command, args []string) {
		family, err := calendarFamilyFromFlags(cmd, constant.BarFamilyAnchoredUS, constant.BarFamilyAnchoredISO)
		util.ContinueOrFatal(err)
		bootstrap.StartBarRefresh(cmd, family)
	},
}

func init() {
	rootCmd.AddCommand(refreshAnchoredBarsCmd)
	addRefreshFlags(refreshAnchoredBarsCmd)
	refreshAnchoredBarsCmd.Flags().Bool("rebuild", false, "ignore state and rebuild from scratch")
	refreshAnchoredBarsCmd.Flags().String("week-convention", "us", "week start convention: us (Sunday) or iso (Monday)")
	refreshAnchoredBarsCmd.Flags().Int("lookback-days", -1, "re-derive snapshots this many days back (0 disables, -1 = config default)")
}
