package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quantdesk/bar-service/internal/bootstrap"
	"github.com/quantdesk/bar-service/internal/constant"
	"github.com/quantdesk/bar-service/internal/util"
)

// refreshEMACmd represents the refresh-ema command
var refreshEMACmd = &cobra.Command{
	Use:   "refresh-ema",
	Short: "Refresh exponential moving averages for one bar family",
	Long: `Computes EMAs at a fixed set of periods from one bar family's snapshot
table and upserts them into the matching EMA table. EMA is
path-dependent on its seed, so an upstream bar rebuild triggers a full
recompute of the affected series.`,
	Run: func(cmd *cobra.Command, args []string) {
		raw, _ := cmd.Flags().GetString("family")
		family := constant.EMAFamily(raw)
		if !family.Valid() {
			util.ContinueOrFatal(fmt.Errorf("invalid ema family %q, want daily|fixed|calendar|anchored", raw))
		}
		bootstrap.StartEMARefresh(cmd, family)
	},
}

func init() {
	rootCmd.AddCommand(refreshEMACmd)
	addRefreshFlags(refreshEMACmd)
	refreshEMACmd.Flags().String("family", "daily", "ema family: daily|fixed|calendar|anchored")
	refreshEMACmd.Flags().IntSlice("periods", nil, "ema periods (default from config)")
	refreshEMACmd.Flags().Bool("full-refresh", false, "ignore state and recompute every series")
}
