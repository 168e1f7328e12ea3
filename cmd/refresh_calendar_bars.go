package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quantdesk/bar-service/internal/bootstrap"
	"github.com/quantdesk/bar-service/internal/constant"
	"github.com/quantdesk/bar-service/internal/util"
)

// refreshCalendarBarsCmd represents the refresh-calendar-bars command
var refreshCalendarBarsCmd = &cobra.Command{
	Use:   "refresh-calendar-bars",
	Short: "Refresh calendar-aligned full-period bars",
	Long: `Aggregates raw daily prices into calendar-aligned bars (week, month,
year) that only include complete periods. Incomplete leading and
trailing periods are excluded and consume no bar sequence number.`,
	Run: func(cmd *cobra.Command, args []string) {
		family, err := calendarFamilyFromFlags(cmd, constant.BarFamilyCalendarUS, constant.BarFamilyCalendarISO)
		util.ContinueOrFatal(err)
		bootstrap.StartBarRefresh(cmd, family)
	},
}

func init() {
	rootCmd.AddCommand(refreshCalendarBarsCmd)
	addRefreshFlags(refreshCalendarBarsCmd)
	refreshCalendarBarsCmd.Flags().Bool("rebuild", false, "ignore state and rebuild from scratch")
	refreshCalendarBarsCmd.Flags().String("week-convention", "us", "week start convention: us (Sunday) or iso (Monday)")
}

func calendarFamilyFromFlags(cmd *cobra.Command, us, iso constant.BarFamily) (constant.BarFamily, error) {
	raw, _ := cmd.Flags().GetString("week-convention")
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "us", "":
		return us, nil
	case "iso":
		return iso, nil
	default:
		return "", fmt.Errorf("invalid week convention %q, want us or iso", raw)
	}
}
