package cmd

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/quantdesk/bar-service/internal/config"
	"github.com/quantdesk/bar-service/internal/constant"
)

var configPath string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "bar-service",
	Short: "Incremental bar and EMA computation for daily price history",
	Long: `Builds aggregated bars from raw daily price history across six
alignment families and computes exponential moving averages on top of
them, incrementally and idempotently. Each refresh subcommand runs one
pipeline once and exits.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		err := config.LoadConfig(configPath)
		if err != nil {
			return err
		}

		logrus.SetReportCaller(config.Env.Log.ShowCaller)

		if config.Env.Env == constant.ProductionEnvironment {
			logrus.SetFormatter(&logrus.JSONFormatter{})
		}

		logLevel, err := logrus.ParseLevel(config.Env.Log.LogLevel)
		if err != nil {
			return err
		}
		logrus.SetLevel(logLevel)

		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default: ./config.yml)")
}

// addRefreshFlags registers the argument shape shared by every refresh
// subcommand.
func addRefreshFlags(cmd *cobra.Command) {
	cmd.Flags().String("entities", "all", "comma-separated entity ids, or all")
	cmd.Flags().String("timeframes", "all", "comma-separated timeframe ids, or all canonical")
	cmd.Flags().Int("num-workers", 0, "parallel entity workers (0 = config default)")
}
