package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/yairfalse/loadgate/internal/config"
)

var (
	cfgFile string
	cfg     *config.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "loadgate",
	Short: "Resource-aware worker pool with autoscaling and admission control",
	Long: `loadgate runs an in-process worker pool that reshapes itself from
observed system load: a dual-priority request queue feeds a load-aware
dispatcher, an autoscaler grows and shrinks the pool between configured
bounds, a health monitor evicts unresponsive workers, and a sliding-window
admission gate decides whether new work may enter the system at all.

COMMANDS:
  loadgate run         # run the pool as a daemon with a demo workload handler
  loadgate simulate    # push a synthetic workload through the pool and report
  loadgate version     # build information`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		return err
	},
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./loadgate.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("output", "table", "output format (table, yaml)")

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newSimulateCommand())
	rootCmd.AddCommand(newVersionCommand())
}

// logLevel resolves the effective log level: flag wins over config file.
func logLevel(cmd *cobra.Command) string {
	if lv, _ := cmd.Flags().GetString("log-level"); lv != "" {
		return lv
	}
	if cfg != nil && cfg.Log.Level != "" {
		return cfg.Log.Level
	}
	return "info"
}
