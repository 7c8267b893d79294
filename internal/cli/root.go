package cli

import (
	"github.com/spf13/cobra"

	"github.com/picklr-io/picklr-aws/internal/config"
	"github.com/picklr-io/picklr-aws/internal/logging"
	"github.com/picklr-io/picklr-aws/internal/metrics"
)

var (
	configPath  string
	logLevel    string
	logFormat   string
	metricsFile string
	noColor     bool
)

var rootCmd = &cobra.Command{
	Use:   "picklr-aws",
	Short: "Manage AWS resources declared in YAML or Pkl",
	Long: `picklr-aws plans and applies changes to EKS, EventBridge, CloudWatch,
CloudWatch Logs and Route 53 resources declared in a configuration file.

Every step is checkpointed to the state file, so an interrupted apply can
be resumed by running it again.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logging.Init(logLevel, logFormat)
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if metricsFile == "" {
			return nil
		}
		return metrics.WriteFile(metricsFile)
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", config.DefaultFile, "Configuration file (.yaml, .yml or .pkl)")
	flags.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (default from config, else info)")
	flags.StringVar(&logFormat, "log-format", "", "Log format: text or json")
	flags.StringVar(&metricsFile, "metrics-file", "", "Write Prometheus metrics to this file on exit")
	flags.BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(destroyCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(findCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(versionCmd)
}
