package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kviflow/kviflow/internal/config"
	"github.com/kviflow/kviflow/internal/logging"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string

	// Version info - set via SetVersion()
	appVersion string
	appCommit  string
	appDate    string
)

var rootCmd = &cobra.Command{
	Use:   "kviflow",
	Short: "LLM-driven interview pipeline mapping services to Key Value Indicators",
	Long: `kviflow interviews you about a public service, maps it onto the KVI
taxonomy, derives the KPIs needed to score it, collects their values and
calculates the resulting Key Value Indicators.

Running 'kviflow' without arguments starts the interactive chat client.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func SetVersion(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}

func init() {
	// Default to chat mode when no subcommand is provided. Assigned here
	// rather than in the composite literal to avoid an initialization cycle
	// (rootCmd -> runChat -> newLogger -> rootCmd).
	rootCmd.RunE = runChat

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: .kviflow.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "auto",
		"log format (auto, text, json)")

	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// loadConfig loads the application configuration.
func loadConfig() (*config.Config, error) {
	loader := config.NewLoaderWithViper(viper.GetViper())
	if cfgFile != "" {
		loader.WithConfigFile(cfgFile)
	}
	return loader.Load()
}

// newLogger builds the process logger. Flags win over config when set
// explicitly.
func newLogger(cfg *config.Config) *logging.Logger {
	level := cfg.Log.Level
	if rootCmd.PersistentFlags().Changed("log-level") {
		level = logLevel
	}
	format := cfg.Log.Format
	if rootCmd.PersistentFlags().Changed("log-format") {
		format = logFormat
	}
	return logging.New(logging.Config{
		Level:  level,
		Format: format,
		Output: os.Stderr,
	})
}
