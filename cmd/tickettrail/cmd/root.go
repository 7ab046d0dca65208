package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hugo-lorenzo-mato/tickettrail/internal/config"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
	noColor   bool
	quiet     bool
	target    string

	// Version info - set via SetVersion()
	appVersion = "dev"
	appCommit  = "none"
	appDate    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "tickettrail",
	Short: "Fill tracking spreadsheets with ticket timelines",
	Long: `tickettrail walks a queue of spreadsheet rows, finds the ticket each row
refers to in the ticketing web UI, extracts its timeline (created,
escalated, resolved) and writes the timestamps back to the row, verifying
every write.

Start a runner with 'tickettrail run' and drive it with 'enqueue', 'pause',
'resume', 'stop' and 'status' from another terminal.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

// SetVersion injects build information.
func SetVersion(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}

// GetVersion returns the application version string.
func GetVersion() string {
	return appVersion
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: .tickettrail/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "auto",
		"log format (auto, text, json)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false,
		"disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false,
		"suppress non-essential output")
	rootCmd.PersistentFlags().StringVar(&target, "target", "",
		"instance id a command is addressed to (default: any)")

	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// loadConfig reads configuration from file, environment and bound flags.
// runtime adds the checks only a runner needs.
func loadConfig(runtime bool) (*config.Config, error) {
	cfg, err := config.NewLoaderWithViper(viper.GetViper()).WithConfigFile(cfgFile).Load()
	if err != nil {
		return nil, err
	}
	v := config.NewValidator()
	if runtime {
		v.RequireRuntime()
	}
	if err := v.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
