package cmd

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

var (
	configPath  string
	iniPath     string
	libraryPath string
	logLevel    string
)

var rootCmd = &cobra.Command{
	Use:   "zound",
	Short: "Game audio playback engine",
	Long: `zound plays named sound definitions through a bounded voice pool,
applying per-definition cooldowns, instance caps and randomization.`,
	SilenceUsage:      true,
	PersistentPreRunE: setupLogging,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "settings file (yaml or json)")
	flags.StringVar(&iniPath, "ini", "", "INI overlay applied on top of the settings")
	flags.StringVarP(&libraryPath, "library", "l", "", "sound library file, overrides library_path")
	flags.StringVar(&logLevel, "log-level", "", "debug, info, warn or error, overrides log_level")
}

func setupLogging(cmd *cobra.Command, args []string) error {
	log.SetReportTimestamp(true)
	if logLevel == "" {
		return nil
	}
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("invalid --log-level: %w", err)
	}
	log.SetLevel(level)
	return nil
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
