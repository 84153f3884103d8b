package cmd

import (
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"zound-engine/internal/host"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Open a window and trigger sounds from the keyboard",
	Long: `Opens a window bound to the first nine definitions of the library.
Keys 1-9 trigger, P pauses or resumes everything, K stops everything,
C cleans up dead voices and Esc quits.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadSettings()
	if err != nil {
		return err
	}

	lib, err := loadLibrary(cfg.LibraryPath)
	if err != nil {
		if lib == nil {
			return err
		}
		log.Warn("Sound library loaded with errors", "err", err)
	}

	s, err := buildStack(cfg, lib)
	if err != nil {
		return err
	}
	defer s.close()
	s.preload()

	game := host.NewGame(s.engine, lib.Names(), cfg.ScreenWidth, cfg.ScreenHeight)
	return game.Run()
}
