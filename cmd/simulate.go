package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"zound-engine/internal/audio"
	"zound-engine/internal/engine"
	"zound-engine/internal/simulate"
)

var (
	simTriggers []string
	simDuration time.Duration
	simTick     time.Duration
	simClip     time.Duration
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run scripted triggers headless and print the diagnostics",
	Long: `Runs the engine without an audio device. Each --trigger is name@offset,
for example --trigger hit@0s --trigger hit@250ms.`,
	RunE: runSimulate,
}

func init() {
	flags := simulateCmd.Flags()
	flags.StringArrayVarP(&simTriggers, "trigger", "t", nil, "sound to trigger as name@offset, repeatable")
	flags.DurationVar(&simDuration, "duration", 2*time.Second, "total simulated time")
	flags.DurationVar(&simTick, "tick", 16*time.Millisecond, "engine tick")
	flags.DurationVar(&simClip, "clip", 0, "treat every sample as a clip of this length instead of decoding it")
	rootCmd.AddCommand(simulateCmd)
}

func runSimulate(cmd *cobra.Command, args []string) error {
	triggers := make([]simulate.Trigger, 0, len(simTriggers))
	for _, raw := range simTriggers {
		tr, err := simulate.ParseTrigger(raw)
		if err != nil {
			return err
		}
		triggers = append(triggers, tr)
	}

	cfg, err := loadSettings()
	if err != nil {
		return err
	}
	cfg.Backend = string(audio.BackendNull)

	lib, err := loadLibrary(cfg.LibraryPath)
	if lib == nil {
		return err
	}

	var e *engine.Engine
	if simClip > 0 {
		mgr := audio.NewManager(audio.BackendNull, cfg.SampleRate)
		e, err = engine.New(cfg.EngineConfig(), lib, simulate.FixedSource(simClip), mgr.Factory())
		if err != nil {
			return err
		}
		defer e.Shutdown()
	} else {
		s, err := buildStack(cfg, lib)
		if err != nil {
			return err
		}
		defer s.close()
		e = s.engine
	}

	res, err := simulate.Run(e, triggers, simDuration, simTick)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), res.Report())
	return nil
}
