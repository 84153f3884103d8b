package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"zound-engine/internal/definition"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Validate a sound library and print its definitions",
	Long:  `Loads the library, prints every valid definition with its children and exits non-zero when any definition was rejected.`,
	RunE:  runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, args []string) error {
	path := libraryPath
	if path == "" {
		cfg, err := loadSettings()
		if err != nil {
			return err
		}
		path = cfg.LibraryPath
	}

	lib, loadErr := loadLibrary(path)
	if lib == nil {
		return loadErr
	}

	out := cmd.OutOrStdout()
	for _, name := range lib.Names() {
		def, err := lib.Resolve(name)
		if err != nil {
			continue
		}
		printDefinition(out, def)
	}
	fmt.Fprintf(out, "\n%d definitions\n", lib.Len())

	if loadErr != nil {
		return fmt.Errorf("library has errors: %w", loadErr)
	}
	return nil
}

func printDefinition(w io.Writer, def *definition.Definition) {
	var attrs []string
	if def.Kind == definition.KindLeaf {
		attrs = append(attrs, "sample="+def.Sample)
		if def.Loop {
			attrs = append(attrs, "loop")
		}
	}
	if def.Chance < 1 {
		attrs = append(attrs, fmt.Sprintf("chance=%.2f", def.Chance))
	}
	if def.Limits.MaxInstances > 0 {
		attrs = append(attrs, fmt.Sprintf("max=%d", def.Limits.MaxInstances))
	}
	if def.Limits.Cooldown != nil {
		attrs = append(attrs, "cooldown="+def.Limits.Cooldown.String())
	}
	if def.Route != "" {
		attrs = append(attrs, "route="+def.Route)
	}
	fmt.Fprintf(w, "%s (%s) %s\n", def.Name, def.Kind, strings.Join(attrs, " "))

	for _, e := range def.Entries {
		switch def.Kind {
		case definition.KindSequence:
			fmt.Fprintf(w, "  +%s %s\n", e.Delay, e.Name)
		case definition.KindRandomizer:
			fmt.Fprintf(w, "  weight %.2f %s\n", e.Chance, e.Name)
		}
	}
}
