package cmd

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"tpulaunch/pkg/config"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var presetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "List available launch presets",
	Long:  `List the built-in launch presets together with any presets defined in the config file`,
	Run:   runPresets,
}

func runPresets(cmd *cobra.Command, args []string) {
	manager := config.NewManager(configFile)
	if err := manager.LoadConfig(); err != nil {
		// Built-in presets are still worth showing without a config file.
		color.Yellow("[WARN] %v", err)
		fmt.Println()
	}

	presets := manager.AllPresets()

	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, color.CyanString("NAME\tENV\tARGS\tDESCRIPTION"))
	fmt.Fprintln(w, strings.Repeat("-", 90))

	for _, name := range names {
		p := presets[name]
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", name, len(p.EnvVars), len(p.ExtraArgs), p.Description)
	}
	w.Flush()

	color.Green("\nTotal presets: %d", len(names))
}
