package cmd

import (
	"fmt"
	"os"

	"tpulaunch/pkg/orchestrator"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Apply the configured project and zone to gcloud",
	Long: `Apply the configured cloud project and compute zone to the local gcloud
configuration without launching anything. Safe to repeat: re-applying the
same values leaves the configuration unchanged.`,
	Run: runConfigure,
}

func init() {
	configureCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose/debug output")
}

func runConfigure(cmd *cobra.Command, args []string) {
	if verbose {
		Verbose = true
		setDebugLogFunctions()
	}

	orch, err := orchestrator.NewOrchestrator(configFile)
	if err != nil {
		color.Red("Failed to initialize orchestrator: %v", err)
		os.Exit(1)
	}

	if err := orch.ApplyCloudConfig(); err != nil {
		color.Red("Failed to apply cloud configuration: %v", err)
		os.Exit(1)
	}

	cfg := orch.GetConfig()
	color.Green("Cloud configuration applied: project=%s zone=%s", cfg.Cloud.Project, cfg.Cloud.Zone)
	fmt.Printf("Configuration file: %s\n", orch.GetConfigManager().ConfigPath())
}
