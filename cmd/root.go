package cmd

import (
	"fmt"
	"os"
	"strings"

	"tpulaunch/pkg/config"
	"tpulaunch/pkg/database"
	"tpulaunch/pkg/gcloud"
	"tpulaunch/pkg/orchestrator"
	"tpulaunch/pkg/runner"
	"tpulaunch/pkg/session"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	configFile string
	presetName string
	runPrefix  string
	steps      int
	batchSize  int
	tpuPrefix  string
	numSlices  int
	jobMode    bool
	dryRun     bool
	silent     bool
	verbose    bool
)

var Verbose bool

var rootCmd = &cobra.Command{
	Use:   "tpulaunch",
	Short: "launch distributed training runs on Cloud TPU slices",
	Long:  `configures the cloud project/zone, mints a unique run name and hands the training command to the multihost runner`,
	Run:   runLaunch,
}

func Execute() {
	hasSilentFlag := false
	for i, arg := range os.Args {
		if arg == "-silent" {
			os.Args[i] = "--silent"
			hasSilentFlag = true
		}
		if arg == "-preset" {
			os.Args[i] = "--preset"
		}
		if arg == "-dry-run" {
			os.Args[i] = "--dry-run"
		}
		if arg == "-job" {
			os.Args[i] = "--job"
		}
	}

	if !hasSilentFlag {
		printBanner()
	}

	if err := rootCmd.Execute(); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func DebugLog(format string, args ...interface{}) {
	if Verbose {
		fmt.Printf("[DBG] "+format+"\n", args...)
	}
}

func setDebugLogFunctions() {
	config.DebugLog = DebugLog
	orchestrator.DebugLog = DebugLog
	session.DebugLog = DebugLog
	database.DebugLog = DebugLog
	gcloud.DebugLog = DebugLog
	runner.DebugLog = DebugLog
}

func init() {
	rootCmd.SetHelpTemplate(`Usage:
  {{.UseLine}}{{if .HasAvailableSubCommands}}
  {{.CommandPath}} [command]{{end}}

{{if .HasAvailableSubCommands}}Commands:{{range .Commands}}{{if (or .IsAvailableCommand (eq .Name "help"))}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}

{{end}}Flags:
RUN:
   -p, -preset string      launch preset to use (default, stable, debug, sdc-checker)
   -n, -name string        run name prefix (timestamp suffix is appended)
   -steps int              training step count override
   -batch int              per-device batch size override

TARGET:
   -t, -tpu-prefix string  name prefix of the existing TPU slice group
   -job                    provision queued resources instead of targeting existing TPUs
   -num-slices int         slice count for -job mode

OUTPUT:
   -dry-run                print the resolved invocation without launching
   -silent                 silent mode - no banner or extra output

CONFIGURATION:
   -c, -config string      config file path (default: config/config.yaml)

OPTIMIZATION:
   -v, -verbose            enable verbose/debug output
{{if .HasAvailableSubCommands}}
Use "{{.CommandPath}} [command] --help" for more information about a command.{{end}}
`)

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (default: config/config.yaml)")

	rootCmd.Flags().StringVarP(&presetName, "preset", "p", "", "launch preset to use (default, stable, debug, sdc-checker)")
	rootCmd.Flags().StringVarP(&runPrefix, "name", "n", "", "run name prefix (timestamp suffix is appended)")
	rootCmd.Flags().IntVar(&steps, "steps", 0, "training step count override")
	rootCmd.Flags().IntVar(&batchSize, "batch", 0, "per-device batch size override")
	rootCmd.Flags().StringVarP(&tpuPrefix, "tpu-prefix", "t", "", "name prefix of the existing TPU slice group")
	rootCmd.Flags().BoolVar(&jobMode, "job", false, "provision queued resources instead of targeting existing TPUs")
	rootCmd.Flags().IntVar(&numSlices, "num-slices", 0, "slice count for --job mode")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the resolved invocation without launching")
	rootCmd.Flags().BoolVar(&silent, "silent", false, "silent mode - no banner or extra output")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose/debug output")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(presetsCmd)
	rootCmd.AddCommand(configureCmd)
}

func runLaunch(cmd *cobra.Command, args []string) {
	Verbose = verbose

	if verbose {
		setDebugLogFunctions()
	}

	orch, err := orchestrator.NewOrchestrator(configFile)
	if err != nil {
		color.Red("Failed to initialize orchestrator: %v", err)
		os.Exit(1)
	}

	options := orchestrator.LaunchOptions{
		Preset:    presetName,
		RunPrefix: runPrefix,
		Steps:     steps,
		BatchSize: batchSize,
		TPUPrefix: tpuPrefix,
		NumSlices: numSlices,
		JobMode:   jobMode,
		DryRun:    dryRun,
	}

	result, err := orch.RunLaunch(options)
	if err != nil {
		color.Red("Launch failed: %v", err)
		os.Exit(1)
	}

	if dryRun {
		displayDryRun(result)
		os.Exit(0)
	}

	if !silent {
		if result.Success {
			color.Green("\nRun %s finished in %v (exit code %d)", result.RunName, result.Duration, result.ExitCode)
		} else {
			color.Red("\nRun %s failed after %v (exit code %d)", result.RunName, result.Duration, result.ExitCode)
		}
	}

	if result.Success {
		os.Exit(0)
	}
	os.Exit(1)
}

func displayDryRun(result *orchestrator.LaunchResult) {
	color.Cyan("Run name:  %s", result.RunName)
	color.Cyan("Preset:    %s", result.Preset)
	fmt.Println()
	fmt.Println("Runner invocation:")
	fmt.Printf("  %s\n", strings.Join(result.Argv, " "))
	fmt.Println()
	fmt.Println("Worker command:")
	fmt.Printf("  %s\n", result.Command)
}

func printBanner() {
	banner := color.CyanString(`
┌┬┐┌─┐┬ ┬┬  ┌─┐┬ ┬┌┐┌┌─┐┬ ┬
 │ ├─┘│ ││  ├─┤│ │││││  ├─┤
 ┴ ┴  └─┘┴─┘┴ ┴└─┘┘└┘└─┘┴ ┴
`)
	info := color.HiBlackString("preset-driven launcher for distributed TPU training runs")
	fmt.Println(banner)
	fmt.Println(info)
	fmt.Println()
}
