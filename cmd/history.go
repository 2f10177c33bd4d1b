package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"tpulaunch/pkg/database"
	"tpulaunch/pkg/orchestrator"
	"tpulaunch/pkg/session"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	historyStatus string
	historyLimit  int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List previously launched runs",
	Long:  `List previously launched runs from the history database, falling back to local run manifests when the database is disabled`,
	Run:   runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historyStatus, "status", "", "filter by status (launched, finished, failed, dry-run)")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 50, "maximum number of runs to list")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) {
	orch, err := orchestrator.NewOrchestrator(configFile)
	if err != nil {
		color.Red("Failed to initialize orchestrator: %v", err)
		os.Exit(1)
	}

	if historyStatus != "" {
		historyStatus = strings.ToUpper(historyStatus)
	}

	db := orch.GetDB()
	if db != nil && db.IsEnabled() {
		displayDatabaseHistory(db)
		return
	}

	store := orch.GetStore()
	if store == nil {
		color.Red("Error: no history database and no local manifest store available")
		os.Exit(1)
	}
	displayManifestHistory(store)
}

func displayDatabaseHistory(db *database.DB) {
	records, err := db.QueryRuns(historyStatus, historyLimit)
	if err != nil {
		color.Red("Failed to query database: %v", err)
		os.Exit(1)
	}

	if len(records) == 0 {
		color.Yellow("[INF] No runs found in history database.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, color.CyanString("RUN_NAME\tPRESET\tPROJECT\tZONE\tSTEPS\tSTATUS\tLAUNCHED"))
	fmt.Fprintln(w, strings.Repeat("-", 110))

	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			r.RunName,
			r.Preset,
			r.Project,
			r.Zone,
			r.Steps,
			statusColorFunc(r.Status)(r.Status),
			r.LaunchedAt.Format("2006-01-02 15:04:05"),
		)
	}
	w.Flush()

	color.Green("\nTotal runs: %d", len(records))
}

func displayManifestHistory(store *session.Store) {
	manifests, err := store.List()
	if err != nil {
		color.Red("Failed to read run manifests: %v", err)
		os.Exit(1)
	}

	var filtered []session.Manifest
	for _, m := range manifests {
		if historyStatus != "" && m.Status != historyStatus {
			continue
		}
		filtered = append(filtered, m)
		if historyLimit > 0 && len(filtered) >= historyLimit {
			break
		}
	}

	if len(filtered) == 0 {
		color.Yellow("[INF] No run manifests found.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, color.CyanString("RUN_NAME\tPRESET\tPROJECT\tZONE\tSTEPS\tSTATUS\tLAUNCHED"))
	fmt.Fprintln(w, strings.Repeat("-", 110))

	for _, m := range filtered {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			m.RunName,
			m.Preset,
			m.Project,
			m.Zone,
			m.Steps,
			statusColorFunc(m.Status)(m.Status),
			m.LaunchedAt.Format("2006-01-02 15:04:05"),
		)
	}
	w.Flush()

	color.Green("\nTotal runs: %d", len(filtered))
}

func statusColorFunc(status string) func(format string, a ...interface{}) string {
	switch status {
	case database.StatusFailed:
		return color.RedString
	case database.StatusLaunched:
		return color.YellowString
	case database.StatusDryRun:
		return color.HiBlackString
	default:
		return color.GreenString
	}
}
