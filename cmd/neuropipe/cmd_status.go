package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"neuropipe/internal/format"
	"neuropipe/internal/ledger"
)

var statusFlags struct {
	outputDir string
	limit     int
	runID     string
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent runs and their unit outcomes from the run ledger",
	RunE:  runStatus,
}

func init() {
	f := statusCmd.Flags()
	f.StringVar(&statusFlags.outputDir, "output", ".", "Output directory of previous runs")
	f.IntVar(&statusFlags.limit, "limit", 10, "Max runs to list")
	f.StringVar(&statusFlags.runID, "run", "", "Show per-unit outcomes for one run ID")
}

func runStatus(cmd *cobra.Command, args []string) error {
	led, err := ledger.Open(ledger.DefaultPath(statusFlags.outputDir))
	if err != nil {
		return err
	}
	defer led.Close()

	if statusFlags.runID != "" {
		return printOutcomes(led, statusFlags.runID)
	}

	runs, err := led.RecentRuns(statusFlags.limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no recorded runs")
		return nil
	}

	tb := format.NewTable(format.ASCII)
	tb.Header("Run", "Dataset", "Step", "Started", "Succeeded", "Partial", "Failed")
	for _, r := range runs {
		tb.Row(format.Truncate(r.ID, 8), r.Dataset, r.Step, r.Started.Format("2006-01-02 15:04"),
			r.Succeeded, r.Partial, r.Failed)
	}
	fmt.Println(tb.String())
	return nil
}

func printOutcomes(led *ledger.Ledger, runID string) error {
	outcomes, err := led.Outcomes(runID)
	if err != nil {
		return err
	}
	if len(outcomes) == 0 {
		fmt.Printf("no outcomes for run %s\n", runID)
		return nil
	}
	tb := format.NewTable(format.ASCII)
	tb.Header("Unit", "Status", "Failed stage", "Cause", "Warnings", "Duration")
	for _, o := range outcomes {
		tb.Row(o.Unit, o.Status, o.FailedStage, format.Truncate(o.Cause, 60), o.Warnings, format.FmtDuration(o.Duration))
	}
	tb.Columns(format.ColumnConfig{Number: 4, MaxWidth: 60})
	fmt.Println(tb.String())
	return nil
}
