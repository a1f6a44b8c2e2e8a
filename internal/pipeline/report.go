package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"neuropipe/internal/backend"
	"neuropipe/internal/derivatives"
	"neuropipe/internal/format"
)

// Summary renders the final per-unit outcome table for the console.
func (r *Report) Summary() string {
	tb := format.NewTable(format.ASCII)
	tb.Header("Unit", "Status", "Failed stage", "Cause", "Warnings", "Duration")
	for _, o := range r.Outcomes {
		tb.Row(
			o.Unit.Key(),
			o.Status.String(),
			string(o.FailedStage),
			format.Truncate(o.Cause, 60),
			len(o.Warnings),
			format.FmtDuration(o.Duration()),
		)
	}
	ok, partial, failed := r.Counts()
	tb.Footer("", fmt.Sprintf("%d ok / %d partial / %d failed", ok, partial, failed), "", "", "", "")
	tb.Columns(format.ColumnConfig{Number: 4, MaxWidth: 60})
	return tb.String()
}

// WriteUnitReports writes one Markdown report per unit into the unit's
// figures folder. Overwrites previous reports in place.
func (r *Report) WriteUnitReports(w *derivatives.Writer) error {
	for _, o := range r.Outcomes {
		dir := w.UnitDir(o.Unit, backend.StageSensor, backend.KindFigure)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("report dir: %w", err)
		}

		var b strings.Builder
		fmt.Fprintf(&b, "# %s\n\n", o.Unit.Key())
		fmt.Fprintf(&b, "Run `%s`, finished %s.\n\n", r.RunID, o.Finished.Format("2006-01-02 15:04:05 MST"))

		tb := format.NewTable(format.Markdown)
		tb.Header("Field", "Value")
		tb.Row("Status", o.Status.String())
		tb.Row("Final state", o.State.String())
		if o.FailedStage != "" {
			tb.Row("Failed stage", string(o.FailedStage))
			tb.Row("Cause", o.Cause)
		}
		tb.Row("Duration", format.FmtDuration(o.Duration()))
		tb.Row("Recordings", len(o.Unit.Files))
		b.WriteString(tb.String())
		b.WriteString("\n")

		if len(o.Warnings) > 0 {
			b.WriteString("\n## Warnings\n\n")
			for _, warn := range o.Warnings {
				fmt.Fprintf(&b, "- %s\n", warn)
			}
		}

		name := strings.ReplaceAll(o.Unit.Key(), "/", "_") + "_report.md"
		if err := os.WriteFile(filepath.Join(dir, name), []byte(b.String()), 0o644); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
	}
	return nil
}
