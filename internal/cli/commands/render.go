package commands

import (
	"fmt"
	"time"

	"github.com/leapstack-labs/stridesync/internal/cli/output"
	"github.com/leapstack-labs/stridesync/internal/pipeline"
	"github.com/leapstack-labs/stridesync/pkg/core"
)

// renderReport prints a run summary in the renderer's mode.
func renderReport(r *output.Renderer, report *pipeline.Report) error {
	if ok, err := r.Data(report.View()); ok {
		return err
	}

	title := fmt.Sprintf("Sync %s: %s", report.Partition, report.Status)
	r.Header(1, title)
	if r.EffectiveMode() == output.ModeMarkdown {
		if report.RunID != "" {
			r.Println(output.FormatKeyValue("Run", report.RunID))
		}
		r.Println(output.FormatKeyValue("Duration", report.Duration.Round(time.Millisecond)))
		r.Println("")
	} else if report.RunID != "" {
		r.Muted(fmt.Sprintf("run %s in %s", report.RunID, report.Duration.Round(time.Millisecond)))
	}

	rows := make([][]any, 0, len(report.Results))
	for _, res := range report.Results {
		label := res.Stage
		if icon := outcomeIcon(r, res.Outcome); icon != "" {
			label = icon + " " + label
		}
		rows = append(rows, []any{
			label,
			string(res.Outcome),
			res.Rows,
			res.Duration.Round(time.Millisecond),
			res.Reason,
		})
	}
	r.Table([]string{"Stage", "Outcome", "Rows", "Duration", "Reason"}, rows)
	r.Println("")
	renderCounts(r, report.Counts)

	if report.Error != "" {
		r.Error(report.Error)
	}
	return nil
}

// renderCounts prints the row count of every table, in table order.
func renderCounts(r *output.Renderer, counts map[string]int64) {
	rows := make([][]any, 0, len(core.AllTables))
	for _, table := range core.AllTables {
		n, ok := counts[table]
		switch {
		case !ok:
			continue
		case n < 0:
			rows = append(rows, []any{table, "error"})
		default:
			rows = append(rows, []any{table, n})
		}
	}
	r.Table([]string{"Table", "Rows"}, rows)
}

func outcomeIcon(r *output.Renderer, o core.Outcome) string {
	if r.EffectiveMode() == output.ModeMarkdown {
		return ""
	}
	s := r.Styles()
	switch o {
	case core.OutcomeSuccess:
		return s.StatusSuccess.String()
	case core.OutcomePartialSuccess:
		return s.StatusPartial.String()
	case core.OutcomeFatal:
		return s.StatusFailed.String()
	default:
		return s.StatusSkipped.String()
	}
}
