package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/altafino/thread-archiver/internal/batch"
	"github.com/altafino/thread-archiver/internal/metrics"
	"github.com/altafino/thread-archiver/internal/recovery"
	"github.com/altafino/thread-archiver/internal/state"
)

var (
	Bold     = lipgloss.NewStyle().Bold(true)
	Dim      = lipgloss.NewStyle().Foreground(lipgloss.Color("#9ca3af"))
	Success  = lipgloss.NewStyle().Foreground(lipgloss.Color("#16a34a"))
	Warn     = lipgloss.NewStyle().Foreground(lipgloss.Color("#d97706"))
	ErrStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#dc2626"))
)

func stateLabel(s state.State) string {
	label := fmt.Sprintf("%-10s", strings.ToUpper(s.String()))
	switch s {
	case state.Archived:
		return Success.Render(label)
	case state.Skipped:
		return Dim.Render(label)
	case state.Errored:
		return ErrStyle.Render(label)
	default:
		return Warn.Render(label)
	}
}

func printReport(w io.Writer, r batch.Report) {
	fmt.Fprintf(w, "%s %s\n", Bold.Render("batch"), Dim.Render(r.RunID))
	for _, item := range r.Items {
		line := fmt.Sprintf("  %s %s", stateLabel(item.State), item.ID)
		if item.Files > 0 {
			line += Dim.Render(fmt.Sprintf(" (%d files)", item.Files))
		}
		if item.Error != "" {
			line += " " + ErrStyle.Render(item.Kind+": "+item.Error)
		}
		fmt.Fprintln(w, line)
	}

	fmt.Fprintf(w, "archived %d, skipped %d, errored %d, reset %d, untouched %d in %s\n",
		r.Archived, r.Skipped, r.Errored, r.Reset, r.Untouched, r.Duration.Round(time.Millisecond))
	if r.StoppedBy != "" {
		fmt.Fprintln(w, Warn.Render("stopped by "+r.StoppedBy))
	}
	if r.BudgetExceeded {
		fmt.Fprintln(w, Warn.Render("time budget exceeded"))
	}
	if r.ContinuationNeeded {
		fmt.Fprintf(w, "continuation in %s\n", r.ContinuationDelay)
	}
}

func printResult(w io.Writer, op string, res recovery.Result) {
	fmt.Fprintf(w, "%s: %s changed", Bold.Render(op), Success.Render(fmt.Sprint(res.Changed)))
	if res.Digests > 0 {
		fmt.Fprintf(w, ", %d digests trashed", res.Digests)
	}
	fmt.Fprintln(w)
	for _, id := range res.Failed {
		fmt.Fprintf(w, "  %s %s\n", ErrStyle.Render("failed"), id)
	}
}

func printSnapshot(w io.Writer, id string, s metrics.Snapshot) {
	rows := []struct {
		name  string
		value int64
	}{
		{"items processed", s.ItemsProcessed},
		{"items skipped", s.ItemsSkipped},
		{"items errored", s.ItemsErrored},
		{"files uploaded", s.FilesUploaded},
		{"bytes uploaded", s.BytesUploaded},
		{"duplicates skipped", s.DuplicatesSkipped},
		{"batches run", s.BatchesRun},
		{"truncation warnings", s.TruncationWarnings},
	}

	fmt.Fprintln(w, Bold.Render("stats for "+id))
	for _, row := range rows {
		fmt.Fprintf(w, "  %-20s %d\n", row.name, row.value)
	}
	last := "never"
	if !s.LastRunAt.IsZero() {
		last = s.LastRunAt.Format(time.RFC3339)
	}
	fmt.Fprintf(w, "  %-20s %s\n", "last run", Dim.Render(last))
}
