package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/nbfix/internal/batch"
	"github.com/fyrsmithlabs/nbfix/internal/executor"
	"github.com/fyrsmithlabs/nbfix/internal/extraction"
	"github.com/fyrsmithlabs/nbfix/internal/orchestrator"
)

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("46")).
		Bold(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	failStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)
)

func outputJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func field(w io.Writer, label, value string) {
	fmt.Fprintf(w, "  %s %s\n", labelStyle.Render(fmt.Sprintf("%-14s", label+":")), valueStyle.Render(value))
}

func renderError(w io.Writer, d *extraction.ErrorDetails) {
	if d == nil {
		return
	}
	field(w, "Error", d.ErrorType+": "+truncate(d.ErrorMessage, 120))
	if code := strings.TrimSpace(d.FailingCode); code != "" {
		fmt.Fprintln(w, dimStyle.Render(indent(truncateLines(code, 8), "    ")))
	}
}

// renderReport prints a repair session summary.
func renderReport(w io.Writer, r *orchestrator.Report) {
	status := failStyle.Render("[✗] FAILED")
	if r.Success {
		status = okStyle.Render("[✓] REPAIRED")
		if r.Iterations == 0 {
			status = okStyle.Render("[✓] OK")
		}
	}
	fmt.Fprintf(w, "%s %s\n", headerStyle.Render("nbfix repair"), status)
	field(w, "Notebook", r.NotebookPath)
	field(w, "Session", r.SessionID)
	field(w, "Final state", string(r.FinalStatus))
	field(w, "Iterations", fmt.Sprintf("%d", r.Iterations))
	field(w, "Searches", fmt.Sprintf("%d", r.SearchAttempts))
	field(w, "Plans", fmt.Sprintf("%d", r.PlanningAttempts))
	field(w, "Elapsed", r.Elapsed.Round(time.Millisecond).String())
	if len(r.BackupPaths) > 0 {
		field(w, "Backups", fmt.Sprintf("%d", len(r.BackupPaths)))
		for _, p := range r.BackupPaths {
			fmt.Fprintln(w, dimStyle.Render("    "+p))
		}
	}
	if !r.Success {
		if r.FailureReason != "" {
			field(w, "Reason", r.FailureReason)
		}
		renderError(w, r.ErrorDetails)
	}
}

// renderExecution prints the outcome of a single execution.
func renderExecution(w io.Writer, path string, res executor.Result) {
	status := okStyle.Render("[✓] PASS")
	if !res.OK {
		status = failStyle.Render("[✗] FAIL")
	}
	fmt.Fprintf(w, "%s %s\n", headerStyle.Render("nbfix execute"), status)
	field(w, "Notebook", path)
	field(w, "Duration", res.Duration.Round(time.Millisecond).String())
	if res.Failure != nil {
		renderError(w, &res.Failure.Details)
	}
}

func batchStatus(r batch.Result) string {
	switch {
	case r.Err != nil:
		return warnStyle.Render("ERROR   ")
	case r.OK:
		return okStyle.Render("PASS    ")
	case r.Repaired():
		return okStyle.Render("REPAIRED")
	default:
		return failStyle.Render("FAIL    ")
	}
}

// renderBatch prints one line per notebook followed by the totals.
func renderBatch(w io.Writer, results []batch.Result, s batch.Summary) {
	fmt.Fprintln(w, headerStyle.Render("nbfix batch"))
	for _, r := range results {
		detail := ""
		switch {
		case r.Err != nil:
			detail = r.Err.Error()
		case r.Error != nil:
			detail = r.Error.ErrorType + ": " + r.Error.ErrorMessage
		}
		fmt.Fprintf(w, "  %s %s %s\n", batchStatus(r), r.NotebookPath,
			dimStyle.Render(truncate(detail, 80)))
	}
	fmt.Fprintf(w, "\n  %s %s  %s %s  %s %s  %s %s  %s %s\n",
		labelStyle.Render("total"), valueStyle.Render(fmt.Sprint(s.Total)),
		labelStyle.Render("passed"), okStyle.Render(fmt.Sprint(s.Passed)),
		labelStyle.Render("repaired"), okStyle.Render(fmt.Sprint(s.Repaired)),
		labelStyle.Render("failed"), failStyle.Render(fmt.Sprint(s.Failed)),
		labelStyle.Render("errored"), warnStyle.Render(fmt.Sprint(s.Errored)),
	)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func truncateLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[:n], "\n") + "\n..."
}

func indent(s, prefix string) string {
	return prefix + strings.ReplaceAll(s, "\n", "\n"+prefix)
}
