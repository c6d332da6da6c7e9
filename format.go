package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/tonimelisma/mseval/internal/api"
)

// Statusf prints a status message to stderr unless quiet mode is set.
func (cc *CLIContext) Statusf(format string, args ...any) {
	if !cc.Flags.Quiet {
		fmt.Fprintf(cc.Err, format, args...)
	}
}

// Size unit constants for human-readable formatting.
const (
	sizeKB = 1024
	sizeMB = 1024 * 1024
	sizeGB = 1024 * 1024 * 1024
	sizeTB = 1024 * 1024 * 1024 * 1024
)

// formatSize returns a human-readable size string (e.g. "1.2 MB").
func formatSize(bytes int64) string {
	switch {
	case bytes >= sizeTB:
		return fmt.Sprintf("%.1f TB", float64(bytes)/float64(sizeTB))
	case bytes >= sizeGB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(sizeGB))
	case bytes >= sizeMB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(sizeMB))
	case bytes >= sizeKB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(sizeKB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// formatTime returns a compact local timestamp, or "-" for unknown times.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}

	t = t.Local()

	if t.Year() == time.Now().Year() {
		return t.Format("Jan _2 15:04")
	}

	return t.Format("Jan _2  2006")
}

var titleCaser = cases.Title(language.English)

// label turns an identifier such as "signed-url" or "in_progress" into
// "Signed Url" / "In Progress".
func label(s string) string {
	return titleCaser.String(strings.NewReplacer("_", " ", "-", " ").Replace(s))
}

// formatScore renders a 0-100 score, or "-" when absent.
func formatScore(score int, ok bool) string {
	if !ok {
		return "-"
	}

	return strconv.Itoa(score)
}

// formatFloat drops a trailing ".0" from whole scores.
func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// printTable writes aligned columns to the given writer.
// headers and each row must have the same length.
func printTable(w io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}

	for _, row := range rows {
		for i, cell := range row {
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	printRow(w, headers, widths)

	for _, row := range rows {
		printRow(w, row, widths)
	}
}

// printRow writes a single padded row without trailing spaces.
func printRow(w io.Writer, cells []string, widths []int) {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		parts[i] = fmt.Sprintf("%-*s", widths[i], cell)
	}

	fmt.Fprintln(w, strings.TrimRight(strings.Join(parts, "  "), " "))
}

// evaluationJSON adds the computed overall score to the wire record.
type evaluationJSON struct {
	api.Evaluation
	Overall *int `json:"overall,omitempty"`
}

func toEvaluationJSON(e api.Evaluation) evaluationJSON {
	out := evaluationJSON{Evaluation: e}
	if v, ok := e.OverallScore(); ok {
		out.Overall = &v
	}

	return out
}

func toEvaluationsJSON(evals []api.Evaluation) []evaluationJSON {
	out := make([]evaluationJSON, len(evals))
	for i, e := range evals {
		out[i] = toEvaluationJSON(e)
	}

	return out
}

// printEvaluationsTable renders the list view.
func printEvaluationsTable(w io.Writer, evals []api.Evaluation) {
	rows := make([][]string, 0, len(evals))

	for i := range evals {
		e := &evals[i]
		rows = append(rows, []string{
			e.ID.String(),
			e.OriginalFilename,
			label(string(e.Status)),
			formatScore(e.OverallScore()),
			formatTime(e.CreatedAt.Time),
		})
	}

	printTable(w, []string{"ID", "FILE", "STATUS", "SCORE", "CREATED"}, rows)
}

// printEvaluation renders the detail view.
func printEvaluation(w io.Writer, e *api.Evaluation) {
	fmt.Fprintf(w, "Evaluation %s\n", e.ID)
	fmt.Fprintf(w, "  File:      %s\n", e.OriginalFilename)
	fmt.Fprintf(w, "  Status:    %s\n", label(string(e.Status)))
	fmt.Fprintf(w, "  Submitted: %s\n", formatTime(e.CreatedAt.Time))

	if !e.CompletedAt.IsZero() {
		fmt.Fprintf(w, "  Completed: %s\n", formatTime(e.CompletedAt.Time))
	}

	if len(e.Methods) > 0 {
		fmt.Fprintf(w, "  Methods:   %s\n", strings.Join(e.Methods, ", "))
	}

	if e.Notes != "" {
		fmt.Fprintf(w, "  Notes:     %s\n", e.Notes)
	}

	if overall, ok := e.OverallScore(); ok {
		fmt.Fprintf(w, "  Overall:   %d\n", overall)
	}

	printResults(w, e.Results)
}

// printResults renders the category scores in display order.
func printResults(w io.Writer, r *api.Results) {
	if r == nil || len(r.Categories) == 0 {
		return
	}

	fmt.Fprintln(w)

	for _, c := range api.Categories {
		s, ok := r.Categories[c]
		if !ok {
			continue
		}

		fmt.Fprintf(w, "  %-14s %s\n", label(string(c)), formatFloat(s.Score))

		if s.Feedback != "" {
			fmt.Fprintf(w, "    %s\n", s.Feedback)
		}

		for _, item := range s.Strengths {
			fmt.Fprintf(w, "    + %s\n", item)
		}

		for _, item := range s.Improvements {
			fmt.Fprintf(w, "    - %s\n", item)
		}
	}

	if r.Summary != "" {
		fmt.Fprintf(w, "\n  %s\n", r.Summary)
	}
}
