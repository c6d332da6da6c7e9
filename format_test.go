package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/mseval/internal/api"
)

func TestFormatSize(t *testing.T) {
	tests := []struct {
		name  string
		bytes int64
		want  string
	}{
		{"zero", 0, "0 B"},
		{"bytes", 512, "512 B"},
		{"kilobytes", 1536, "1.5 KB"},
		{"megabytes", 5242880, "5.0 MB"},
		{"gigabytes", 1610612736, "1.5 GB"},
		{"terabytes", 1099511627776, "1.0 TB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatSize(tt.bytes))
		})
	}
}

func TestFormatTime(t *testing.T) {
	now := time.Now()
	sameYear := time.Date(now.Year(), time.March, 15, 10, 30, 0, 0, time.Local)
	diffYear := time.Date(2020, time.December, 25, 8, 0, 0, 0, time.Local)

	t.Run("same year", func(t *testing.T) {
		result := formatTime(sameYear)
		assert.Contains(t, result, "Mar")
		assert.Contains(t, result, "15")
		assert.Contains(t, result, "10:30")
	})

	t.Run("different year", func(t *testing.T) {
		result := formatTime(diffYear)
		assert.Contains(t, result, "Dec")
		assert.Contains(t, result, "25")
		assert.Contains(t, result, "2020")
	})

	t.Run("zero", func(t *testing.T) {
		assert.Equal(t, "-", formatTime(time.Time{}))
	})
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "Completed", label("completed"))
	assert.Equal(t, "Signed Url", label("signed-url"))
	assert.Equal(t, "Research Quality", label("research_quality"))
	assert.Empty(t, label(""))
}

func TestFormatScore(t *testing.T) {
	assert.Equal(t, "-", formatScore(0, false))
	assert.Equal(t, "0", formatScore(0, true))
	assert.Equal(t, "87", formatScore(87, true))
	assert.Equal(t, "85", formatFloat(85))
	assert.Equal(t, "85.5", formatFloat(85.5))
}

func TestPrintTable(t *testing.T) {
	var buf bytes.Buffer

	headers := []string{"ID", "FILE", "STATUS"}
	rows := [][]string{
		{"1", "chapter-one.pdf", "Completed"},
		{"22", "b.pdf", "Pending"},
	}

	printTable(&buf, headers, rows)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "ID  FILE             STATUS", lines[0])
	assert.Equal(t, "1   chapter-one.pdf  Completed", lines[1])
	assert.Equal(t, "22  b.pdf            Pending", lines[2])
}

func scoredEvaluation() api.Evaluation {
	return api.Evaluation{
		ID:               "7",
		OriginalFilename: "thesis.pdf",
		Status:           api.StatusCompleted,
		Methods:          []string{"standard"},
		Results: &api.Results{
			Categories: map[api.Category]api.CategoryScore{
				api.CategoryStructure: {Score: 80, Feedback: "Clear outline.", Strengths: []string{"logical order"}},
				api.CategoryClarity:   {Score: 91, Improvements: []string{"shorter sentences"}},
			},
			Summary: "A solid draft.",
		},
	}
}

func TestPrintEvaluation(t *testing.T) {
	e := scoredEvaluation()

	var buf bytes.Buffer
	printEvaluation(&buf, &e)

	out := buf.String()
	assert.Contains(t, out, "Evaluation 7")
	assert.Contains(t, out, "thesis.pdf")
	assert.Contains(t, out, "Status:    Completed")
	assert.Contains(t, out, "Overall:   86")
	assert.Contains(t, out, "Clear outline.")
	assert.Contains(t, out, "+ logical order")
	assert.Contains(t, out, "- shorter sentences")
	assert.Contains(t, out, "A solid draft.")
	assert.NotContains(t, out, "Completed:", "no completion time was set")
}

func TestPrintEvaluationsTable_MissingScore(t *testing.T) {
	evals := []api.Evaluation{scoredEvaluation(), {ID: "8", OriginalFilename: "new.pdf", Status: api.StatusPending}}

	var buf bytes.Buffer
	printEvaluationsTable(&buf, evals)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "86")
	assert.Contains(t, lines[2], "Pending")
	assert.Contains(t, lines[2], " - ")
}

func TestToEvaluationJSON(t *testing.T) {
	withScore := toEvaluationJSON(scoredEvaluation())
	require.NotNil(t, withScore.Overall)
	assert.Equal(t, 86, *withScore.Overall)

	assert.Nil(t, toEvaluationJSON(api.Evaluation{ID: "8"}).Overall)
	assert.Empty(t, toEvaluationsJSON(nil))
}
