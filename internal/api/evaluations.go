package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	// DefaultPollInterval is the WaitForEvaluation cadence when none is given.
	DefaultPollInterval = 5 * time.Second

	listPageSize = 100
	maxListPages = 1000
)

// EvaluationStatus is the backend processing state.
type EvaluationStatus string

// Evaluation states.
const (
	StatusPending    EvaluationStatus = "pending"
	StatusProcessing EvaluationStatus = "processing"
	StatusCompleted  EvaluationStatus = "completed"
	StatusFailed     EvaluationStatus = "failed"
)

// Terminal reports whether the evaluation will not change state again.
func (s EvaluationStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Category is one of the fixed scoring dimensions.
type Category string

// Scoring dimensions.
const (
	CategoryOriginality  Category = "originality"
	CategoryMethodology  Category = "methodology"
	CategoryClarity      Category = "clarity"
	CategoryStructure    Category = "structure"
	CategorySignificance Category = "significance"
	CategoryReferences   Category = "references"
)

// Categories lists the scoring dimensions in display order.
var Categories = []Category{
	CategoryOriginality,
	CategoryMethodology,
	CategoryClarity,
	CategoryStructure,
	CategorySignificance,
	CategoryReferences,
}

// CategoryScore is the result for one dimension. The backend sends either a
// bare number or an object with feedback.
type CategoryScore struct {
	Score        float64  `json:"score"`
	Feedback     string   `json:"feedback,omitempty"`
	Strengths    []string `json:"strengths,omitempty"`
	Improvements []string `json:"improvements,omitempty"`
}

// UnmarshalJSON accepts a number or a score object.
func (s *CategoryScore) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)

	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*s = CategoryScore{Score: n}
		return nil
	}

	type plain CategoryScore

	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("decoding category score: %w", err)
	}

	*s = CategoryScore(p)

	return nil
}

// Results is the scoring block of an evaluation.
type Results struct {
	Categories   map[Category]CategoryScore `json:"categories"`
	OverallScore *float64                   `json:"overall_score,omitempty"`
	Summary      string                     `json:"summary,omitempty"`
}

// UnmarshalJSON drops categories sent as null: a dimension the backend has
// not scored is absent, not zero.
func (r *Results) UnmarshalJSON(data []byte) error {
	type plain Results

	var wire struct {
		plain
		Categories map[Category]json.RawMessage `json:"categories"`
	}

	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("decoding results: %w", err)
	}

	*r = Results(wire.plain)
	r.Categories = nil

	if wire.Categories != nil {
		r.Categories = make(map[Category]CategoryScore, len(wire.Categories))
	}

	for c, raw := range wire.Categories {
		if isNull(raw) {
			continue
		}

		var s CategoryScore
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}

		r.Categories[c] = s
	}

	return nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)

	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// Evaluation is a backend scoring record.
type Evaluation struct {
	ID               ID               `json:"id"`
	OriginalFilename string           `json:"original_filename"`
	Status           EvaluationStatus `json:"status"`
	Results          *Results         `json:"results,omitempty"`
	ServerOverall    *float64         `json:"overall_score,omitempty"`
	Methods          []string         `json:"evaluation_methods,omitempty"`
	Notes            string           `json:"notes,omitempty"`
	FileSize         int64            `json:"file_size,omitempty"`
	CreatedAt        Timestamp        `json:"created_at,omitzero"`
	CompletedAt      Timestamp        `json:"completed_at,omitzero"`
}

// Score returns the score for category, if present.
func (e *Evaluation) Score(category Category) (CategoryScore, bool) {
	if e.Results == nil {
		return CategoryScore{}, false
	}

	s, ok := e.Results.Categories[category]

	return s, ok
}

// OverallScore is the rounded mean of the fixed categories present, or the
// server's own overall score when no category is present.
func (e *Evaluation) OverallScore() (int, bool) {
	fallback := e.ServerOverall
	if e.Results != nil && e.Results.OverallScore != nil {
		fallback = e.Results.OverallScore
	}

	return overallScore(e.Results, fallback)
}

// UploadResult is the answer to a manuscript upload.
type UploadResult struct {
	EvaluationID ID               `json:"evaluation_id"`
	Status       EvaluationStatus `json:"status,omitempty"`
	Results      *Results         `json:"results,omitempty"`
	Message      string           `json:"message,omitempty"`
}

// OverallScore applies the Evaluation rule to the upload response.
func (u *UploadResult) OverallScore() (int, bool) {
	var fallback *float64
	if u.Results != nil {
		fallback = u.Results.OverallScore
	}

	return overallScore(u.Results, fallback)
}

func overallScore(results *Results, fallback *float64) (int, bool) {
	if results != nil {
		var (
			sum float64
			n   int
		)

		for _, c := range Categories {
			if s, ok := results.Categories[c]; ok {
				sum += s.Score
				n++
			}
		}

		if n > 0 {
			return int(math.Round(sum / float64(n))), true
		}
	}

	if fallback != nil {
		return int(math.Round(*fallback)), true
	}

	return 0, false
}

// EvaluationPage is one page of the user's evaluations.
type EvaluationPage struct {
	Evaluations []Evaluation `json:"evaluations"`
	Total       int          `json:"total"`
	Page        int          `json:"page"`
	PerPage     int          `json:"per_page"`
	TotalPages  int          `json:"total_pages"`
}

// ListOptions selects a page. Zero values use the backend defaults.
type ListOptions struct {
	Page    int
	PerPage int
}

// EvaluationUpdate is a partial update; nil fields are left unchanged.
type EvaluationUpdate struct {
	OriginalFilename *string `json:"original_filename,omitempty"`
	Notes            *string `json:"notes,omitempty"`
}

// BulkDeleteResult reports a bulk delete.
type BulkDeleteResult struct {
	DeletedCount int  `json:"deleted_count"`
	FailedIDs    []ID `json:"failed_ids,omitempty"`
}

func evaluationPath(id ID) string {
	return "/user/evaluations/" + url.PathEscape(id.String())
}

func requireID(id ID) error {
	if id == "" {
		return invalid("id", "An evaluation id is required.")
	}

	return nil
}

// GetEvaluation fetches one evaluation. Retried.
func (c *Client) GetEvaluation(ctx context.Context, id ID) Result[Evaluation] {
	if err := requireID(id); err != nil {
		return Fail[Evaluation](err)
	}

	var out Evaluation
	if err := c.getJSON(ctx, "/upload/evaluation/"+url.PathEscape(id.String()), nil, &out); err != nil {
		return Fail[Evaluation](err)
	}

	if out.ID == "" {
		out.ID = id
	}

	return OK(out)
}

// ListEvaluations fetches one page. Retried.
func (c *Client) ListEvaluations(ctx context.Context, opts ListOptions) Result[EvaluationPage] {
	query := url.Values{}
	if opts.Page > 0 {
		query.Set("page", strconv.Itoa(opts.Page))
	}

	if opts.PerPage > 0 {
		query.Set("per_page", strconv.Itoa(opts.PerPage))
	}

	var out EvaluationPage
	if err := c.getJSON(ctx, "/user/evaluations", query, &out); err != nil {
		return Fail[EvaluationPage](err)
	}

	return OK(out)
}

// GetEvaluations fetches every page and concatenates them.
func (c *Client) GetEvaluations(ctx context.Context) Result[[]Evaluation] {
	var all []Evaluation

	for page := 1; page <= maxListPages; page++ {
		r := c.ListEvaluations(ctx, ListOptions{Page: page, PerPage: listPageSize})
		if !r.Success {
			return failAs[[]Evaluation](r)
		}

		all = append(all, r.Data.Evaluations...)

		if lastPage(r.Data, page, len(all)) {
			break
		}
	}

	if all == nil {
		all = []Evaluation{}
	}

	return OK(all)
}

// lastPage decides when GetEvaluations stops: at total_pages when the
// backend sends it, else once total records arrived, else on a short page.
func lastPage(p EvaluationPage, page, fetched int) bool {
	switch {
	case len(p.Evaluations) == 0:
		return true
	case p.TotalPages > 0:
		return page >= p.TotalPages
	case p.Total > 0:
		return fetched >= p.Total
	default:
		return len(p.Evaluations) < listPageSize
	}
}

// UpdateEvaluation renames an evaluation or edits its notes. Not retried.
func (c *Client) UpdateEvaluation(ctx context.Context, id ID, update EvaluationUpdate) Result[Evaluation] {
	if err := requireID(id); err != nil {
		return Fail[Evaluation](err)
	}

	if update.OriginalFilename == nil && update.Notes == nil {
		return Fail[Evaluation](invalid("", "Nothing to update."))
	}

	if update.OriginalFilename != nil && *update.OriginalFilename == "" {
		return Fail[Evaluation](invalid("original_filename", "The name cannot be empty."))
	}

	var out Evaluation
	if err := c.sendJSON(ctx, http.MethodPut, evaluationPath(id), update, &out); err != nil {
		return Fail[Evaluation](err)
	}

	return OK(out)
}

// DeleteEvaluation removes one evaluation. Not retried.
func (c *Client) DeleteEvaluation(ctx context.Context, id ID) Result[Message] {
	if err := requireID(id); err != nil {
		return Fail[Message](err)
	}

	var out Message
	if err := c.sendJSON(ctx, http.MethodDelete, evaluationPath(id), nil, &out); err != nil {
		return Fail[Message](err)
	}

	return OK(out)
}

// BulkDeleteEvaluations removes several evaluations in one call. Not retried.
func (c *Client) BulkDeleteEvaluations(ctx context.Context, ids []ID) Result[BulkDeleteResult] {
	if len(ids) == 0 {
		return Fail[BulkDeleteResult](invalid("evaluation_ids", "Select at least one evaluation."))
	}

	for _, id := range ids {
		if err := requireID(id); err != nil {
			return Fail[BulkDeleteResult](err)
		}
	}

	var out BulkDeleteResult
	body := map[string][]ID{"evaluation_ids": ids}

	if err := c.sendJSON(ctx, http.MethodPost, "/user/evaluations/bulk-delete", body, &out); err != nil {
		return Fail[BulkDeleteResult](err)
	}

	return OK(out)
}

// WaitForEvaluation polls until the evaluation completes or fails, or ctx
// ends. A failed evaluation is still a successful wait; check Status.
func (c *Client) WaitForEvaluation(ctx context.Context, id ID, interval time.Duration) Result[Evaluation] {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	for polls := 1; ; polls++ {
		r := c.GetEvaluation(ctx, id)
		if !r.Success {
			return r
		}

		if r.Data.Status.Terminal() {
			c.logger.Debug("evaluation finished",
				slog.String("id", id.String()),
				slog.String("status", string(r.Data.Status)),
				slog.Int("polls", polls),
			)

			return r
		}

		c.logger.Debug("evaluation still running",
			slog.String("id", id.String()),
			slog.String("status", string(r.Data.Status)),
			slog.Duration("next_poll", interval),
		)

		if err := c.sleepFunc(ctx, interval); err != nil {
			return Fail[Evaluation](fmt.Errorf("%w: %w", ErrCanceled, err))
		}
	}
}
