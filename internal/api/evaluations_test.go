package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/mseval/internal/manuscript/manuscripttest"
)

func writeTemp(t *testing.T, name string, data []byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	return path
}

func TestUploadManuscript_Scenario(t *testing.T) {
	pdf := manuscripttest.PDF(2, 2*1024*1024)
	path := writeTemp(t, "thesis.pdf", pdf)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/upload/evaluate", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Regexp(t, `^multipart/form-data; boundary=`, r.Header.Get("Content-Type"))

		require.NoError(t, r.ParseMultipartForm(8<<20))
		assert.Equal(t, []string{"standard", "rubric"}, r.MultipartForm.Value["evaluation_methods"])
		assert.Equal(t, []string{"3", "5"}, r.MultipartForm.Value["selected_templates"])

		files := r.MultipartForm.File["file"]
		require.Len(t, files, 1)
		assert.Equal(t, "thesis.pdf", files[0].Filename)
		assert.Equal(t, "application/pdf", files[0].Header.Get("Content-Type"))

		f, err := files[0].Open()
		require.NoError(t, err)
		defer f.Close()

		got, err := io.ReadAll(f)
		require.NoError(t, err)
		assert.Equal(t, pdf, got)

		writeJSON(w, http.StatusOK, map[string]any{
			"evaluation_id": 41,
			"status":        "completed",
			"results": map[string]any{
				"categories": map[string]any{
					"originality":  80,
					"methodology":  map[string]any{"score": 85, "feedback": "Sound design", "strengths": []string{"controls"}},
					"clarity":      90,
					"structure":    75,
					"significance": 70,
					"references":   88,
				},
			},
		})
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, &fakeSession{token: "tok"})
	r := client.UploadManuscript(t.Context(), UploadRequest{
		Path:        path,
		Methods:     []string{"standard", " ", "rubric"},
		TemplateIDs: []ID{"3", "5"},
	})
	require.True(t, r.Success, r.Error)

	assert.Equal(t, ID("41"), r.Data.EvaluationID)
	require.NotNil(t, r.Data.Results)
	assert.Len(t, r.Data.Results.Categories, len(Categories))
	assert.Equal(t, "Sound design", r.Data.Results.Categories[CategoryMethodology].Feedback)

	score, ok := r.Data.OverallScore()
	require.True(t, ok)
	// (80+85+90+75+70+88)/6 = 81.33
	assert.Equal(t, 81, score)
}

func TestUploadManuscript_TimeoutIsUploadTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(100 * time.Millisecond)
		writeJSON(w, http.StatusOK, map[string]any{"evaluation_id": 1})
	}))
	defer srv.Close()

	client := NewClient(Config{
		BaseURL:       srv.URL,
		Timeout:       10 * time.Millisecond,
		UploadTimeout: 5 * time.Second,
	}, http.DefaultClient, nil, nil)

	r := client.UploadManuscript(t.Context(), UploadRequest{
		Path:    writeTemp(t, "draft.txt", []byte("chapter one")),
		Methods: []string{"standard"},
	})
	require.True(t, r.Success, r.Error)
}

func TestUploadManuscript_ReplaySendsSameBody(t *testing.T) {
	var (
		calls  atomic.Int32
		bodies [2][]byte
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		body, _ := io.ReadAll(r.Body)
		bodies[n-1] = body

		if n == 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Token has expired"})
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{"evaluation_id": 9, "status": "processing"})
	}))
	defer srv.Close()

	session := &fakeSession{token: "old", next: "new"}
	client := newTestClient(t, srv.URL, session)

	r := client.UploadManuscript(t.Context(), UploadRequest{
		Path:    writeTemp(t, "paper.pdf", manuscripttest.PDF(1, 0)),
		Methods: []string{"standard"},
	})
	require.True(t, r.Success, r.Error)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, bodies[0], bodies[1])
	assert.Equal(t, StatusProcessing, r.Data.Status)
}

func TestUploadManuscript_Validation(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, MaxUploadSize: 1024}, nil, nil, nil)
	dir := t.TempDir()

	tests := []struct {
		name    string
		req     UploadRequest
		message string
	}{
		{"no methods", UploadRequest{Path: "x.pdf"}, "Select at least one evaluation method."},
		{"no file", UploadRequest{Methods: []string{"standard"}}, "Please select a file to upload."},
		{"missing", UploadRequest{Path: filepath.Join(dir, "gone.pdf"), Methods: []string{"standard"}}, "File not found: gone.pdf"},
		{"unsupported", UploadRequest{Path: writeTemp(t, "pic.png", []byte("png")), Methods: []string{"standard"}},
			"Unsupported file type. Allowed: .doc, .docx, .pdf, .txt."},
		{"empty", UploadRequest{Path: writeTemp(t, "empty.txt", nil), Methods: []string{"standard"}}, "The selected file is empty."},
		{"too large", UploadRequest{Path: writeTemp(t, "big.txt", make([]byte, 4096)), Methods: []string{"standard"}},
			"The file is too large. The maximum size is 1 KB."},
		{"corrupt pdf", UploadRequest{Path: writeTemp(t, "bad.pdf", []byte("%PDF-1.4 junk")), Methods: []string{"standard"}},
			"The PDF could not be read. Please check the file and try again."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := client.UploadManuscript(t.Context(), tt.req)
			require.False(t, r.Success)
			assert.Equal(t, tt.message, r.Error)
		})
	}

	assert.Zero(t, calls.Load())
}

func TestEncodeMultipart_NormalisesFilename(t *testing.T) {
	decomposed := "re\u0301sume\u0301.txt"
	body, ct, err := encodeMultipart(decomposed, "text/plain", []byte("x"), nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Content-Type", ct)
	req.Body = io.NopCloser(bytes.NewReader(body))

	require.NoError(t, req.ParseMultipartForm(1<<20))
	assert.Equal(t, "r\u00e9sum\u00e9.txt", req.MultipartForm.File["file"][0].Filename)
}

func TestCategoryScore_Decode(t *testing.T) {
	var scores map[Category]CategoryScore
	err := json.Unmarshal([]byte(`{
		"clarity": 72.5,
		"structure": {"score": 64, "feedback": "Loose", "improvements": ["tighten sections"]}
	}`), &scores)
	require.NoError(t, err)

	assert.InDelta(t, 72.5, scores[CategoryClarity].Score, 0.001)
	assert.InDelta(t, 64, scores[CategoryStructure].Score, 0.001)
	assert.Equal(t, []string{"tighten sections"}, scores[CategoryStructure].Improvements)

	var bad CategoryScore
	assert.Error(t, json.Unmarshal([]byte(`"high"`), &bad))
}

func TestEvaluation_OverallScore(t *testing.T) {
	server := 77.0

	tests := []struct {
		name   string
		eval   Evaluation
		want   int
		wantOK bool
	}{
		{"half rounds up", Evaluation{Results: &Results{Categories: map[Category]CategoryScore{
			CategoryClarity: {Score: 80}, CategoryStructure: {Score: 81},
		}}}, 81, true},
		{"unknown categories ignored", Evaluation{Results: &Results{Categories: map[Category]CategoryScore{
			CategoryClarity: {Score: 60}, "tone": {Score: 100},
		}}}, 60, true},
		{"server fallback", Evaluation{ServerOverall: &server, Results: &Results{}}, 77, true},
		{"results fallback wins", Evaluation{ServerOverall: &server, Results: &Results{OverallScore: ptr(66.4)}}, 66, true},
		{"nothing", Evaluation{}, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.eval.OverallScore()
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("null category is absent", func(t *testing.T) {
		var e Evaluation
		require.NoError(t, json.Unmarshal([]byte(`{"id": 3, "results": {"categories": {
			"originality": 80, "methodology": 80, "clarity": 80,
			"structure": 80, "significance": {"score": 80}, "references": null
		}}}`), &e))

		_, ok := e.Score(CategoryReferences)
		assert.False(t, ok)
		assert.Len(t, e.Results.Categories, 5)

		got, ok := e.OverallScore()
		assert.True(t, ok)
		assert.Equal(t, 80, got)
	})

	t.Run("all categories null uses server score", func(t *testing.T) {
		var e Evaluation
		require.NoError(t, json.Unmarshal([]byte(`{"overall_score": 71.6,
			"results": {"categories": {"clarity": null}}}`), &e))

		got, ok := e.OverallScore()
		assert.True(t, ok)
		assert.Equal(t, 72, got)
	})
}

func TestGetEvaluation_Decode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/upload/evaluation/8", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"id": 8, "original_filename": "novel.docx", "status": "completed",
			"created_at": "2024-05-02T09:30:00Z", "overall_score": 70,
			"evaluation_methods": ["standard"],
			"results": {"categories": {"originality": 90}, "summary": "Strong"}
		}`))
	}))
	defer srv.Close()

	r := newTestClient(t, srv.URL, nil).GetEvaluation(t.Context(), "8")
	require.True(t, r.Success, r.Error)

	e := r.Data
	assert.Equal(t, "novel.docx", e.OriginalFilename)
	assert.Equal(t, StatusCompleted, e.Status)
	assert.True(t, e.Status.Terminal())
	assert.Equal(t, "Strong", e.Results.Summary)
	assert.Equal(t, time.May, e.CreatedAt.Month())

	s, ok := e.Score(CategoryOriginality)
	assert.True(t, ok)
	assert.InDelta(t, 90, s.Score, 0.001)

	overall, _ := e.OverallScore()
	assert.Equal(t, 90, overall)
}

func paginatedServer(t *testing.T, total int) (*httptest.Server, *atomic.Int32) {
	t.Helper()

	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/user/evaluations", r.URL.Path)

		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
		pages := (total + perPage - 1) / perPage

		var items []map[string]any
		for i := (page - 1) * perPage; i < total && i < page*perPage; i++ {
			items = append(items, map[string]any{"id": i + 1, "status": "completed"})
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"evaluations": items, "total": total, "page": page, "per_page": perPage, "total_pages": pages,
		})
	}))
	t.Cleanup(srv.Close)

	return srv, &calls
}

func TestGetEvaluations_AllPagesIdempotent(t *testing.T) {
	srv, calls := paginatedServer(t, 250)
	client := newTestClient(t, srv.URL, &fakeSession{token: "tok"})

	first := client.GetEvaluations(t.Context())
	require.True(t, first.Success, first.Error)
	assert.Len(t, first.Data, 250)
	assert.Equal(t, int32(3), calls.Load())

	second := client.GetEvaluations(t.Context())
	require.True(t, second.Success, second.Error)
	assert.Equal(t, first.Data, second.Data)
}

func TestGetEvaluations_WithoutTotalPages(t *testing.T) {
	tests := []struct {
		name      string
		total     int
		sendTotal bool
		wantCalls int32
	}{
		{"total only", 150, true, 2},
		{"short page ends", 150, false, 2},
		{"full last page needs an empty page", 200, false, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)

				page, _ := strconv.Atoi(r.URL.Query().Get("page"))
				perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))

				items := []map[string]any{}
				for i := (page - 1) * perPage; i < tt.total && i < page*perPage; i++ {
					items = append(items, map[string]any{"id": i + 1, "status": "completed"})
				}

				body := map[string]any{"evaluations": items}
				if tt.sendTotal {
					body["total"] = tt.total
				}

				writeJSON(w, http.StatusOK, body)
			}))
			defer srv.Close()

			r := newTestClient(t, srv.URL, &fakeSession{token: "tok"}).GetEvaluations(t.Context())
			require.True(t, r.Success, r.Error)
			assert.Len(t, r.Data, tt.total)
			assert.Equal(t, tt.wantCalls, calls.Load())
		})
	}
}

func TestGetEvaluations_Empty(t *testing.T) {
	srv, _ := paginatedServer(t, 0)

	r := newTestClient(t, srv.URL, nil).GetEvaluations(t.Context())
	require.True(t, r.Success, r.Error)
	assert.NotNil(t, r.Data)
	assert.Empty(t, r.Data)
}

func TestListEvaluations_Query(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "10", r.URL.Query().Get("per_page"))
		writeJSON(w, http.StatusOK, map[string]any{"evaluations": []any{}, "page": 2, "per_page": 10})
	}))
	defer srv.Close()

	r := newTestClient(t, srv.URL, nil).ListEvaluations(t.Context(), ListOptions{Page: 2, PerPage: 10})
	require.True(t, r.Success, r.Error)
	assert.Equal(t, 2, r.Data.Page)
}

func TestUpdateEvaluation_Validation(t *testing.T) {
	client := newTestClient(t, "http://127.0.0.1:0", nil)

	empty := ""
	assert.Equal(t, "Nothing to update.", client.UpdateEvaluation(t.Context(), "1", EvaluationUpdate{}).Error)
	assert.Equal(t, "The name cannot be empty.", client.UpdateEvaluation(t.Context(), "1", EvaluationUpdate{OriginalFilename: &empty}).Error)
	assert.Equal(t, "An evaluation id is required.", client.DeleteEvaluation(t.Context(), "").Error)
}

func TestBulkDeleteEvaluations(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/user/evaluations/bulk-delete", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		raw, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"evaluation_ids":[1,2,3]}`, string(raw))

		writeJSON(w, http.StatusOK, map[string]any{"deleted_count": 2, "failed_ids": []int{3}})
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, &fakeSession{token: "tok"})
	r := client.BulkDeleteEvaluations(t.Context(), []ID{"1", "2", "3"})
	require.True(t, r.Success, r.Error)
	assert.Equal(t, 2, r.Data.DeletedCount)
	assert.Equal(t, []ID{"3"}, r.Data.FailedIDs)

	assert.Equal(t, "Select at least one evaluation.", client.BulkDeleteEvaluations(t.Context(), nil).Error)
	assert.Equal(t, int32(1), calls.Load())
}

func TestBulkDeleteEvaluations_NotRetried(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	r := newTestClient(t, srv.URL, nil).BulkDeleteEvaluations(t.Context(), []ID{"1"})
	require.False(t, r.Success)
	assert.Equal(t, int32(1), calls.Load())
}

func TestWaitForEvaluation_PollsUntilTerminal(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		status := "processing"
		if calls.Add(1) >= 3 {
			status = "completed"
		}

		writeJSON(w, http.StatusOK, map[string]any{"id": 5, "status": status})
	}))
	defer srv.Close()

	rec := &sleepRecorder{}
	client := newTestClient(t, srv.URL, nil)
	client.sleepFunc = rec.sleep

	r := client.WaitForEvaluation(t.Context(), "5", 2*time.Second)
	require.True(t, r.Success, r.Error)
	assert.Equal(t, StatusCompleted, r.Data.Status)
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, rec.delays)
}

func TestWaitForEvaluation_FailedIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"id": 5, "status": "failed"})
	}))
	defer srv.Close()

	r := newTestClient(t, srv.URL, nil).WaitForEvaluation(t.Context(), "5", 0)
	require.True(t, r.Success, r.Error)
	assert.Equal(t, StatusFailed, r.Data.Status)
}

func TestWaitForEvaluation_Canceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"id": 5, "status": "pending"})
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, nil)
	client.sleepFunc = timeSleep

	ctx, cancel := context.WithTimeout(t.Context(), 30*time.Millisecond)
	defer cancel()

	r := client.WaitForEvaluation(ctx, "5", time.Hour)
	require.False(t, r.Success)
	assert.ErrorIs(t, r.Err, ErrCanceled)
}

func TestID_JSON(t *testing.T) {
	var ids []ID
	require.NoError(t, json.Unmarshal([]byte(`[7, "abc", null]`), &ids))
	assert.Equal(t, []ID{"7", "abc", ""}, ids)

	out, err := json.Marshal([]ID{"7", "abc", "007", "+5", "-3", "0"})
	require.NoError(t, err)
	assert.JSONEq(t, `[7, "abc", "007", "+5", -3, 0]`, string(out))
}

func TestBulkDeleteEvaluations_NonCanonicalIDs(t *testing.T) {
	var hits atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)

		var body struct {
			IDs []json.RawMessage `json:"evaluation_ids"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if assert.Len(t, body.IDs, 2) {
			assert.JSONEq(t, `"007"`, string(body.IDs[0]))
			assert.JSONEq(t, `8`, string(body.IDs[1]))
		}

		writeJSON(w, http.StatusOK, map[string]any{"deleted_count": 2})
	}))
	defer srv.Close()

	r := newTestClient(t, srv.URL, &fakeSession{token: "tok"}).BulkDeleteEvaluations(t.Context(), []ID{"007", "8"})
	require.True(t, r.Success, r.Error)
	assert.Equal(t, 2, r.Data.DeletedCount)
	assert.Equal(t, int32(1), hits.Load())
}

func TestTimestamp_Layouts(t *testing.T) {
	for _, raw := range []string{`"2024-01-02T03:04:05Z"`, `"2024-01-02T03:04:05.123456"`, `"2024-01-02 03:04:05"`, `"2024-01-02"`} {
		var ts Timestamp
		require.NoError(t, json.Unmarshal([]byte(raw), &ts), raw)
		assert.Equal(t, 2024, ts.Year(), raw)
		assert.Equal(t, time.January, ts.Month(), raw)
	}

	var ts Timestamp
	require.NoError(t, json.Unmarshal([]byte(`null`), &ts))
	assert.True(t, ts.IsZero())
	assert.Error(t, json.Unmarshal([]byte(`"yesterday"`), &ts))
}

func ptr[T any](v T) *T {
	return &v
}
