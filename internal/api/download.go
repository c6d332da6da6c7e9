package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/tonimelisma/mseval/internal/manuscript"
)

// SavedFile describes a file written by a download. Strategy is empty for
// single-path downloads.
type SavedFile struct {
	Path     string `json:"path"`
	Bytes    int64  `json:"bytes"`
	Strategy string `json:"strategy,omitempty"`
}

// downloadStrategy is one way of obtaining a report's bytes. DownloadReport
// tries strategies in order until one succeeds.
type downloadStrategy interface {
	name() string
	fetch(ctx context.Context, c *Client, id ID) ([]byte, error)
}

// directDownload fetches the PDF bytes from the report endpoint.
type directDownload struct{}

func (directDownload) name() string { return "direct" }

func (directDownload) fetch(ctx context.Context, c *Client, id ID) ([]byte, error) {
	req := c.newRequest(http.MethodGet, "/upload/public/evaluation/"+url.PathEscape(id.String())+"/download-file", nil)
	req.accept = "application/pdf"
	req.timeout = c.uploadTimeout

	resp, err := c.exchange(ctx, req)
	if err != nil {
		return nil, err
	}

	return requirePDF(resp.body)
}

// signedURLDownload asks for a freshly signed link and fetches it. It covers
// the case where the direct endpoint redirects to a stale signature.
type signedURLDownload struct{}

func (signedURLDownload) name() string { return "signed-url" }

func (signedURLDownload) fetch(ctx context.Context, c *Client, id ID) ([]byte, error) {
	var link struct {
		DownloadURL string `json:"download_url"`
		URL         string `json:"url"`
	}

	req := c.newRequest(http.MethodGet, "/upload/public/evaluation/"+url.PathEscape(id.String())+"/download", nil)
	req.accept = "application/json"

	resp, err := c.exchange(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := decodeJSON(resp, &link); err != nil {
		return nil, err
	}

	raw := link.DownloadURL
	if raw == "" {
		raw = link.URL
	}

	if raw == "" {
		return nil, fmt.Errorf("%w: no download_url in response", ErrDecode)
	}

	target, err := c.resolve(raw)
	if err != nil {
		return nil, err
	}

	// Signed links carry their own authorization.
	blob := &request{
		method:  http.MethodGet,
		url:     target,
		path:    "signed download url",
		accept:  "application/pdf",
		timeout: c.uploadTimeout,
	}

	resp, err = c.exchange(ctx, blob)
	if err != nil {
		return nil, err
	}

	return requirePDF(resp.body)
}

// resolve turns a possibly relative link into an absolute URL on the backend.
func (c *Client) resolve(raw string) (string, error) {
	ref, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: bad download url: %w", ErrDecode, err)
	}

	if ref.IsAbs() {
		return ref.String(), nil
	}

	base, err := url.Parse(c.baseURL + "/")
	if err != nil {
		return "", fmt.Errorf("api: parsing base url: %w", err)
	}

	return base.ResolveReference(ref).String(), nil
}

func requirePDF(body []byte) ([]byte, error) {
	if !manuscript.IsPDF(body) {
		return nil, fmt.Errorf("%w: response is not a PDF (%d bytes)", ErrDecode, len(body))
	}

	return body, nil
}

// ReportFilename is the default file name for an evaluation's report.
func ReportFilename(id ID) string {
	return "evaluation-" + id.String() + "-report.pdf"
}

// DownloadReport saves the PDF report for an evaluation to dest. dest may be
// a directory, in which case ReportFilename is used inside it. Each strategy
// is tried in order; only when all fail is one download error reported.
func (c *Client) DownloadReport(ctx context.Context, id ID, dest string) Result[SavedFile] {
	if err := requireID(id); err != nil {
		return Fail[SavedFile](err)
	}

	path := destination(dest, ReportFilename(id))

	var lastErr error

	for _, s := range c.downloads {
		data, err := s.fetch(ctx, c, id)
		if err != nil {
			lastErr = err

			// Neither a canceled command nor a dead session is helped by the next strategy.
			if errors.Is(err, ErrCanceled) || errors.Is(err, ErrSessionExpired) {
				break
			}

			c.logger.Warn("download strategy failed",
				slog.String("id", id.String()),
				slog.String("strategy", s.name()),
				slog.String("error", err.Error()),
			)

			continue
		}

		if err := saveAtomic(path, data); err != nil {
			return Fail[SavedFile](&ValidationError{Field: "dest", Message: "The report could not be saved: " + err.Error(), Err: err})
		}

		c.logger.Info("report downloaded",
			slog.String("id", id.String()),
			slog.String("strategy", s.name()),
			slog.String("path", path),
			slog.Int("bytes", len(data)),
		)

		return OK(SavedFile{Path: path, Bytes: int64(len(data)), Strategy: s.name()})
	}

	if errors.Is(lastErr, ErrCanceled) {
		return Fail[SavedFile](lastErr)
	}

	return Fail[SavedFile](fmt.Errorf("%w: %w", ErrDownloadFailed, lastErr))
}

// destination resolves dest into a file path. Empty means the working
// directory; an existing directory gets name appended.
func destination(dest, name string) string {
	if dest == "" {
		return name
	}

	if st, err := os.Stat(dest); err == nil && st.IsDir() {
		return filepath.Join(dest, name)
	}

	return dest
}

// saveAtomic writes data next to path and renames it into place so a failed
// or interrupted download never leaves a partial file at path.
func saveAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, ".mseval-*.part")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	// Clean up the temp file on any error path.
	success := false

	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing temp file: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return fmt.Errorf("setting permissions: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming into place: %w", err)
	}

	success = true

	return nil
}

// attachmentName extracts the filename from a Content-Disposition header.
func attachmentName(header http.Header) string {
	_, params, err := mime.ParseMediaType(header.Get("Content-Disposition"))
	if err != nil {
		return ""
	}

	name := filepath.Base(strings.ReplaceAll(params["filename"], "\\", "/"))
	if name == "." || name == "/" || name == ".." {
		return ""
	}

	return name
}
