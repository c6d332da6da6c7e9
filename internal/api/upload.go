package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/tonimelisma/mseval/internal/manuscript"
)

// UploadRequest describes a manuscript submission.
type UploadRequest struct {
	Path        string
	Methods     []string
	TemplateIDs []ID
}

// formField is one scalar multipart field. Repeated names carry lists.
type formField struct {
	name  string
	value string
}

// UploadManuscript inspects the file locally, then submits it for
// evaluation under the upload timeout. The encoded body is built once and
// reused verbatim if the request is replayed after a token refresh.
func (c *Client) UploadManuscript(ctx context.Context, up UploadRequest) Result[UploadResult] {
	methods := nonEmpty(up.Methods)
	if len(methods) == 0 {
		return Fail[UploadResult](invalid("evaluation_methods", "Select at least one evaluation method."))
	}

	info, data, err := c.readUpload(up.Path, manuscript.KindManuscript)
	if err != nil {
		return Fail[UploadResult](err)
	}

	fields := make([]formField, 0, len(methods)+len(up.TemplateIDs))
	for _, m := range methods {
		fields = append(fields, formField{name: "evaluation_methods", value: m})
	}

	for _, id := range up.TemplateIDs {
		if id == "" {
			continue
		}

		fields = append(fields, formField{name: "selected_templates", value: id.String()})
	}

	var out UploadResult
	if err := c.postMultipart(ctx, "/upload/evaluate", info, data, fields, &out); err != nil {
		return Fail[UploadResult](err)
	}

	if out.EvaluationID == "" {
		return Fail[UploadResult](fmt.Errorf("%w: upload response has no evaluation_id", ErrDecode))
	}

	return OK(out)
}

// readUpload validates and reads a local file, turning inspection failures
// into validation errors.
func (c *Client) readUpload(path string, kind manuscript.Kind) (*manuscript.Info, []byte, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil, invalid("file", "Please select a file to upload.")
	}

	info, err := manuscript.Inspect(path, kind, c.maxUploadSize)
	if err != nil {
		return nil, nil, inspectionError(path, kind, c.maxUploadSize, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, &ValidationError{Field: "file", Message: "The file could not be read.", Err: err}
	}

	return info, data, nil
}

func inspectionError(path string, kind manuscript.Kind, maxSize int64, err error) error {
	name := filepath.Base(path)

	var msg string

	switch {
	case errors.Is(err, fs.ErrNotExist):
		msg = "File not found: " + name
	case errors.Is(err, manuscript.ErrNotRegularFile):
		msg = "Please select a file, not a folder."
	case errors.Is(err, manuscript.ErrUnsupportedType):
		msg = fmt.Sprintf("Unsupported file type. Allowed: %s.", strings.Join(manuscript.AllowedExtensions(kind), ", "))
	case errors.Is(err, manuscript.ErrEmptyFile):
		msg = "The selected file is empty."
	case errors.Is(err, manuscript.ErrTooLarge):
		msg = "The file is too large. The maximum size is " + sizeLabel(maxSize) + "."
	case errors.Is(err, manuscript.ErrUnreadablePDF), errors.Is(err, manuscript.ErrNoPages):
		msg = "The PDF could not be read. Please check the file and try again."
	default:
		msg = "The file could not be read."
	}

	return &ValidationError{Field: "file", Message: msg, Err: err}
}

// postMultipart sends a file plus scalar fields. Never retried: a replay
// only happens through the refresh rule.
func (c *Client) postMultipart(ctx context.Context, path string, info *manuscript.Info, data []byte, fields []formField, out any) error {
	body, contentType, err := encodeMultipart(info.Name, info.ContentType, data, fields)
	if err != nil {
		return err
	}

	req := c.newRequest(http.MethodPost, path, nil)
	req.body = body
	req.contentType = contentType
	req.timeout = c.uploadTimeout

	resp, err := c.exchange(ctx, req)
	if err != nil {
		return err
	}

	return decodeJSON(resp, out)
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// encodeMultipart builds the form body: scalar fields first, then the file
// part named "file". The filename is NFC-normalised so a name typed on one
// platform matches the same name listed on another.
func encodeMultipart(filename, fileType string, data []byte, fields []formField) ([]byte, string, error) {
	var buf bytes.Buffer

	w := multipart.NewWriter(&buf)

	for _, f := range fields {
		if err := w.WriteField(f.name, f.value); err != nil {
			return nil, "", fmt.Errorf("api: encoding field %s: %w", f.name, err)
		}
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(norm.NFC.String(filename))))
	h.Set("Content-Type", fileType)

	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("api: creating file part: %w", err)
	}

	if _, err := part.Write(data); err != nil {
		return nil, "", fmt.Errorf("api: writing file part: %w", err)
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("api: closing multipart body: %w", err)
	}

	return buf.Bytes(), w.FormDataContentType(), nil
}

func sizeLabel(n int64) string {
	const mb = 1024 * 1024

	if n >= mb && n%mb == 0 {
		return fmt.Sprintf("%d MB", n/mb)
	}

	if n >= mb {
		return fmt.Sprintf("%.1f MB", float64(n)/mb)
	}

	return fmt.Sprintf("%d KB", (n+1023)/1024)
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))

	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}

	return out
}
