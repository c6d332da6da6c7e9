package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/tonimelisma/mseval/internal/manuscript"
)

// Template is a user-supplied spreadsheet of evaluation criteria.
type Template struct {
	ID               ID        `json:"id"`
	Name             string    `json:"name"`
	Description      string    `json:"description,omitempty"`
	TemplateType     string    `json:"template_type,omitempty"`
	IsDefault        bool      `json:"is_default"`
	IsActive         bool      `json:"is_active"`
	FileSize         int64     `json:"file_size,omitempty"`
	OriginalFilename string    `json:"original_filename,omitempty"`
	CreatedAt        Timestamp `json:"created_at,omitzero"`
}

// NewTemplate is the create form.
type NewTemplate struct {
	Path         string
	Name         string
	Description  string
	TemplateType string
	IsDefault    bool
}

// TemplateUpdate is a partial update; nil fields are left unchanged.
type TemplateUpdate struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	IsDefault   *bool   `json:"is_default,omitempty"`
	IsActive    *bool   `json:"is_active,omitempty"`
}

const defaultTemplateType = "custom"

func templatePath(id ID) string {
	return "/templates/" + url.PathEscape(id.String())
}

func requireTemplateID(id ID) error {
	if id == "" {
		return invalid("id", "A template id is required.")
	}

	return nil
}

// ListTemplates fetches the user's templates. Retried. The backend answers
// with a bare array or an object wrapping one.
func (c *Client) ListTemplates(ctx context.Context) Result[[]Template] {
	var raw json.RawMessage
	if err := c.getJSON(ctx, "/templates", nil, &raw); err != nil {
		return Fail[[]Template](err)
	}

	out := []Template{}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var wrapped struct {
			Templates []Template `json:"templates"`
		}

		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return Fail[[]Template](fmt.Errorf("%w: %w", ErrDecode, err))
		}

		if wrapped.Templates != nil {
			out = wrapped.Templates
		}

		return OK(out)
	}

	if len(trimmed) > 0 {
		if err := json.Unmarshal(trimmed, &out); err != nil {
			return Fail[[]Template](fmt.Errorf("%w: %w", ErrDecode, err))
		}
	}

	return OK(out)
}

// GetTemplate fetches one template. Retried.
func (c *Client) GetTemplate(ctx context.Context, id ID) Result[Template] {
	if err := requireTemplateID(id); err != nil {
		return Fail[Template](err)
	}

	var out Template
	if err := c.getJSON(ctx, templatePath(id), nil, &out); err != nil {
		return Fail[Template](err)
	}

	return OK(out)
}

// CreateTemplate uploads a criteria spreadsheet. Not retried.
func (c *Client) CreateTemplate(ctx context.Context, t NewTemplate) Result[Template] {
	name := strings.TrimSpace(t.Name)
	if name == "" {
		return Fail[Template](invalid("name", "Please enter a template name."))
	}

	info, data, err := c.readUpload(t.Path, manuscript.KindTemplate)
	if err != nil {
		return Fail[Template](err)
	}

	kind := strings.TrimSpace(t.TemplateType)
	if kind == "" {
		kind = defaultTemplateType
	}

	fields := []formField{
		{name: "name", value: name},
		{name: "description", value: strings.TrimSpace(t.Description)},
		{name: "template_type", value: kind},
		{name: "is_default", value: strconv.FormatBool(t.IsDefault)},
	}

	var out Template
	if err := c.postMultipart(ctx, "/templates", info, data, fields, &out); err != nil {
		return Fail[Template](err)
	}

	return OK(out)
}

// UpdateTemplate edits template metadata. Not retried.
func (c *Client) UpdateTemplate(ctx context.Context, id ID, update TemplateUpdate) Result[Template] {
	if err := requireTemplateID(id); err != nil {
		return Fail[Template](err)
	}

	if update == (TemplateUpdate{}) {
		return Fail[Template](invalid("", "Nothing to update."))
	}

	if update.Name != nil && strings.TrimSpace(*update.Name) == "" {
		return Fail[Template](invalid("name", "The template name cannot be empty."))
	}

	var out Template
	if err := c.sendJSON(ctx, http.MethodPut, templatePath(id), update, &out); err != nil {
		return Fail[Template](err)
	}

	return OK(out)
}

// DeleteTemplate removes a template. Not retried.
func (c *Client) DeleteTemplate(ctx context.Context, id ID) Result[Message] {
	if err := requireTemplateID(id); err != nil {
		return Fail[Message](err)
	}

	var out Message
	if err := c.sendJSON(ctx, http.MethodDelete, templatePath(id), nil, &out); err != nil {
		return Fail[Message](err)
	}

	return OK(out)
}

// DownloadTemplate saves a template's spreadsheet to dest. When dest is a
// directory the server's filename is used, falling back to template-<id>.
func (c *Client) DownloadTemplate(ctx context.Context, id ID, dest string) Result[SavedFile] {
	if err := requireTemplateID(id); err != nil {
		return Fail[SavedFile](err)
	}

	req := c.newRequest(http.MethodGet, templatePath(id)+"/download", nil)
	req.timeout = c.uploadTimeout

	resp, err := c.exchangeRead(ctx, req)
	if err != nil {
		return Fail[SavedFile](err)
	}

	name := attachmentName(resp.header)
	if name == "" {
		name = "template-" + id.String()
	}

	path := destination(dest, name)
	if err := saveAtomic(path, resp.body); err != nil {
		return Fail[SavedFile](&ValidationError{Field: "dest", Message: "The template could not be saved: " + err.Error(), Err: err})
	}

	return OK(SavedFile{Path: path, Bytes: int64(len(resp.body))})
}
