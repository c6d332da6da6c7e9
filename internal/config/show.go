package config

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// RenderEffective writes the resolved configuration as an annotated
// TOML-like summary. It backs "mseval config show".
func RenderEffective(r *Resolved, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration\n")
	ew.printf("# config file:  %s\n", orNone(r.ConfigPath))
	ew.printf("# session file: %s\n", orNone(r.SessionPath))
	ew.printf("# history:      %s\n\n", orNone(r.HistoryPath))

	ew.printf("[server]\n")
	ew.printf("  base_url    = %q\n", r.BaseURL)
	ew.printf("  environment = %q\n\n", r.Environment)

	ew.printf("[network]\n")
	ew.printf("  request_timeout = %q\n", r.RequestTimeout)
	ew.printf("  upload_timeout  = %q\n", r.UploadTimeout)
	ew.printf("  connect_timeout = %q\n", r.ConnectTimeout)

	if r.UserAgent != "" {
		ew.printf("  user_agent      = %q\n", r.UserAgent)
	}

	ew.printf("\n[upload]\n")
	ew.printf("  max_file_size   = %d\n", r.MaxFileSize)
	ew.printf("  default_methods = [%s]\n\n", joinQuoted(r.DefaultMethods))

	ew.printf("[polling]\n")
	ew.printf("  interval = %q\n", r.PollInterval)
	ew.printf("  timeout  = %q\n\n", r.PollTimeout)

	ew.printf("[download]\n")
	ew.printf("  dir      = %q\n", r.DownloadDir)
	ew.printf("  parallel = %d\n\n", r.DownloadParallel)

	ew.printf("[logging]\n")
	ew.printf("  log_level  = %q\n", r.LogLevel)
	ew.printf("  log_format = %q\n", r.LogFormat)

	if r.LogFile != "" {
		ew.printf("  log_file   = %q\n", r.LogFile)
	}

	return ew.err
}

// RenderEffectiveJSON writes the resolved configuration as indented JSON.
// Durations are rendered as strings.
func RenderEffectiveJSON(r *Resolved, w io.Writer) error {
	type alias Resolved

	out := struct {
		alias
		RequestTimeout string `json:"request_timeout"`
		UploadTimeout  string `json:"upload_timeout"`
		ConnectTimeout string `json:"connect_timeout"`
		PollInterval   string `json:"poll_interval"`
		PollTimeout    string `json:"poll_timeout"`
	}{
		alias:          alias(*r),
		RequestTimeout: r.RequestTimeout.String(),
		UploadTimeout:  r.UploadTimeout.String(),
		ConnectTimeout: r.ConnectTimeout.String(),
		PollInterval:   r.PollInterval.String(),
		PollTimeout:    r.PollTimeout.String(),
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(out)
}

// errWriter captures the first write error so callers can chain printf
// calls without checking each one.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}

	return s
}

func joinQuoted(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = fmt.Sprintf("%q", item)
	}

	return strings.Join(quoted, ", ")
}
