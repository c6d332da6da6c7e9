package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Timeouts and retry policy.
const (
	DefaultTimeout       = 30 * time.Second
	DefaultUploadTimeout = 300 * time.Second

	readAttempts    = 3
	readBackoffStep = 1 * time.Second

	defaultUserAgent = "mseval/0.1"
	requestIDHeader  = "X-Request-Id"
	maxServerText    = 300
)

// Session supplies and renews the bearer credential. Defined at the consumer
// (api package); session.Manager is the real implementation.
type Session interface {
	// AccessToken returns the current access token, or "" when logged out.
	AccessToken() string
	// Refresh mints a new access token. Concurrent callers share one refresh.
	Refresh(ctx context.Context) Result[string]
	// Expire tears the session down after a terminal refresh failure.
	Expire(ctx context.Context)
}

// Config holds the per-client settings resolved from configuration.
type Config struct {
	BaseURL       string
	Timeout       time.Duration // ordinary JSON calls
	UploadTimeout time.Duration // multipart uploads
	UserAgent     string
	MaxUploadSize int64 // bytes; <= 0 disables the local size check
}

// Client is an HTTP client for the evaluation backend. It is safe for
// concurrent use; the only shared mutable state is the session's token.
type Client struct {
	baseURL       string
	httpClient    *http.Client
	session       Session
	logger        *slog.Logger
	timeout       time.Duration
	uploadTimeout time.Duration
	userAgent     string
	maxUploadSize int64

	// downloads is the ordered fallback chain used by DownloadReport.
	downloads []downloadStrategy

	// sleepFunc waits between read retries and polls. Tests override it.
	sleepFunc func(ctx context.Context, d time.Duration) error

	// newRequestID generates the X-Request-Id for each attempt.
	newRequestID func() string
}

// NewClient creates a backend client. session may be nil, which yields an
// anonymous client: no Authorization header, no refresh-and-replay. The
// session manager itself talks to /auth through an anonymous client.
func NewClient(cfg Config, httpClient *http.Client, session Session, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	c := &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:    httpClient,
		session:       session,
		logger:        logger,
		timeout:       cfg.Timeout,
		uploadTimeout: cfg.UploadTimeout,
		userAgent:     cfg.UserAgent,
		maxUploadSize: cfg.MaxUploadSize,
		sleepFunc:     timeSleep,
		newRequestID:  uuid.NewString,
	}

	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}

	if c.uploadTimeout <= 0 {
		c.uploadTimeout = DefaultUploadTimeout
	}

	if c.userAgent == "" {
		c.userAgent = defaultUserAgent
	}

	c.downloads = []downloadStrategy{directDownload{}, signedURLDownload{}}

	return c
}

// BaseURL returns the backend origin this client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// request is one logical backend call. The body is held as bytes so a
// replay after token refresh sends exactly what the first attempt sent.
type request struct {
	method      string
	url         string
	path        string // for logs; never contains signed query strings
	body        []byte
	contentType string
	accept      string
	timeout     time.Duration

	// authenticated attaches the session token and enables refresh-and-replay.
	authenticated bool
	// bearer overrides the session token (logout sends the token it revokes).
	bearer string
}

// response is a fully read backend response.
type response struct {
	status    int
	header    http.Header
	body      []byte
	requestID string
}

// verdict is the outcome of a single attempt.
type verdict int

const (
	// verdictDone means the attempt produced a final response or error.
	verdictDone verdict = iota
	// verdictRefresh means the token expired and the request may be replayed
	// once after a refresh.
	verdictRefresh
)

func (c *Client) newRequest(method, path string, query url.Values) *request {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	return &request{
		method:        method,
		url:           u,
		path:          path,
		authenticated: c.session != nil,
	}
}

func (c *Client) newJSONRequest(method, path string, in any) (*request, error) {
	req := c.newRequest(method, path, nil)

	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("api: encoding %s body: %w", path, err)
		}

		req.body = data
		req.contentType = "application/json"
	}

	return req, nil
}

// attempt performs one HTTP round-trip under the request timeout and
// classifies the outcome. It never retries.
func (c *Client) attempt(ctx context.Context, req *request) (*response, verdict, error) {
	timeout := req.timeout
	if timeout <= 0 {
		timeout = c.timeout
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader = http.NoBody
	if req.body != nil {
		body = bytes.NewReader(req.body)
	}

	httpReq, err := http.NewRequestWithContext(attemptCtx, req.method, req.url, body)
	if err != nil {
		return nil, verdictDone, fmt.Errorf("api: creating request: %w", err)
	}

	reqID := c.newRequestID()
	c.setHeaders(httpReq, req, reqID)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		classified := classifyTransport(ctx, attemptCtx, err)
		c.logger.Warn("request failed in transport",
			slog.String("method", req.method),
			slog.String("path", req.path),
			slog.String("request_id", reqID),
			slog.String("error", classified.Error()),
		)

		return nil, verdictDone, classified
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, verdictDone, classifyTransport(ctx, attemptCtx, err)
	}

	if id := resp.Header.Get(requestIDHeader); id != "" {
		reqID = id
	}

	out := &response{status: resp.StatusCode, header: resp.Header, body: data, requestID: reqID}

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		c.logger.Debug("request succeeded",
			slog.String("method", req.method),
			slog.String("path", req.path),
			slog.Int("status", resp.StatusCode),
			slog.String("request_id", reqID),
		)

		return out, verdictDone, nil
	}

	serverText := serverMessage(data)

	if resp.StatusCode == http.StatusUnauthorized && req.authenticated && isExpiryMessage(serverText) {
		return nil, verdictRefresh, &APIError{
			StatusCode:    resp.StatusCode,
			RequestID:     reqID,
			ServerMessage: serverText,
			Message:       msgSessionExpired,
			Err:           ErrTokenExpired,
		}
	}

	c.logger.Debug("request rejected",
		slog.String("method", req.method),
		slog.String("path", req.path),
		slog.Int("status", resp.StatusCode),
		slog.String("request_id", reqID),
		slog.String("server_message", serverText),
	)

	return nil, verdictDone, &APIError{
		StatusCode:    resp.StatusCode,
		RequestID:     reqID,
		ServerMessage: serverText,
		Message:       friendlyMessage(resp.StatusCode, serverText),
		Err:           classifyStatus(resp.StatusCode),
	}
}

func (c *Client) setHeaders(httpReq *http.Request, req *request, reqID string) {
	httpReq.Header.Set("User-Agent", c.userAgent)
	httpReq.Header.Set(requestIDHeader, reqID)

	if req.accept != "" {
		httpReq.Header.Set("Accept", req.accept)
	}

	if req.body != nil {
		ct := req.contentType
		if ct == "" {
			ct = "application/json"
		}

		httpReq.Header.Set("Content-Type", ct)
	}

	token := req.bearer
	if token == "" && req.authenticated && c.session != nil {
		token = c.session.AccessToken()
	}

	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
}

// exchange runs the replay-once state machine: attempt, and if the token
// expired, refresh and attempt exactly one more time. Refresh failure, or a
// replay that is still rejected as expired, ends the session.
func (c *Client) exchange(ctx context.Context, req *request) (*response, error) {
	resp, v, err := c.attempt(ctx, req)
	if v == verdictDone {
		return resp, err
	}

	c.logger.Info("access token expired, refreshing session",
		slog.String("method", req.method),
		slog.String("path", req.path),
	)

	refreshed := c.session.Refresh(ctx)
	if !refreshed.Success {
		c.logger.Warn("session refresh failed, logging out",
			slog.String("path", req.path),
			slog.String("error", errString(refreshed.Err)),
		)
		c.session.Expire(ctx)

		return nil, fmt.Errorf("%w: %w", ErrSessionExpired, refreshed.Err)
	}

	resp, v, err = c.attempt(ctx, req)
	if v == verdictRefresh {
		c.logger.Warn("replayed request rejected with expired token, logging out",
			slog.String("path", req.path),
		)
		c.session.Expire(ctx)

		return nil, fmt.Errorf("%w: %w", ErrSessionExpired, err)
	}

	return resp, err
}

// exchangeRead is exchange with the read retry policy: up to readAttempts
// tries with linear backoff, only when the whole exchange failed.
func (c *Client) exchangeRead(ctx context.Context, req *request) (*response, error) {
	var lastErr error

	for attempt := 1; ; attempt++ {
		resp, err := c.exchange(ctx, req)
		if err == nil {
			return resp, nil
		}

		lastErr = err

		if attempt >= readAttempts || !isRetryable(err) {
			if attempt > 1 {
				c.logger.Error("read failed after retries",
					slog.String("path", req.path),
					slog.Int("attempts", attempt),
					slog.String("error", err.Error()),
				)
			}

			return nil, lastErr
		}

		backoff := time.Duration(attempt) * readBackoffStep
		c.logger.Warn("retrying read",
			slog.String("path", req.path),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", backoff),
			slog.String("error", err.Error()),
		)

		if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrCanceled, sleepErr)
		}
	}
}

// getJSON performs a retried GET and decodes the body into out.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	resp, err := c.exchangeRead(ctx, c.newRequest(http.MethodGet, path, query))
	if err != nil {
		return err
	}

	return decodeJSON(resp, out)
}

// sendJSON performs a non-retried call with an optional JSON body.
func (c *Client) sendJSON(ctx context.Context, method, path string, in, out any) error {
	req, err := c.newJSONRequest(method, path, in)
	if err != nil {
		return err
	}

	resp, err := c.exchange(ctx, req)
	if err != nil {
		return err
	}

	return decodeJSON(resp, out)
}

// decodeJSON unmarshals a response body. A nil out or an empty body is a
// no-op so 204 responses decode cleanly.
func decodeJSON(resp *response, out any) error {
	if out == nil || len(bytes.TrimSpace(resp.body)) == 0 {
		return nil
	}

	if err := json.Unmarshal(resp.body, out); err != nil {
		return fmt.Errorf("%w: %w", ErrDecode, err)
	}

	return nil
}

// serverMessage extracts the human text from an error body. Backends in this
// family answer {"detail": "..."}, {"detail": [{"msg": "..."}]},
// {"error": "..."} or {"message": "..."}; anything else is used verbatim.
func serverMessage(body []byte) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return ""
	}

	var parsed struct {
		Detail  json.RawMessage `json:"detail"`
		Error   json.RawMessage `json:"error"`
		Message json.RawMessage `json:"message"`
	}

	if trimmed[0] == '{' && json.Unmarshal(trimmed, &parsed) == nil {
		for _, raw := range []json.RawMessage{parsed.Detail, parsed.Error, parsed.Message} {
			if text := rawText(raw); text != "" {
				return truncate(text)
			}
		}
	}

	return truncate(string(trimmed))
}

// rawText renders a JSON string, a list of validation entries, or an object
// carrying a message field as plain text.
func rawText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}

	type entry struct {
		Msg     string `json:"msg"`
		Message string `json:"message"`
	}

	var list []entry
	if json.Unmarshal(raw, &list) == nil {
		parts := make([]string, 0, len(list))
		for _, e := range list {
			if e.Msg != "" {
				parts = append(parts, e.Msg)
			} else if e.Message != "" {
				parts = append(parts, e.Message)
			}
		}

		return strings.Join(parts, "; ")
	}

	var obj entry
	if json.Unmarshal(raw, &obj) == nil {
		if obj.Message != "" {
			return obj.Message
		}

		return obj.Msg
	}

	return ""
}

func truncate(s string) string {
	if len(s) <= maxServerText {
		return s
	}

	return s[:maxServerText] + "..."
}

func errString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}

// timeSleep waits for the given duration or until the context is canceled.
// It is the default sleepFunc for Client.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
