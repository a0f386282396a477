// Package provider wraps the telephony provider's REST API (Telnyx v2).
//
// Every typed operation is exactly one HTTP call. Status polls are safe to
// repeat; creation, submission and ordering are not, and callers must guard
// them so they run at most once per provisioning request.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/AlessioChianetta/Coachale-sub034/errors"
	"github.com/AlessioChianetta/Coachale-sub034/logger"
	"github.com/AlessioChianetta/Coachale-sub034/metrics"
)

// DefaultBaseURL is the production API root.
const DefaultBaseURL = "https://api.telnyx.com"

// maxErrorBody bounds how much of a failed response is read for error details.
const maxErrorBody = 64 << 10

// Client is an authenticated API client. The zero value is not usable; build
// one with NewClient.
type Client struct {
	baseURL    string
	httpClient *http.Client
	creds      *CredentialsCache
	limiter    *rate.Limiter
	logger     *zap.SugaredLogger

	// apiKey, when set, authenticates as a managed sub-account instead of the
	// master account from creds.
	apiKey string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithRateLimit caps outgoing calls per second; rps <= 0 leaves calls unlimited.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithClientLogger sets the logger.
func WithClientLogger(l *zap.SugaredLogger) ClientOption {
	return func(c *Client) {
		c.logger = logger.OrNop(l)
	}
}

// NewClient returns a client for baseURL that authenticates with creds.
func NewClient(baseURL string, creds *CredentialsCache, opts ...ClientOption) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		creds:      creds,
		logger:     zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithAPIKey returns a view of c that authenticates as a managed sub-account.
// The view shares the HTTP client, rate limiter and credentials cache.
func (c *Client) WithAPIKey(key string) *Client {
	view := *c
	view.apiKey = key
	return &view
}

// Credentials returns the master credentials from the cache.
func (c *Client) Credentials(ctx context.Context) (Credentials, error) {
	if c.creds == nil {
		return Credentials{}, ErrNotConfigured
	}
	return c.creds.Get(ctx)
}

// Configured reports whether master credentials are available.
func (c *Client) Configured(ctx context.Context) (bool, error) {
	if c.creds == nil {
		return false, nil
	}
	return c.creds.Configured(ctx)
}

// CredentialsCache returns the cache the client reads from.
func (c *Client) CredentialsCache() *CredentialsCache {
	return c.creds
}

// Do sends a JSON request and decodes the response's "data" member into out.
// body and out may be nil. Any non-2xx response fails with *APIError.
func (c *Client) Do(ctx context.Context, method, endpoint string, body, out interface{}) error {
	return c.call(ctx, "raw", method, endpoint, body, out)
}

func (c *Client) call(ctx context.Context, op, method, endpoint string, body, out interface{}) error {
	var payload io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return errors.Wrapf(err, "encode %s body", op)
		}
		payload = bytes.NewReader(buf)
	}
	return c.send(ctx, op, method, endpoint, payload, "application/json", out)
}

// upload sends one file as multipart/form-data.
func (c *Client) upload(ctx context.Context, op, endpoint string, fields map[string]string, fileField, filename, contentType string, content io.Reader, out interface{}) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return errors.Wrapf(err, "write field %s", k)
		}
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="`+fileField+`"; filename="`+escapeQuotes(filename)+`"`)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)
	part, err := w.CreatePart(header)
	if err != nil {
		return errors.Wrap(err, "create file part")
	}
	if _, err := io.Copy(part, content); err != nil {
		return errors.Wrap(err, "copy file content")
	}
	if err := w.Close(); err != nil {
		return errors.Wrap(err, "close multipart body")
	}
	return c.send(ctx, op, http.MethodPost, endpoint, &buf, w.FormDataContentType(), out)
}

func (c *Client) send(ctx context.Context, op, method, endpoint string, payload io.Reader, contentType string, out interface{}) (err error) {
	key := c.apiKey
	if key == "" {
		creds, err := c.Credentials(ctx)
		if err != nil {
			return err
		}
		key = creds.APIKey
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return errors.Wrapf(err, "%s: rate limit wait", op)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, payload)
	if err != nil {
		return errors.Wrapf(err, "build %s request", op)
	}
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	defer func() {
		result := metrics.ResultOK
		if err != nil {
			result = metrics.ResultError
		}
		metrics.RecordProviderRequest(op, result, time.Since(start))
	}()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, endpoint)
	}
	defer resp.Body.Close()

	c.logger.Debugw("Provider call",
		logger.FieldOperation, op,
		logger.FieldMethod, method,
		logger.FieldPath, endpoint,
		logger.FieldHTTPStatus, resp.StatusCode,
		logger.FieldDurationMS, time.Since(start).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.apiError(resp, method, endpoint)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return errors.Wrapf(err, "decode %s response", op)
	}
	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return errors.Wrapf(err, "decode %s data", op)
	}
	return nil
}

func (c *Client) apiError(resp *http.Response, method, endpoint string) error {
	apiErr := &APIError{StatusCode: resp.StatusCode, Method: method, Path: endpoint}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var body errorBody
	if json.Unmarshal(raw, &body) == nil && len(body.Errors) > 0 {
		first := body.Errors[0]
		apiErr.Code = first.Code
		apiErr.Title = first.Title
		apiErr.Detail = first.Detail
	} else if text := strings.TrimSpace(string(raw)); text != "" {
		apiErr.Detail = text
	}

	err := errors.WithStack(error(apiErr))
	if apiErr.Code != "" {
		err = errors.WithDetailf(err, "provider error code %s", apiErr.Code)
	}
	return err
}

func escapeQuotes(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}
