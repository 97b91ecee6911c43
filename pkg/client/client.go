package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// APIError is a non-2xx response from the ledger API.
type APIError struct {
	StatusCode int
	// Code is the server's error classification, e.g. "NOT_FOUND".
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("ledger API %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("ledger API %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is an APIError for a missing resource.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client is the ledger SDK entry point.
type Client struct {
	base        string
	httpClient  *http.Client
	bearerToken string
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc == nil {
			return errors.New("http client must not be nil")
		}
		c.httpClient = hc
		return nil
	}
}

// WithBearerToken attaches an operator token to every request.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.bearerToken = token
		return nil
	}
}

// WithTimeout sets the per-request timeout. Chain verification walks every
// entry, so large namespaces need more than the 10 second default.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("timeout must be positive, got %s", d)
		}
		c.httpClient.Timeout = d
		return nil
	}
}

// New creates a Client for the API served at base, e.g. "http://localhost:8080".
func New(base string, opts ...Option) (*Client, error) {
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	c := &Client{
		base:       strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(base string, opts ...Option) *Client {
	c, err := New(base, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// Heads returns the head of every namespace.
func (c *Client) Heads(ctx context.Context) ([]Head, error) {
	var resp struct {
		Heads []Head `json:"heads"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/v1/ledger", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Heads, nil
}

// VerifyChain walks the whole chain of ns. A broken chain is not an error:
// inspect ChainReport.IsValid.
func (c *Client) VerifyChain(ctx context.Context, ns string) (*ChainReport, error) {
	var r ChainReport
	if err := c.call(ctx, http.MethodGet, "/api/v1/ledger/"+url.PathEscape(ns)+"/verify", nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// VerifyEntry recomputes the hash of a single entry.
func (c *Client) VerifyEntry(ctx context.Context, ns, id string) (*EntryVerification, error) {
	var v EntryVerification
	path := "/api/v1/ledger/" + url.PathEscape(ns) + "/entries/" + url.PathEscape(id) + "/verify"
	if err := c.call(ctx, http.MethodGet, path, nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// GetEntry returns a single entry.
func (c *Client) GetEntry(ctx context.Context, ns, id string) (*Entry, error) {
	var e Entry
	path := "/api/v1/ledger/" + url.PathEscape(ns) + "/entries/" + url.PathEscape(id)
	if err := c.call(ctx, http.MethodGet, path, nil, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Invalidate marks an entry INVALIDATED. Requires an investigator token; the
// token's subject is recorded as the invalidating operator.
func (c *Client) Invalidate(ctx context.Context, ns, id, reason string) (*InvalidationResult, error) {
	var r InvalidationResult
	path := "/api/v1/ledger/" + url.PathEscape(ns) + "/entries/" + url.PathEscape(id) + "/invalidate"
	if err := c.call(ctx, http.MethodPost, path, map[string]string{"reason": reason}, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Stats counts entries of ns by status and by the given payload fields.
func (c *Client) Stats(ctx context.Context, ns string, by ...string) (*Stats, error) {
	path := "/api/v1/ledger/" + url.PathEscape(ns) + "/stats"
	if len(by) > 0 {
		path += "?" + url.Values{"by": {strings.Join(by, ",")}}.Encode()
	}
	var s Stats
	if err := c.call(ctx, http.MethodGet, path, nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Sign applies an electronic signature to a record.
func (c *Client) Sign(ctx context.Context, req SignRequest) (*AppendResult, error) {
	var r AppendResult
	if err := c.call(ctx, http.MethodPost, "/api/v1/signatures", req, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// VerifySignature checks a signature and whether the signed record changed.
func (c *Client) VerifySignature(ctx context.Context, id string) (*SignatureVerification, error) {
	var v SignatureVerification
	if err := c.call(ctx, http.MethodGet, "/api/v1/signatures/"+url.PathEscape(id)+"/verify", nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// ReportDeviation records a protocol deviation.
func (c *Client) ReportDeviation(ctx context.Context, req DeviationReport) (*AppendResult, error) {
	var r AppendResult
	if err := c.call(ctx, http.MethodPost, "/api/v1/deviations", req, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// call sends a JSON request and decodes a JSON response into out.
func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	respBody, err := c.do(req)
	if err != nil {
		return err
	}
	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// do executes an HTTP request, attaching the Bearer token if present.
func (c *Client) do(req *http.Request) ([]byte, error) {
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		var e struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			apiErr.Message = e.Error
			apiErr.Code = e.Code
		}
		return nil, apiErr
	}
	return body, nil
}
