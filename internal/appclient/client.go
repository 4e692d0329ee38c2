// Package appclient is the JSON-over-HTTP client shared by the CLI (talking to
// riskdeskd over its unix socket) and the feature modules (talking to the
// backend REST API with a bearer token).
package appclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/g960059/riskdesk/internal/api"
	"github.com/g960059/riskdesk/internal/backoff"
)

type Client struct {
	baseURL      string
	client       *http.Client
	unaryTimeout time.Duration
	token        string
	attempts     int
	backoff      time.Duration
}

const defaultUnaryTimeout = 10 * time.Second

var ErrEmptyPath = errors.New("empty request path")

func New(socketPath string) *Client {
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socketPath)
		},
	}
	return NewWithClient("http://unix", &http.Client{Transport: transport})
}

func NewWithClient(baseURL string, client *http.Client) *Client {
	if client == nil {
		client = &http.Client{}
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		client:       client,
		unaryTimeout: defaultUnaryTimeout,
		attempts:     1,
	}
}

func (c *Client) WithUnaryTimeout(timeout time.Duration) *Client {
	if c == nil {
		return nil
	}
	clone := *c
	clone.unaryTimeout = timeout
	return &clone
}

// WithToken returns a copy that sends "Authorization: Bearer <token>".
func (c *Client) WithToken(token string) *Client {
	if c == nil {
		return nil
	}
	clone := *c
	clone.token = strings.TrimSpace(token)
	return &clone
}

// WithRetry returns a copy that repeats GET requests failing with a
// retryable status, waiting delay*n before the n-th repeat.
func (c *Client) WithRetry(attempts int, delay time.Duration) *Client {
	if c == nil {
		return nil
	}
	if attempts < 1 {
		attempts = 1
	}
	clone := *c
	clone.attempts = attempts
	clone.backoff = delay
	return &clone
}

type RequestError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *RequestError) Error() string {
	if e == nil {
		return ""
	}
	code := strings.TrimSpace(e.Code)
	message := strings.TrimSpace(e.Message)
	if code != "" && message != "" {
		return fmt.Sprintf("%s: %s", code, message)
	}
	if code != "" {
		if e.StatusCode > 0 {
			return fmt.Sprintf("http %d: %s", e.StatusCode, code)
		}
		return code
	}
	if message != "" {
		if e.StatusCode > 0 {
			return fmt.Sprintf("http %d: %s", e.StatusCode, message)
		}
		return message
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("http %d", e.StatusCode)
	}
	return "http error"
}

func (e *RequestError) Retryable() bool {
	if e == nil {
		return false
	}
	if e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusRequestTimeout {
		return true
	}
	return e.StatusCode >= 500
}

// GetJSON fetches path and decodes the response into out.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, out any) error {
	if strings.TrimSpace(path) == "" {
		return ErrEmptyPath
	}
	var (
		body []byte
		err  error
	)
	for attempt := 1; ; attempt++ {
		body, err = c.request(ctx, http.MethodGet, path, query, nil)
		if err == nil {
			break
		}
		var reqErr *RequestError
		if attempt >= c.attempts || !errors.As(err, &reqErr) || !reqErr.Retryable() {
			return err
		}
		if err := backoff.Sleep(ctx, backoff.Linear(c.backoff, attempt)); err != nil {
			return err
		}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) Health(ctx context.Context) (api.HealthResponse, error) {
	var resp api.HealthResponse
	return resp, c.call(ctx, http.MethodGet, "/v1/health", nil, nil, &resp)
}

func (c *Client) Lifecycle(ctx context.Context) (api.LifecycleEnvelope, error) {
	var resp api.LifecycleEnvelope
	return resp, c.call(ctx, http.MethodGet, "/v1/lifecycle", nil, nil, &resp)
}

// Initialize is long-lived: the daemon answers once the attempt settles.
func (c *Client) Initialize(ctx context.Context) (api.InitializeResponse, error) {
	var resp api.InitializeResponse
	body, err := c.doRequest(ctx, http.MethodPost, "/v1/lifecycle/initialize", nil, struct{}{}, true)
	if err != nil {
		return resp, err
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return resp, fmt.Errorf("decode initialize response: %w", err)
	}
	return resp, nil
}

func (c *Client) Destroy(ctx context.Context) (api.LifecycleEnvelope, error) {
	var resp api.LifecycleEnvelope
	return resp, c.call(ctx, http.MethodPost, "/v1/lifecycle/destroy", nil, struct{}{}, &resp)
}

func (c *Client) ActivateFallback(ctx context.Context) (api.LifecycleEnvelope, error) {
	var resp api.LifecycleEnvelope
	return resp, c.call(ctx, http.MethodPost, "/v1/lifecycle/fallback", nil, struct{}{}, &resp)
}

func (c *Client) Navigate(ctx context.Context, req api.NavigateRequest) (api.NavigateResponse, error) {
	var resp api.NavigateResponse
	return resp, c.call(ctx, http.MethodPost, "/v1/navigate", nil, req, &resp)
}

func (c *Client) Retry(ctx context.Context, page string) (api.NavigateResponse, error) {
	var resp api.NavigateResponse
	page = strings.TrimSpace(page)
	if page == "" {
		return resp, fmt.Errorf("page is required")
	}
	return resp, c.call(ctx, http.MethodPost, "/v1/pages/"+url.PathEscape(page)+"/retry", nil, struct{}{}, &resp)
}

func (c *Client) Document(ctx context.Context) (api.DocumentEnvelope, error) {
	var resp api.DocumentEnvelope
	return resp, c.call(ctx, http.MethodGet, "/v1/document", nil, nil, &resp)
}

// DocumentHTML returns the rendered page markup.
func (c *Client) DocumentHTML(ctx context.Context) (string, error) {
	body, err := c.request(ctx, http.MethodGet, "/v1/document", url.Values{"format": []string{"html"}}, nil)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (c *Client) Errors(ctx context.Context, window time.Duration, limit int) (api.ErrorsEnvelope, error) {
	query := url.Values{}
	if window > 0 {
		query.Set("window", window.String())
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var resp api.ErrorsEnvelope
	return resp, c.call(ctx, http.MethodGet, "/v1/diagnostics/errors", query, nil, &resp)
}

func (c *Client) Performance(ctx context.Context) (api.PerformanceEnvelope, error) {
	var resp api.PerformanceEnvelope
	return resp, c.call(ctx, http.MethodGet, "/v1/diagnostics/performance", nil, nil, &resp)
}

func (c *Client) Session(ctx context.Context) (api.SessionEnvelope, error) {
	var resp api.SessionEnvelope
	return resp, c.call(ctx, http.MethodGet, "/v1/session", nil, nil, &resp)
}

func (c *Client) Login(ctx context.Context, req api.LoginRequest) (api.SessionEnvelope, error) {
	var resp api.SessionEnvelope
	return resp, c.call(ctx, http.MethodPost, "/v1/session/login", nil, req, &resp)
}

func (c *Client) Logout(ctx context.Context) (api.SessionEnvelope, error) {
	var resp api.SessionEnvelope
	return resp, c.call(ctx, http.MethodPost, "/v1/session/logout", nil, struct{}{}, &resp)
}

// EndSession wipes the session-scoped storage, including the lifecycle snapshot.
func (c *Client) EndSession(ctx context.Context) (api.SessionStorageResponse, error) {
	var resp api.SessionStorageResponse
	return resp, c.call(ctx, http.MethodDelete, "/v1/session/storage", nil, nil, &resp)
}

func (c *Client) Dependencies(ctx context.Context) (api.DependenciesEnvelope, error) {
	var resp api.DependenciesEnvelope
	return resp, c.call(ctx, http.MethodGet, "/v1/dependencies", nil, nil, &resp)
}

func (c *Client) ProvideDependency(ctx context.Context, name string) (api.DependenciesEnvelope, error) {
	return c.dependency(ctx, http.MethodPut, name)
}

func (c *Client) WithdrawDependency(ctx context.Context, name string) (api.DependenciesEnvelope, error) {
	return c.dependency(ctx, http.MethodDelete, name)
}

func (c *Client) dependency(ctx context.Context, method, name string) (api.DependenciesEnvelope, error) {
	var resp api.DependenciesEnvelope
	name = strings.TrimSpace(name)
	if name == "" {
		return resp, fmt.Errorf("dependency name is required")
	}
	return resp, c.call(ctx, method, "/v1/dependencies/"+url.PathEscape(name), nil, nil, &resp)
}

func (c *Client) call(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	payload, err := c.request(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) request(ctx context.Context, method, path string, query url.Values, body any) ([]byte, error) {
	return c.doRequest(ctx, method, path, query, body, false)
}

func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, body any, longLived bool) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	reqCtx := ctx
	if !longLived && c.unaryTimeout > 0 {
		if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > c.unaryTimeout {
			var cancel context.CancelFunc
			reqCtx, cancel = context.WithTimeout(ctx, c.unaryTimeout)
			defer cancel()
		}
	}
	var reqBody io.Reader
	if body != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reqBody = buf
	}
	req, err := http.NewRequestWithContext(reqCtx, method, u, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		var er api.ErrorResponse
		if err := json.Unmarshal(payload, &er); err == nil && er.Error.Code != "" {
			return nil, &RequestError{
				StatusCode: resp.StatusCode,
				Code:       er.Error.Code,
				Message:    er.Error.Message,
			}
		}
		// Backend REST errors look like {"error":"..."}.
		var plain struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(payload, &plain); err == nil && plain.Error != "" {
			return nil, &RequestError{
				StatusCode: resp.StatusCode,
				Code:       fmt.Sprintf("HTTP_%d", resp.StatusCode),
				Message:    plain.Error,
			}
		}
		return nil, &RequestError{
			StatusCode: resp.StatusCode,
			Code:       fmt.Sprintf("HTTP_%d", resp.StatusCode),
			Message:    strings.TrimSpace(string(payload)),
		}
	}
	return payload, nil
}
