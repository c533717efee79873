package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL   = "http://localhost:8000"
	defaultTimeout   = 60 * time.Second
	streamingTimeout = 300 * time.Second
	maxRetries       = 3
	initialBackoff   = 500 * time.Millisecond
	defaultRateLimit = 10
	maxPDFSize       = 100 << 20 // 100MB
	maxJSONSize      = 10 << 20  // 10MB
)

// Client talks to the paper search backend. All paths are relative to a
// single base URL.
type Client struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
	limiter    *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout for non-streaming calls.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithAPIKey sends the key as a bearer token on every request.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithRateLimit caps outbound requests per second. Zero or negative disables
// limiting.
func WithRateLimit(requestsPerSecond float64) Option {
	return func(c *Client) {
		if requestsPerSecond <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		burst := int(math.Ceil(requestsPerSecond))
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// NewClient creates a backend client for baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		timeout:    defaultTimeout,
		httpClient: &http.Client{},
		limiter:    rate.NewLimiter(rate.Limit(defaultRateLimit), defaultRateLimit),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the backend origin.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Response is a fully read backend response relayed by the proxy.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// StatusError is returned when the backend answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// errTooLarge is returned when a response body exceeds its read limit.
var errTooLarge = errors.New("response body too large")

// readLimited reads all of r, failing instead of truncating past limit.
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: over %d bytes", errTooLarge, limit)
	}
	return data, nil
}

// request describes one outbound call. body is kept as bytes so 429 retries
// can resend it.
type request struct {
	method      string
	url         string
	body        []byte
	contentType string
	timeout     time.Duration
}

// SearchText forwards a text query to /search_text as a multipart form.
func (c *Client) SearchText(ctx context.Context, query string) (*Response, error) {
	body, contentType, err := multipartBody(func(mw *multipart.Writer) error {
		return mw.WriteField("query", query)
	})
	if err != nil {
		return nil, err
	}
	return c.relay(ctx, request{
		method:      http.MethodPost,
		url:         c.baseURL + "/search_text",
		body:        body,
		contentType: contentType,
	})
}

// Upload forwards a document to /upload as the multipart field "file".
func (c *Client) Upload(ctx context.Context, filename, fileContentType string, r io.Reader) (*Response, error) {
	body, contentType, err := multipartBody(func(mw *multipart.Writer) error {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
		if fileContentType == "" {
			fileContentType = "application/octet-stream"
		}
		h.Set("Content-Type", fileContentType)
		part, err := mw.CreatePart(h)
		if err != nil {
			return err
		}
		_, err = io.Copy(part, r)
		return err
	})
	if err != nil {
		return nil, err
	}
	return c.relay(ctx, request{
		method:      http.MethodPost,
		url:         c.baseURL + "/upload",
		body:        body,
		contentType: contentType,
	})
}

// StartNotes starts a notes generation job and returns the backend JSON
// ({"job_id": ...}) verbatim.
func (c *Client) StartNotes(ctx context.Context, vectorIndex string) ([]byte, error) {
	return c.postVectorIndex(ctx, "/start_short_notes", vectorIndex)
}

// JobStatus returns the raw status document of a notes job.
func (c *Client) JobStatus(ctx context.Context, jobID string) ([]byte, error) {
	return c.getJSON(ctx, "/job-status/"+url.PathEscape(jobID))
}

// InitChat prepares a chat session for a document and returns the backend
// JSON ({"chat_session_id": ...}) verbatim.
func (c *Client) InitChat(ctx context.Context, vectorIndex string) ([]byte, error) {
	return c.postVectorIndex(ctx, "/init_chat", vectorIndex)
}

// ChatJobStatus returns the raw status document of a chat session. The
// backend status code is not checked; callers relay whatever JSON arrives.
func (c *Client) ChatJobStatus(ctx context.Context, chatSessionID string) (*Response, error) {
	return c.relay(ctx, request{
		method: http.MethodGet,
		url:    c.baseURL + "/chat-job-status/" + url.PathEscape(chatSessionID),
	})
}

// ChatStream sends a chat message and returns the plain-text answer body.
// The caller must close it.
func (c *Client) ChatStream(ctx context.Context, chatSessionID, message string) (io.ReadCloser, error) {
	body, err := json.Marshal(chatMessageRequest{Message: message})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}
	resp, cancel, err := c.doWithRetry(ctx, request{
		method:      http.MethodPost,
		url:         c.baseURL + "/chat/" + url.PathEscape(chatSessionID) + "/stream",
		body:        body,
		contentType: "application/json",
		timeout:     streamingTimeout,
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer cancel()
		defer resp.Body.Close()
		text, _ := io.ReadAll(io.LimitReader(resp.Body, maxJSONSize))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(text)}
	}
	return &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}, nil
}

// FetchPDF downloads an arbitrary remote document.
func (c *Client) FetchPDF(ctx context.Context, pdfURL string) ([]byte, error) {
	u, err := url.Parse(pdfURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid pdf url %q", pdfURL)
	}
	resp, cancel, err := c.doWithRetry(ctx, request{
		method:  http.MethodGet,
		url:     u.String(),
		timeout: streamingTimeout,
	})
	if err != nil {
		return nil, err
	}
	defer cancel()
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}
	data, err := readLimited(resp.Body, maxPDFSize)
	if err != nil {
		return nil, fmt.Errorf("reading pdf: %w", err)
	}
	return data, nil
}

func (c *Client) postVectorIndex(ctx context.Context, path, vectorIndex string) ([]byte, error) {
	body, err := json.Marshal(vectorIndexRequest{VectorIndex: vectorIndex})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}
	resp, err := c.relay(ctx, request{
		method:      http.MethodPost,
		url:         c.baseURL + path,
		body:        body,
		contentType: "application/json",
	})
	if err != nil {
		return nil, err
	}
	return okBody(resp)
}

func (c *Client) getJSON(ctx context.Context, path string) ([]byte, error) {
	resp, err := c.relay(ctx, request{
		method: http.MethodGet,
		url:    c.baseURL + path,
	})
	if err != nil {
		return nil, err
	}
	return okBody(resp)
}

func okBody(resp *Response) ([]byte, error) {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(resp.Body)}
	}
	return resp.Body, nil
}

// relay performs req and reads the whole body regardless of status.
func (c *Client) relay(ctx context.Context, req request) (*Response, error) {
	resp, cancel, err := c.doWithRetry(ctx, req)
	if err != nil {
		return nil, err
	}
	defer cancel()
	defer resp.Body.Close()

	body, err := readLimited(resp.Body, maxJSONSize)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return &Response{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

// doWithRetry executes req, retrying HTTP 429 with exponential backoff. When
// every attempt is rate limited the last 429 response is returned as is, so
// relays can pass it through. The returned cancel func must be called once
// the body is consumed.
func (c *Client) doWithRetry(ctx context.Context, req request) (*http.Response, context.CancelFunc, error) {
	for attempt := 0; ; attempt++ {
		resp, cancel, err := c.do(ctx, req)
		if err != nil {
			return nil, nil, err
		}
		if resp.StatusCode != http.StatusTooManyRequests || attempt == maxRetries-1 {
			return resp, cancel, nil
		}

		resp.Body.Close()
		cancel()
		backoff := time.Duration(float64(initialBackoff) * math.Pow(2, float64(attempt)))
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
}

func (c *Client) do(ctx context.Context, req request) (*http.Response, context.CancelFunc, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, nil, fmt.Errorf("waiting for rate limiter: %w", err)
	}

	timeout := req.timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)

	var body io.Reader
	if req.body != nil {
		body = bytes.NewReader(req.body)
	}
	httpReq, err := http.NewRequestWithContext(reqCtx, req.method, req.url, body)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("creating request: %w", err)
	}
	if req.contentType != "" {
		httpReq.Header.Set("Content-Type", req.contentType)
	}
	if c.apiKey != "" && strings.HasPrefix(req.url, c.baseURL) {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("executing request: %w", err)
	}

	return resp, cancel, nil
}

func multipartBody(write func(mw *multipart.Writer) error) ([]byte, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := write(mw); err != nil {
		return nil, "", fmt.Errorf("building multipart body: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("closing multipart body: %w", err)
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}

// cancelOnClose wraps a ReadCloser and cancels a context on Close.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
