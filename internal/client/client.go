// Package client calls the paperlens proxy API the way the pages do.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/paperlens/paperlens/internal/backend"
)

// StatusError is returned for any non-2xx proxy response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	msg := strings.TrimSpace(e.Body)
	var env struct {
		Error string `json:"error"`
	}
	if json.Unmarshal([]byte(msg), &env) == nil && env.Error != "" {
		msg = env.Error
	}
	if msg == "" {
		return fmt.Sprintf("server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, msg)
}

// Client is a typed client for the proxy routes under /api.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client for the proxy at baseURL. A nil httpClient gets a
// default with no overall timeout; chat answers can take minutes.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("server not reachable, is paperlens serve running? (%w)", err)
	}
	return resp, nil
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	return c.do(ctx, http.MethodGet, path, "", nil)
}

func (c *Client) postJSON(ctx context.Context, path string, body any) (*http.Response, error) {
	if body == nil {
		return c.do(ctx, http.MethodPost, path, "", nil)
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshalling request: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, "application/json", bytes.NewReader(data))
}

func decodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("server returned %d (failed to read body: %w)", resp.StatusCode, err)
	}
	return &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
}

// Health reports whether the proxy answers /health.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.get(ctx, "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

// SearchText runs a semantic search. A response without results yields an
// empty slice.
func (c *Client) SearchText(ctx context.Context, query string) ([]backend.SearchResult, error) {
	resp, err := c.postJSON(ctx, "/api/search_text", map[string]string{"query": query})
	if err != nil {
		return nil, err
	}
	var out backend.SearchResponse
	if err := decodeJSON(resp, &out); err != nil {
		return nil, err
	}
	if out.Results == nil {
		out.Results = []backend.SearchResult{}
	}
	return out.Results, nil
}

// Upload sends a document (PDF or image) and returns similar papers.
func (c *Client) Upload(ctx context.Context, filename string, data []byte) ([]backend.SearchResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filepath.Base(filename)))
	h.Set("Content-Type", DetectContentType(data))
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	resp, err := c.do(ctx, http.MethodPost, "/api/upload", mw.FormDataContentType(), &buf)
	if err != nil {
		return nil, err
	}
	var out backend.SearchResponse
	if err := decodeJSON(resp, &out); err != nil {
		return nil, err
	}
	if out.Results == nil {
		out.Results = []backend.SearchResult{}
	}
	return out.Results, nil
}

// DetectContentType sniffs the MIME type of an upload.
func DetectContentType(data []byte) string {
	mt := mimetype.Detect(data).String()
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}
	return mt
}

// StartNotes starts notes generation for document id and returns the job id.
func (c *Client) StartNotes(ctx context.Context, id string) (string, error) {
	resp, err := c.postJSON(ctx, "/api/notes/start/"+url.PathEscape(id), nil)
	if err != nil {
		return "", err
	}
	var out struct {
		JobID string `json:"job_id"`
	}
	if err := decodeJSON(resp, &out); err != nil {
		return "", err
	}
	if out.JobID == "" {
		return "", fmt.Errorf("backend returned no job id")
	}
	return out.JobID, nil
}

// NotesStatus fetches the status of a notes job.
func (c *Client) NotesStatus(ctx context.Context, jobID string) (backend.JobStatus, error) {
	resp, err := c.get(ctx, "/api/notes/status/"+url.PathEscape(jobID))
	if err != nil {
		return backend.JobStatus{}, err
	}
	var out backend.JobStatus
	err = decodeJSON(resp, &out)
	return out, err
}

// StartChat prepares a chat session for document id.
func (c *Client) StartChat(ctx context.Context, id string) (string, error) {
	resp, err := c.postJSON(ctx, "/api/chat/chat_start/"+url.PathEscape(id), nil)
	if err != nil {
		return "", err
	}
	var out struct {
		ChatSessionID string `json:"chat_session_id"`
	}
	if err := decodeJSON(resp, &out); err != nil {
		return "", err
	}
	if out.ChatSessionID == "" {
		return "", fmt.Errorf("backend returned no chat session id")
	}
	return out.ChatSessionID, nil
}

// ChatStatus fetches the readiness of a chat session.
func (c *Client) ChatStatus(ctx context.Context, chatSessionID string) (backend.JobStatus, error) {
	resp, err := c.get(ctx, "/api/chat/chat_status/"+url.PathEscape(chatSessionID))
	if err != nil {
		return backend.JobStatus{}, err
	}
	var out backend.JobStatus
	err = decodeJSON(resp, &out)
	return out, err
}

// SendChatMessage asks a question and returns the whole plain-text answer.
func (c *Client) SendChatMessage(ctx context.Context, chatSessionID, message string) (string, error) {
	resp, err := c.postJSON(ctx, "/api/chat/stream/"+url.PathEscape(chatSessionID), map[string]string{"message": message})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return "", err
	}
	answer, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading answer: %w", err)
	}
	return string(answer), nil
}

// FetchPDF downloads a remote PDF through the proxy.
func (c *Client) FetchPDF(ctx context.Context, pdfURL string) ([]byte, error) {
	resp, err := c.get(ctx, "/api/pdf?url="+url.QueryEscape(pdfURL))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	return io.ReadAll(resp.Body)
}
