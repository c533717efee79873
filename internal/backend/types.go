package backend

import (
	"bytes"
	"encoding/json"
)

// Job and chat-session status values reported by the backend.
const (
	StatusRunning  = "running"
	StatusDone     = "done"
	StatusFailed   = "error"
	StatusNotFound = "not_found"
)

// SearchResult is one ranked document reference returned by the backend.
// Fields not explicitly modeled are preserved in Extra for pass-through.
type SearchResult struct {
	ID             string                     `json:"id"`
	Title          string                     `json:"title"`
	DownloadURL    string                     `json:"download_url"`
	CollectionName string                     `json:"collection_name"`
	Extra          map[string]json.RawMessage `json:"-"`
}

func (r SearchResult) MarshalJSON() ([]byte, error) {
	m := make(map[string]json.RawMessage, len(r.Extra)+4)
	for k, v := range r.Extra {
		m[k] = v
	}
	for k, v := range map[string]string{
		"id":              r.ID,
		"title":           r.Title,
		"download_url":    r.DownloadURL,
		"collection_name": r.CollectionName,
	} {
		b, _ := json.Marshal(v)
		m[k] = b
	}
	return json.Marshal(m)
}

func (r *SearchResult) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw["id"]; ok {
		r.ID = scalarString(v)
		delete(raw, "id")
	}
	if v, ok := raw["title"]; ok {
		json.Unmarshal(v, &r.Title)
		delete(raw, "title")
	}
	if v, ok := raw["download_url"]; ok {
		json.Unmarshal(v, &r.DownloadURL)
		delete(raw, "download_url")
	}
	if v, ok := raw["collection_name"]; ok {
		json.Unmarshal(v, &r.CollectionName)
		delete(raw, "collection_name")
	}
	if len(raw) > 0 {
		r.Extra = raw
	}
	return nil
}

// scalarString renders a JSON string or number as a plain string. Vector
// store ids arrive as either.
func scalarString(v json.RawMessage) string {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	trimmed := bytes.TrimSpace(v)
	if bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	return string(trimmed)
}

// SearchResponse is the body of /search_text and /upload.
type SearchResponse struct {
	Results []SearchResult `json:"results"`
}

// JobStatus is the body of /job-status/{id} and /chat-job-status/{id}.
type JobStatus struct {
	Status string          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Terminal reports whether polling should stop.
func (s JobStatus) Terminal() bool {
	return s.Status == StatusDone || s.Status == StatusFailed
}

// NotesResult is the result payload of a finished notes job.
type NotesResult struct {
	ExtractedText string         `json:"extracted_text"`
	PaperMetadata map[string]any `json:"papermetadata"`
}

// Title returns the paper title from the metadata, if any.
func (n NotesResult) Title() string {
	if n.PaperMetadata == nil {
		return ""
	}
	s, _ := n.PaperMetadata["title"].(string)
	return s
}

type vectorIndexRequest struct {
	VectorIndex string `json:"vector_index"`
}

type chatMessageRequest struct {
	Message string `json:"message"`
}
