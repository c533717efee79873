package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/paperlens/paperlens/internal/backend"
)

const (
	maxRequestBodySize = 1 << 20  // 1MB
	maxUploadSize      = 25 << 20 // 25MB
)

// Backend is the upstream the proxy routes forward to. Implemented by
// backend.Client.
type Backend interface {
	SearchText(ctx context.Context, query string) (*backend.Response, error)
	Upload(ctx context.Context, filename, contentType string, r io.Reader) (*backend.Response, error)
	StartNotes(ctx context.Context, vectorIndex string) ([]byte, error)
	JobStatus(ctx context.Context, jobID string) ([]byte, error)
	InitChat(ctx context.Context, vectorIndex string) ([]byte, error)
	ChatJobStatus(ctx context.Context, chatSessionID string) (*backend.Response, error)
	ChatStream(ctx context.Context, chatSessionID, message string) (io.ReadCloser, error)
	FetchPDF(ctx context.Context, pdfURL string) ([]byte, error)
}

// Options tunes the proxy handler.
type Options struct {
	// PDFCacheSize is the number of documents kept by /api/pdf. Zero
	// disables caching.
	PDFCacheSize int
	PDFCacheTTL  time.Duration
	Logger       *slog.Logger
}

// allowedUploadTypes mirrors the content types the backend accepts.
var allowedUploadTypes = []string{"application/pdf", "image/png", "image/jpeg"}

// NewHandler returns the http.Handler serving the /api proxy routes and
// /health.
func NewHandler(b Backend, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pdfs := newPDFCache(b.FetchPDF, opts.PDFCacheSize, opts.PDFCacheTTL)

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(accessLog(logger))
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Post("/search_text", handleSearchText(b))
		r.Post("/upload", handleUpload(b))
		r.Post("/notes/start/{id}", handleNotesStart(b, logger))
		r.Get("/notes/status/{jobId}", handleNotesStatus(b, logger))
		r.Post("/chat/chat_start/{id}", handleChatStart(b, logger))
		r.Get("/chat/chat_status/{chatSessionId}", handleChatStatus(b))
		r.Post("/chat/stream/{chatSessionId}", handleChatStream(b, logger))
		r.Get("/pdf", handlePDF(pdfs, logger))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// handleSearchText accepts {"query": ...} as JSON or a "query" form field and
// relays the backend answer unchanged.
func handleSearchText(b Backend) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req searchRequest
		if isJSON(r) {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
				return
			}
		} else {
			req.Query = r.FormValue("query")
		}
		req.Query = strings.TrimSpace(req.Query)
		if err := validateRequest(req); err != nil {
			httpError(w, http.StatusBadRequest, "%v", err)
			return
		}

		resp, err := b.SearchText(r.Context(), req.Query)
		if err != nil {
			httpError(w, http.StatusBadGateway, "backend error: %v", err)
			return
		}
		writeRelay(w, resp)
	}
}

func handleUpload(b Backend) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
		defer r.Body.Close()

		file, header, err := r.FormFile("file")
		if err != nil {
			httpError(w, http.StatusBadRequest, "file is required: %v", err)
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			httpError(w, http.StatusBadRequest, "reading upload: %v", err)
			return
		}
		mt := mimetype.Detect(data)
		if !mimetype.EqualsAny(mt.String(), allowedUploadTypes...) {
			httpError(w, http.StatusBadRequest, "unsupported file type %s", mt.String())
			return
		}

		resp, err := b.Upload(r.Context(), header.Filename, mt.String(), bytes.NewReader(data))
		if err != nil {
			httpError(w, http.StatusBadGateway, "backend error: %v", err)
			return
		}
		writeRelay(w, resp)
	}
}

func handleNotesStart(b Backend, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := b.StartNotes(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			logger.Warn("notes start failed", "error", err)
			httpError(w, http.StatusInternalServerError, "Backend failed to start job")
			return
		}
		writeJSONBody(w, http.StatusOK, body)
	}
}

func handleNotesStatus(b Backend, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := b.JobStatus(r.Context(), chi.URLParam(r, "jobId"))
		if err != nil {
			logger.Warn("notes status failed", "error", err)
			httpError(w, http.StatusInternalServerError, "Failed to fetch job status")
			return
		}
		writeJSONBody(w, http.StatusOK, body)
	}
}

func handleChatStart(b Backend, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := b.InitChat(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			logger.Warn("chat start failed", "error", err)
			httpError(w, http.StatusInternalServerError, "Backend failed to start chat job")
			return
		}
		writeJSONBody(w, http.StatusOK, body)
	}
}

// handleChatStatus relays the session status with 200 whatever the backend
// answered; only a transport or decode failure is an error.
func handleChatStatus(b Backend) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp, err := b.ChatJobStatus(r.Context(), chi.URLParam(r, "chatSessionId"))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "%v", err)
			return
		}
		if !json.Valid(resp.Body) {
			httpError(w, http.StatusInternalServerError, "invalid JSON from backend")
			return
		}
		writeJSONBody(w, http.StatusOK, resp.Body)
	}
}

func handleChatStream(b Backend, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
			return
		}
		if err := validateRequest(chatRequest{Message: strings.TrimSpace(req.Message)}); err != nil {
			httpError(w, http.StatusBadRequest, "%v", err)
			return
		}

		rc, err := b.ChatStream(r.Context(), chi.URLParam(r, "chatSessionId"), req.Message)
		if err != nil {
			var se *backend.StatusError
			if errors.As(err, &se) {
				w.Header().Set("Content-Type", "text/plain")
				w.WriteHeader(http.StatusInternalServerError)
				io.WriteString(w, se.Body)
				return
			}
			httpError(w, http.StatusBadGateway, "backend error: %v", err)
			return
		}
		defer rc.Close()

		streamText(w, rc, logger)
	}
}

// streamText copies the answer to the client, flushing after every read.
func streamText(w http.ResponseWriter, rc io.Reader, logger *slog.Logger) {
	rcw := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/plain")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	buf := make([]byte, 4096)
	for {
		n, err := rc.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				logger.Debug("client went away during stream", "error", werr)
				return
			}
			rcw.Flush()
		}
		if err != nil {
			if err != io.EOF {
				logger.Warn("upstream stream read error", "error", err)
			}
			return
		}
	}
}

func handlePDF(pdfs *pdfCache, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pdfURL := r.URL.Query().Get("url")
		if pdfURL == "" {
			httpError(w, http.StatusBadRequest, "Missing pdf url")
			return
		}

		data, err := pdfs.Get(r.Context(), pdfURL)
		if err != nil {
			var se *backend.StatusError
			if errors.As(err, &se) {
				httpError(w, http.StatusInternalServerError, "Failed to fetch PDF")
				return
			}
			logger.Warn("pdf fetch failed", "url", pdfURL, "error", err)
			httpError(w, http.StatusInternalServerError, "PDF fetch failed")
			return
		}

		logger.Debug("pdf served", "url", pdfURL, "bytes", len(data), "cached_docs", pdfs.Len())
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", "inline")
		w.Write(data)
	}
}

func isJSON(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(ct)), "application/json")
}

// writeRelay writes a backend response with its own status code.
func writeRelay(w http.ResponseWriter, resp *backend.Response) {
	ct := resp.ContentType
	if ct == "" {
		ct = "application/json"
	}
	w.Header().Set("Content-Type", ct)
	w.WriteHeader(resp.StatusCode)
	w.Write(resp.Body)
}

func writeJSONBody(w http.ResponseWriter, code int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(body)
}

func httpError(w http.ResponseWriter, code int, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{
		"error": fmt.Sprintf(format, args...),
	})
}
