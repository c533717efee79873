// Package app implements the user-facing flows: searching, uploading,
// opening results, generating notes and chatting with a paper. State that a
// browser would keep in session/local storage lives in a Store.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/paperlens/paperlens/internal/backend"
	"github.com/paperlens/paperlens/internal/poll"
	"github.com/paperlens/paperlens/internal/storage"
)

// API is the subset of the proxy client the flows need.
type API interface {
	SearchText(ctx context.Context, query string) ([]backend.SearchResult, error)
	Upload(ctx context.Context, filename string, data []byte) ([]backend.SearchResult, error)
	StartNotes(ctx context.Context, id string) (string, error)
	NotesStatus(ctx context.Context, jobID string) (backend.JobStatus, error)
	StartChat(ctx context.Context, id string) (string, error)
	ChatStatus(ctx context.Context, chatSessionID string) (backend.JobStatus, error)
	SendChatMessage(ctx context.Context, chatSessionID, message string) (string, error)
	FetchPDF(ctx context.Context, pdfURL string) ([]byte, error)
}

// Store is the local persistence the flows need. Implemented by
// storage.Store.
type Store interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Remove(key string) error
	GetJSON(key string, v any) error
	SetJSON(key string, v any) error

	SaveJob(job storage.Job) error
	UpdateJobStatus(id, status, lastError string) error
	GetJob(id string) (storage.Job, error)
	LatestJob(kind, vectorIndex string) (storage.Job, error)
	ListJobs(limit int, activeOnly bool) ([]storage.Job, error)
}

var (
	// ErrNoNote is returned when no notes are stored for a document.
	ErrNoNote = errors.New("no notes for this paper")
	// ErrNoSession is returned when sending to a paper without an open chat.
	ErrNoSession = errors.New("no chat session for this paper")
	// ErrUnknownResult is returned when opening an id that is not in the
	// current search results.
	ErrUnknownResult = errors.New("paper is not in the current search results")
)

// JobError reports a job that finished with status "error".
type JobError struct {
	JobID   string
	Message string
}

func (e *JobError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("job %s failed", e.JobID)
	}
	return fmt.Sprintf("job %s failed: %s", e.JobID, e.Message)
}

// App wires the proxy client to local state.
type App struct {
	api          API
	store        Store
	pollInterval time.Duration
	logger       *slog.Logger
	now          func() time.Time

	// mu serializes read-modify-write cycles on stored lists.
	mu sync.Mutex
}

// New creates an App. If pollInterval is <= 0, poll.DefaultInterval is used.
func New(api API, store Store, pollInterval time.Duration) *App {
	if pollInterval <= 0 {
		pollInterval = poll.DefaultInterval
	}
	return &App{
		api:          api,
		store:        store,
		pollInterval: pollInterval,
		logger:       slog.Default(),
		now:          time.Now,
	}
}

// Jobs lists jobs this client started, newest first.
func (a *App) Jobs(limit int, activeOnly bool) ([]storage.Job, error) {
	if limit <= 0 {
		limit = 20
	}
	return a.store.ListJobs(limit, activeOnly)
}

// Job returns one job by its backend id.
func (a *App) Job(id string) (storage.Job, error) {
	return a.store.GetJob(id)
}

// waitForJob polls check until the job is terminal, mirroring each observed
// status into the jobs table.
func (a *App) waitForJob(ctx context.Context, jobID string, check poll.Check) (backend.JobStatus, error) {
	last := backend.StatusRunning
	p := poll.New(a.pollInterval).WithObserver(func(st backend.JobStatus) {
		if st.Status == last {
			return
		}
		last = st.Status
		if err := a.store.UpdateJobStatus(jobID, st.Status, st.Error); err != nil {
			a.logger.Warn("recording job status", "job_id", jobID, "status", st.Status, "error", err)
		}
	})

	st, err := p.Until(ctx, check)
	if err != nil {
		return backend.JobStatus{}, err
	}
	if st.Status == backend.StatusFailed {
		return st, &JobError{JobID: jobID, Message: st.Error}
	}
	return st, nil
}

func (a *App) getJSON(key string, v any) error {
	err := a.store.GetJSON(key, v)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}
