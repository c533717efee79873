package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/paperlens/paperlens/internal/history"
	"github.com/paperlens/paperlens/internal/storage"
)

// Store is the persistence the housekeeping jobs need.
type Store interface {
	GetJSON(key string, v any) error
	Keys(prefix string) ([]string, error)
	Remove(key string) error
	DeleteFinishedJobsBefore(cutoff time.Time) (int64, error)
}

// DefaultJobRetention is how long finished jobs are kept.
const DefaultJobRetention = 7 * 24 * time.Hour

// TranscriptCleanup removes chat transcripts whose paper has dropped out of
// the chat history.
type TranscriptCleanup struct {
	Store Store
}

func (j *TranscriptCleanup) Name() string { return "transcript_cleanup" }

func (j *TranscriptCleanup) Run(ctx context.Context) error {
	var list []history.ChatEntry
	if err := j.Store.GetJSON(history.KeyChatHistory, &list); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("loading chat history: %w", err)
	}
	keep := make(map[string]bool, len(list))
	for _, e := range list {
		keep[e.ID] = true
	}

	keys, err := j.Store.Keys(history.ChatKey(""))
	if err != nil {
		return fmt.Errorf("listing transcripts: %w", err)
	}
	removed := 0
	for _, k := range keys {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if keep[strings.TrimPrefix(k, history.ChatKey(""))] {
			continue
		}
		if err := j.Store.Remove(k); err != nil {
			return fmt.Errorf("removing %s: %w", k, err)
		}
		removed++
	}
	if removed > 0 {
		slog.Info("removed orphaned transcripts", "count", removed)
	}
	return nil
}

// JobCleanup deletes finished jobs older than MaxAge.
type JobCleanup struct {
	Store  Store
	MaxAge time.Duration
	Now    func() time.Time
}

func (j *JobCleanup) Name() string { return "job_cleanup" }

func (j *JobCleanup) Run(ctx context.Context) error {
	maxAge := j.MaxAge
	if maxAge <= 0 {
		maxAge = DefaultJobRetention
	}
	now := time.Now
	if j.Now != nil {
		now = j.Now
	}
	n, err := j.Store.DeleteFinishedJobsBefore(now().Add(-maxAge))
	if err != nil {
		return fmt.Errorf("deleting finished jobs: %w", err)
	}
	if n > 0 {
		slog.Info("removed finished jobs", "count", n)
	}
	return nil
}
