package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Job kinds.
const (
	JobKindNotes = "notes"
	JobKindChat  = "chat"
)

// Job is a backend job (notes generation or chat session) started by this
// client. Status mirrors the backend vocabulary: running, done, error,
// not_found.
type Job struct {
	ID          string
	Kind        string
	VectorIndex string
	Status      string
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Terminal reports whether the job will not change state again. not_found is
// not terminal: the backend may not have registered the job yet.
func (j Job) Terminal() bool {
	return j.Status == "done" || j.Status == "error"
}
