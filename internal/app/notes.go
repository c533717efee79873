package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/paperlens/paperlens/internal/backend"
	"github.com/paperlens/paperlens/internal/history"
	"github.com/paperlens/paperlens/internal/render"
	"github.com/paperlens/paperlens/internal/storage"
)

// Note is generated notes content for one paper, stored under note:{id}.
type Note struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// GenerateNotes starts a notes job for id, polls it to completion, stores the
// note and records it in the notes index. When resume is set and an earlier
// notes job for id is still running, that job is polled instead of starting a
// new one.
func (a *App) GenerateNotes(ctx context.Context, id string, resume bool) (Note, error) {
	jobID := ""
	if resume {
		if j, err := a.store.LatestJob(storage.JobKindNotes, id); err == nil && !j.Terminal() {
			jobID = j.ID
			a.logger.Info("resuming notes job", "id", id, "job_id", jobID)
		}
	}

	if jobID == "" {
		var err error
		jobID, err = a.api.StartNotes(ctx, id)
		if err != nil {
			return Note{}, fmt.Errorf("starting notes job: %w", err)
		}
		if err := a.store.SaveJob(storage.Job{ID: jobID, Kind: storage.JobKindNotes, VectorIndex: id}); err != nil {
			a.logger.Warn("recording notes job", "job_id", jobID, "error", err)
		}
	}

	st, err := a.waitForJob(ctx, jobID, func(ctx context.Context) (backend.JobStatus, error) {
		return a.api.NotesStatus(ctx, jobID)
	})
	if err != nil {
		return Note{}, err
	}

	var result backend.NotesResult
	if len(st.Result) > 0 {
		if err := json.Unmarshal(st.Result, &result); err != nil {
			return Note{}, fmt.Errorf("decoding notes result: %w", err)
		}
	}
	return a.saveNote(id, result)
}

func (a *App) saveNote(id string, result backend.NotesResult) (Note, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	title := result.Title()
	if history.IsPlaceholder(title) {
		title = a.titleFor(id)
	}

	var index []history.NoteEntry
	if err := a.getJSON(history.KeyNotesIndex, &index); err != nil {
		return Note{}, fmt.Errorf("loading notes index: %w", err)
	}
	index = history.UpsertNote(index, history.NoteEntry{ID: id, Title: title, CreatedAt: a.now().UTC()})
	entry := index[0]

	note := Note{
		ID:        id,
		Title:     entry.Title,
		Content:   result.ExtractedText,
		Metadata:  result.PaperMetadata,
		CreatedAt: entry.CreatedAt,
	}
	if err := a.store.SetJSON(history.NoteKey(id), note); err != nil {
		return Note{}, fmt.Errorf("saving note: %w", err)
	}
	if err := a.store.SetJSON(history.KeyNotesIndex, index); err != nil {
		return Note{}, fmt.Errorf("saving notes index: %w", err)
	}
	return note, nil
}

// Notes returns the notes index, newest first.
func (a *App) Notes() ([]history.NoteEntry, error) {
	var index []history.NoteEntry
	if err := a.getJSON(history.KeyNotesIndex, &index); err != nil {
		return nil, fmt.Errorf("loading notes index: %w", err)
	}
	return index, nil
}

// Note returns the stored note for id.
func (a *App) Note(id string) (Note, error) {
	var n Note
	err := a.store.GetJSON(history.NoteKey(id), &n)
	if errors.Is(err, storage.ErrNotFound) {
		return Note{}, fmt.Errorf("%w: %s", ErrNoNote, id)
	}
	return n, err
}

// DeleteNote removes the note and its index entry.
func (a *App) DeleteNote(id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var index []history.NoteEntry
	if err := a.getJSON(history.KeyNotesIndex, &index); err != nil {
		return fmt.Errorf("loading notes index: %w", err)
	}
	if _, ok := history.FindNote(index, id); !ok {
		if _, err := a.store.Get(history.NoteKey(id)); errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrNoNote, id)
		}
	}
	if err := a.store.SetJSON(history.KeyNotesIndex, history.DeleteNote(index, id)); err != nil {
		return fmt.Errorf("saving notes index: %w", err)
	}
	return a.store.Remove(history.NoteKey(id))
}

// Export formats.
const (
	FormatMarkdown = "md"
	FormatHTML     = "html"
	FormatPDF      = "pdf"
)

// ExportNote renders the note for id as markdown, HTML or PDF.
func (a *App) ExportNote(id, format string) ([]byte, error) {
	n, err := a.Note(id)
	if err != nil {
		return nil, err
	}
	md := noteMarkdown(n)
	switch strings.ToLower(format) {
	case FormatMarkdown, "markdown", "":
		return []byte("# " + n.Title + "\n\n" + md), nil
	case FormatHTML:
		return render.HTMLDocument(n.Title, md)
	case FormatPDF:
		return render.PDF(n.Title, md)
	default:
		return nil, fmt.Errorf("unknown export format %q (want md, html or pdf)", format)
	}
}

// noteMarkdown prefixes the note body with its paper metadata.
func noteMarkdown(n Note) string {
	var b strings.Builder
	keys := make([]string, 0, len(n.Metadata))
	for k := range n.Metadata {
		if k == "title" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := formatMeta(n.Metadata[k])
		if v == "" {
			continue
		}
		fmt.Fprintf(&b, "- **%s:** %s\n", k, v)
	}
	if b.Len() > 0 {
		b.WriteString("\n")
	}
	b.WriteString(n.Content)
	return b.String()
}

func formatMeta(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []any:
		parts := make([]string, 0, len(t))
		for _, p := range t {
			if s := formatMeta(p); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprint(t)
	}
}
