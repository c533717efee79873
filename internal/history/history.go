// Package history maintains the notes index and chat history lists that the
// client keeps in local storage.
package history

import (
	"slices"
	"strings"
	"time"
)

// Storage keys. Per-document keys are built with the helpers below.
const (
	KeySearchData  = "searchData"
	KeyNotesIndex  = "notesIndex"
	KeyChatHistory = "chatHistory"

	// MaxChats bounds ChatHistory.
	MaxChats = 10

	PlaceholderTitle = "Untitled Paper"
)

func ChatKey(id string) string { return "chat:" + id }
func PDFKey(id string) string  { return "pdf:" + id }
func NoteKey(id string) string { return "note:" + id }

// NoteEntry is one NotesIndex row.
type NoteEntry struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
}

// ChatEntry is one ChatHistory row.
type ChatEntry struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	ChatID       string    `json:"chatId"`
	CreatedAt    time.Time `json:"createdAt"`
	LastAccessed time.Time `json:"lastAccessed"`
}

// IsPlaceholder reports whether title carries no real information.
func IsPlaceholder(title string) bool {
	t := strings.TrimSpace(title)
	return t == "" || t == "Untitled" || t == PlaceholderTitle
}

func preferTitle(existing, incoming string) string {
	if IsPlaceholder(incoming) && !IsPlaceholder(existing) {
		return existing
	}
	if strings.TrimSpace(incoming) == "" {
		return PlaceholderTitle
	}
	return incoming
}

// UpsertNote removes any entry with the same id and prepends entry. The list
// is unbounded. An existing real title survives a placeholder and the
// original CreatedAt is kept.
func UpsertNote(list []NoteEntry, entry NoteEntry) []NoteEntry {
	out := make([]NoteEntry, 0, len(list)+1)
	for _, e := range list {
		if e.ID == entry.ID {
			entry.Title = preferTitle(e.Title, entry.Title)
			if !e.CreatedAt.IsZero() {
				entry.CreatedAt = e.CreatedAt
			}
			continue
		}
		out = append(out, e)
	}
	entry.Title = preferTitle("", entry.Title)
	return append([]NoteEntry{entry}, out...)
}

// DeleteNote returns list without id.
func DeleteNote(list []NoteEntry, id string) []NoteEntry {
	return slices.DeleteFunc(slices.Clone(list), func(e NoteEntry) bool { return e.ID == id })
}

// FindNote returns the entry for id.
func FindNote(list []NoteEntry, id string) (NoteEntry, bool) {
	i := slices.IndexFunc(list, func(e NoteEntry) bool { return e.ID == id })
	if i < 0 {
		return NoteEntry{}, false
	}
	return list[i], true
}

// UpsertChat records that document id was opened with chat session chatID at
// now. An existing entry is updated and moved to the front; otherwise a new
// one is prepended. The result holds at most MaxChats entries.
func UpsertChat(list []ChatEntry, id, title, chatID string, now time.Time) []ChatEntry {
	entry := ChatEntry{
		ID:           id,
		Title:        preferTitle("", title),
		ChatID:       chatID,
		CreatedAt:    now,
		LastAccessed: now,
	}

	out := make([]ChatEntry, 0, len(list)+1)
	for _, e := range list {
		if e.ID == id {
			entry.Title = preferTitle(e.Title, title)
			if !e.CreatedAt.IsZero() {
				entry.CreatedAt = e.CreatedAt
			}
			continue
		}
		out = append(out, e)
	}

	out = append([]ChatEntry{entry}, out...)
	if len(out) > MaxChats {
		out = out[:MaxChats]
	}
	return out
}

// DeleteChat returns list without id.
func DeleteChat(list []ChatEntry, id string) []ChatEntry {
	return slices.DeleteFunc(slices.Clone(list), func(e ChatEntry) bool { return e.ID == id })
}

// FindChat returns the entry for id.
func FindChat(list []ChatEntry, id string) (ChatEntry, bool) {
	i := slices.IndexFunc(list, func(e ChatEntry) bool { return e.ID == id })
	if i < 0 {
		return ChatEntry{}, false
	}
	return list[i], true
}

// FilterChats keeps entries whose title contains q, ignoring case. An empty q
// keeps everything.
func FilterChats(list []ChatEntry, q string) []ChatEntry {
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return slices.Clone(list)
	}
	var out []ChatEntry
	for _, e := range list {
		if strings.Contains(strings.ToLower(e.Title), q) {
			out = append(out, e)
		}
	}
	return out
}
