package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/paperlens/paperlens/internal/backend"
	"github.com/paperlens/paperlens/internal/history"
	"github.com/paperlens/paperlens/internal/storage"
)

// Chat roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one transcript line.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatSession is an open chat with a paper.
type ChatSession struct {
	ID       string
	ChatID   string
	Title    string
	PDFURL   string
	Messages []Message
}

// OpenChat starts a chat session for id, waits until the backend reports it
// ready and records it in the chat history. With restart the stored
// transcript is cleared first; otherwise it is loaded.
func (a *App) OpenChat(ctx context.Context, id, title string, restart bool) (ChatSession, error) {
	chatID, err := a.api.StartChat(ctx, id)
	if err != nil {
		return ChatSession{}, fmt.Errorf("starting chat: %w", err)
	}
	if err := a.store.SaveJob(storage.Job{ID: chatID, Kind: storage.JobKindChat, VectorIndex: id}); err != nil {
		a.logger.Warn("recording chat job", "chat_id", chatID, "error", err)
	}

	if _, err := a.waitForJob(ctx, chatID, func(ctx context.Context) (backend.JobStatus, error) {
		return a.api.ChatStatus(ctx, chatID)
	}); err != nil {
		return ChatSession{}, err
	}

	if history.IsPlaceholder(title) {
		title = a.titleFor(id)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var list []history.ChatEntry
	if err := a.getJSON(history.KeyChatHistory, &list); err != nil {
		return ChatSession{}, fmt.Errorf("loading chat history: %w", err)
	}
	list = history.UpsertChat(list, id, title, chatID, a.now().UTC())
	if err := a.store.SetJSON(history.KeyChatHistory, list); err != nil {
		return ChatSession{}, fmt.Errorf("saving chat history: %w", err)
	}

	if restart {
		if err := a.store.Remove(history.ChatKey(id)); err != nil {
			return ChatSession{}, fmt.Errorf("clearing transcript: %w", err)
		}
	}
	msgs, err := a.transcript(id)
	if err != nil {
		return ChatSession{}, err
	}

	sess := ChatSession{ID: id, ChatID: chatID, Title: list[0].Title, Messages: msgs}
	if u, err := a.store.Get(history.PDFKey(id)); err == nil {
		sess.PDFURL = u
	}
	return sess, nil
}

// Send asks a question in the open chat for id. Blank messages are ignored.
// The user message is persisted before the call, so a failed send keeps it
// in the transcript.
func (a *App) Send(ctx context.Context, id, message string) ([]Message, error) {
	a.mu.Lock()
	msgs, err := a.transcript(id)
	if err != nil {
		a.mu.Unlock()
		return nil, err
	}
	if strings.TrimSpace(message) == "" {
		a.mu.Unlock()
		return msgs, nil
	}

	var list []history.ChatEntry
	if err := a.getJSON(history.KeyChatHistory, &list); err != nil {
		a.mu.Unlock()
		return nil, fmt.Errorf("loading chat history: %w", err)
	}
	entry, ok := history.FindChat(list, id)
	if !ok || entry.ChatID == "" {
		a.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNoSession, id)
	}

	msgs = append(msgs, Message{Role: RoleUser, Content: message})
	if err := a.store.SetJSON(history.ChatKey(id), msgs); err != nil {
		a.mu.Unlock()
		return nil, fmt.Errorf("saving transcript: %w", err)
	}
	a.mu.Unlock()

	answer, sendErr := a.api.SendChatMessage(ctx, entry.ChatID, message)
	if sendErr != nil {
		return msgs, fmt.Errorf("sending message: %w", sendErr)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	// Re-read so concurrent sends to the same paper are not lost.
	msgs, err = a.transcript(id)
	if err != nil {
		return nil, err
	}
	msgs = append(msgs, Message{Role: RoleAssistant, Content: answer})
	if err := a.store.SetJSON(history.ChatKey(id), msgs); err != nil {
		return nil, fmt.Errorf("saving transcript: %w", err)
	}
	return msgs, nil
}

// Transcript returns the stored messages for id.
func (a *App) Transcript(id string) ([]Message, error) {
	return a.transcript(id)
}

func (a *App) transcript(id string) ([]Message, error) {
	msgs := []Message{}
	if err := a.getJSON(history.ChatKey(id), &msgs); err != nil {
		return nil, fmt.Errorf("loading transcript: %w", err)
	}
	return msgs, nil
}

// ChatHistory lists chats, newest first, keeping titles that contain filter
// (case-insensitive).
func (a *App) ChatHistory(filter string) ([]history.ChatEntry, error) {
	var list []history.ChatEntry
	if err := a.getJSON(history.KeyChatHistory, &list); err != nil {
		return nil, fmt.Errorf("loading chat history: %w", err)
	}
	return history.FilterChats(list, filter), nil
}

// DeleteChat removes the chat history entry and transcript for id.
func (a *App) DeleteChat(id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var list []history.ChatEntry
	if err := a.getJSON(history.KeyChatHistory, &list); err != nil {
		return fmt.Errorf("loading chat history: %w", err)
	}
	if _, ok := history.FindChat(list, id); !ok {
		if _, err := a.store.Get(history.ChatKey(id)); errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrNoSession, id)
		}
	}
	if err := a.store.SetJSON(history.KeyChatHistory, history.DeleteChat(list, id)); err != nil {
		return fmt.Errorf("saving chat history: %w", err)
	}
	return a.store.Remove(history.ChatKey(id))
}
