package api

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/paperlens/paperlens/internal/app"
	"github.com/paperlens/paperlens/internal/backend"
	"github.com/paperlens/paperlens/internal/history"
)

// --- mocks ---

type mockPapers struct {
	results   []backend.SearchResult
	searchErr error
	note      app.Note
	notesErr  error
	notes     []history.NoteEntry
	chats     []history.ChatEntry
	answer    string

	lastQuery  string
	lastResume bool
	opened     []string
	sent       []string
}

func (m *mockPapers) Search(_ context.Context, query string) ([]backend.SearchResult, error) {
	m.lastQuery = query
	return m.results, m.searchErr
}

func (m *mockPapers) GenerateNotes(_ context.Context, id string, resume bool) (app.Note, error) {
	m.lastResume = resume
	if m.notesErr != nil {
		return app.Note{}, m.notesErr
	}
	n := m.note
	n.ID = id
	return n, nil
}

func (m *mockPapers) Notes() ([]history.NoteEntry, error) {
	return m.notes, nil
}

func (m *mockPapers) OpenChat(_ context.Context, id, title string, _ bool) (app.ChatSession, error) {
	m.opened = append(m.opened, id)
	m.chats = history.UpsertChat(m.chats, id, title, "chat-"+id, time.Now())
	return app.ChatSession{ID: id, ChatID: "chat-" + id, Title: title}, nil
}

func (m *mockPapers) Send(_ context.Context, id, message string) ([]app.Message, error) {
	if _, ok := history.FindChat(m.chats, id); !ok {
		return nil, app.ErrNoSession
	}
	m.sent = append(m.sent, message)
	return []app.Message{
		{Role: app.RoleUser, Content: message},
		{Role: app.RoleAssistant, Content: m.answer},
	}, nil
}

func (m *mockPapers) ChatHistory(string) ([]history.ChatEntry, error) {
	return m.chats, nil
}

// --- helpers ---

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

// --- tests ---

func TestNewMCPServer(t *testing.T) {
	if s := NewMCPServer(&mockPapers{}, "test"); s == nil {
		t.Fatal("expected server")
	}
}

func TestMCPTool_SearchPapers(t *testing.T) {
	p := &mockPapers{results: []backend.SearchResult{
		{ID: "1", Title: "Attention", DownloadURL: "https://arxiv.org/abs/1706.03762"},
		{ID: "2", Title: "BERT", DownloadURL: "https://example.com/bert.pdf"},
		{ID: "3", Title: "GPT"},
	}}
	handler := mcpSearchPapers(p)

	result, err := handler(context.Background(), makeCallToolRequest("search_papers", map[string]interface{}{
		"query": "transformers",
		"limit": 2,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	if p.lastQuery != "transformers" {
		t.Errorf("query = %q", p.lastQuery)
	}

	var hits []searchHit
	if err := json.Unmarshal([]byte(toolText(t, result)), &hits); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].PDFURL != "https://arxiv.org/pdf/1706.03762.pdf" {
		t.Errorf("pdf_url = %q", hits[0].PDFURL)
	}
	if hits[1].PDFURL != "https://example.com/bert.pdf" {
		t.Errorf("pdf_url = %q", hits[1].PDFURL)
	}
}

func TestMCPTool_SearchPapers_Errors(t *testing.T) {
	handler := mcpSearchPapers(&mockPapers{searchErr: errors.New("backend down")})

	result, _ := handler(context.Background(), makeCallToolRequest("search_papers", map[string]interface{}{}))
	if !result.IsError {
		t.Fatal("expected error for missing query")
	}

	result, _ = handler(context.Background(), makeCallToolRequest("search_papers", map[string]interface{}{"query": "x"}))
	if !result.IsError || !strings.Contains(toolText(t, result), "backend down") {
		t.Fatalf("expected backend error, got %q", toolText(t, result))
	}
}

func TestMCPTool_GenerateNotes(t *testing.T) {
	p := &mockPapers{note: app.Note{Title: "Attention", Content: "Key idea: self-attention."}}
	handler := mcpGenerateNotes(p)

	result, err := handler(context.Background(), makeCallToolRequest("generate_notes", map[string]interface{}{
		"id":     "1",
		"resume": true,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	text := toolText(t, result)
	if !strings.HasPrefix(text, "# Attention") || !strings.Contains(text, "self-attention") {
		t.Errorf("text = %q", text)
	}
	if !p.lastResume {
		t.Error("resume flag not passed through")
	}
}

func TestMCPTool_GenerateNotes_JobError(t *testing.T) {
	handler := mcpGenerateNotes(&mockPapers{notesErr: &app.JobError{JobID: "j", Message: "model crashed"}})

	result, _ := handler(context.Background(), makeCallToolRequest("generate_notes", map[string]interface{}{"id": "1"}))
	if !result.IsError || !strings.Contains(toolText(t, result), "model crashed") {
		t.Fatalf("expected job error, got %q", toolText(t, result))
	}
}

func TestMCPTool_ListNotes_Empty(t *testing.T) {
	result, _ := mcpListNotes(&mockPapers{})(context.Background(), makeCallToolRequest("list_notes", nil))
	if toolText(t, result) != "[]" {
		t.Errorf("text = %q, want []", toolText(t, result))
	}
}

func TestMCPTool_ChatWithPaper_OpensSessionOnce(t *testing.T) {
	p := &mockPapers{answer: "It introduces transformers."}
	handler := mcpChatWithPaper(p)
	args := map[string]interface{}{"id": "1", "message": "What is new?", "title": "Attention"}

	for i := 0; i < 2; i++ {
		result, err := handler(context.Background(), makeCallToolRequest("chat_with_paper", args))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.IsError {
			t.Fatalf("unexpected error: %s", toolText(t, result))
		}
		if toolText(t, result) != "It introduces transformers." {
			t.Errorf("answer = %q", toolText(t, result))
		}
	}
	if len(p.opened) != 1 {
		t.Errorf("OpenChat called %d times, want 1", len(p.opened))
	}
	if len(p.sent) != 2 {
		t.Errorf("Send called %d times, want 2", len(p.sent))
	}
}

func TestMCPTool_ChatWithPaper_RequiresMessage(t *testing.T) {
	result, _ := mcpChatWithPaper(&mockPapers{})(context.Background(), makeCallToolRequest("chat_with_paper", map[string]interface{}{"id": "1"}))
	if !result.IsError {
		t.Fatal("expected error for missing message")
	}
}

func TestMCPResource_Notes(t *testing.T) {
	p := &mockPapers{notes: []history.NoteEntry{{ID: "1", Title: "Attention"}}}

	contents, err := mcpResourceNotes(p)(context.Background(), makeReadResourceRequest("paperlens://notes"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	if tc.URI != "paperlens://notes" || tc.MIMEType != "application/json" {
		t.Errorf("contents = %+v", tc)
	}
	var list []history.NoteEntry
	if err := json.Unmarshal([]byte(tc.Text), &list); err != nil || len(list) != 1 {
		t.Fatalf("notes = %s, err = %v", tc.Text, err)
	}
}

func TestMCPResource_ChatsEmpty(t *testing.T) {
	contents, err := mcpResourceChats(&mockPapers{})(context.Background(), makeReadResourceRequest("paperlens://chats"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tc := contents[0].(mcp.TextResourceContents); tc.Text != "[]" {
		t.Errorf("text = %q, want []", tc.Text)
	}
}
