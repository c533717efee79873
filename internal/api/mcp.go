package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/paperlens/paperlens/internal/app"
	"github.com/paperlens/paperlens/internal/backend"
	"github.com/paperlens/paperlens/internal/history"
	"github.com/paperlens/paperlens/internal/papers"
)

// Papers is the set of app flows exposed over MCP. Implemented by app.App.
type Papers interface {
	Search(ctx context.Context, query string) ([]backend.SearchResult, error)
	GenerateNotes(ctx context.Context, id string, resume bool) (app.Note, error)
	Notes() ([]history.NoteEntry, error)
	OpenChat(ctx context.Context, id, title string, restart bool) (app.ChatSession, error)
	Send(ctx context.Context, id, message string) ([]app.Message, error)
	ChatHistory(filter string) ([]history.ChatEntry, error)
}

const defaultSearchLimit = 10

// NewMCPServer creates an MCP server with the paperlens tools and resources
// registered.
func NewMCPServer(p Papers, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"paperlens",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("paperlens: search research papers, generate notes and chat with a paper."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("search_papers",
			mcp.WithDescription("Search research papers by text query."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 10)")),
		),
		mcpSearchPapers(p),
	)

	s.AddTool(
		mcp.NewTool("generate_notes",
			mcp.WithDescription("Generate study notes for a paper from the latest search results and return them as markdown."),
			mcp.WithString("id", mcp.Description("Paper id from search_papers"), mcp.Required()),
			mcp.WithBoolean("resume", mcp.Description("Resume an unfinished notes job instead of starting a new one")),
		),
		mcpGenerateNotes(p),
	)

	s.AddTool(
		mcp.NewTool("list_notes",
			mcp.WithDescription("List papers that have generated notes, newest first."),
		),
		mcpListNotes(p),
	)

	s.AddTool(
		mcp.NewTool("chat_with_paper",
			mcp.WithDescription("Ask a question about a paper. Opens a chat session if none exists."),
			mcp.WithString("id", mcp.Description("Paper id"), mcp.Required()),
			mcp.WithString("message", mcp.Description("Question to ask"), mcp.Required()),
			mcp.WithString("title", mcp.Description("Paper title, used when opening a new session")),
		),
		mcpChatWithPaper(p),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"paperlens://notes",
			"Notes Index",
			mcp.WithResourceDescription("Papers with generated notes as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceNotes(p),
	)

	s.AddResource(
		mcp.NewResource(
			"paperlens://chats",
			"Chat History",
			mcp.WithResourceDescription("Recent chat sessions as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceChats(p),
	)

	return s
}

type searchHit struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	PDFURL         string `json:"pdf_url"`
	CollectionName string `json:"collection_name,omitempty"`
}

func mcpSearchPapers(p Papers) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil || query == "" {
			return mcpError("query is required"), nil
		}
		limit := req.GetInt("limit", defaultSearchLimit)
		if limit <= 0 {
			limit = defaultSearchLimit
		}

		results, err := p.Search(ctx, query)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if len(results) > limit {
			results = results[:limit]
		}

		hits := make([]searchHit, len(results))
		for i, r := range results {
			hits[i] = searchHit{
				ID:             r.ID,
				Title:          r.Title,
				PDFURL:         papers.PDFURL(r.DownloadURL),
				CollectionName: r.CollectionName,
			}
		}
		b, err := json.Marshal(hits)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGenerateNotes(p Papers) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil || id == "" {
			return mcpError("id is required"), nil
		}

		note, err := p.GenerateNotes(ctx, id, req.GetBool("resume", false))
		if err != nil {
			return mcpError(fmt.Sprintf("notes failed: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("# %s\n\n%s", note.Title, note.Content)), nil
	}
}

func mcpListNotes(p Papers) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		list, err := p.Notes()
		if err != nil {
			return mcpError(fmt.Sprintf("listing notes failed: %v", err)), nil
		}
		if len(list) == 0 {
			return mcpText("[]"), nil
		}
		b, err := json.Marshal(list)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal notes: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpChatWithPaper(p Papers) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil || id == "" {
			return mcpError("id is required"), nil
		}
		message, err := req.RequireString("message")
		if err != nil || message == "" {
			return mcpError("message is required"), nil
		}

		chats, err := p.ChatHistory("")
		if err != nil {
			return mcpError(fmt.Sprintf("loading chat history failed: %v", err)), nil
		}
		if entry, ok := history.FindChat(chats, id); !ok || entry.ChatID == "" {
			if _, err := p.OpenChat(ctx, id, req.GetString("title", ""), false); err != nil {
				return mcpError(fmt.Sprintf("opening chat failed: %v", err)), nil
			}
		}

		msgs, err := p.Send(ctx, id, message)
		if err != nil {
			return mcpError(fmt.Sprintf("chat failed: %v", err)), nil
		}
		if n := len(msgs); n > 0 && msgs[n-1].Role == app.RoleAssistant {
			return mcpText(msgs[n-1].Content), nil
		}
		return mcpError("no answer received"), nil
	}
}

func mcpResourceNotes(p Papers) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		list, err := p.Notes()
		if err != nil {
			return nil, fmt.Errorf("failed to get notes index: %w", err)
		}
		return jsonResource(req.Params.URI, list)
	}
}

func mcpResourceChats(p Papers) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		list, err := p.ChatHistory("")
		if err != nil {
			return nil, fmt.Errorf("failed to get chat history: %w", err)
		}
		return jsonResource(req.Params.URI, list)
	}
}

func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", uri, err)
	}
	if string(b) == "null" {
		b = []byte("[]")
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
