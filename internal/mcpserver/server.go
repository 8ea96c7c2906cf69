// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes Jotter notes as tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/jotter/internal/apperr"
	"github.com/starford/jotter/internal/models"
	"github.com/starford/jotter/internal/search"
	"github.com/starford/jotter/internal/store"
)

// Server wraps the MCP server with note tools.
type Server struct {
	mcp    *server.MCPServer
	store  *store.Store
	search *search.Engine
}

// New creates a new MCP server with all note tools registered.
func New(st *store.Store, eng *search.Engine, version string) *Server {
	s := &Server{store: st, search: eng}

	s.mcp = server.NewMCPServer(
		"Jotter",
		version,
		server.WithToolCapabilities(false),
	)

	s.mcp.AddTool(mcp.NewTool("list_notes",
		mcp.WithDescription("List notes, newest first, with their summary instead of the full content."),
		mcp.WithNumber("limit", mcp.Description("Maximum number of notes (0 = all)")),
	), s.listNotes)

	s.mcp.AddTool(mcp.NewTool("read_note",
		mcp.WithDescription("Read a single note by id."),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Note id")),
	), s.readNote)

	s.mcp.AddTool(mcp.NewTool("create_note",
		mcp.WithDescription("Create a new note. Content must not be blank."),
		mcp.WithString("title", mcp.Description("Optional title")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Note text")),
	), s.createNote)

	s.mcp.AddTool(mcp.NewTool("update_note",
		mcp.WithDescription("Replace the title and content of an existing note. "+
			"Omitting title clears it."),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Note id")),
		mcp.WithString("title", mcp.Description("New title")),
		mcp.WithString("content", mcp.Required(), mcp.Description("New note text")),
	), s.updateNote)

	s.mcp.AddTool(mcp.NewTool("delete_note",
		mcp.WithDescription("Delete a note permanently."),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Note id")),
	), s.deleteNote)

	s.mcp.AddTool(mcp.NewTool("search_notes",
		mcp.WithDescription("Case-insensitive substring search through note content and titles. "+
			"Returns matching notes with a snippet around the first match."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search text")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of results (0 = all)")),
	), s.searchNotes)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(out)), nil
}

// errorResult reports err to the model. Storage failures are logged and
// replaced by a generic message.
func errorResult(tool string, err error) *mcp.CallToolResult {
	if apperr.HTTPStatus(err) >= 500 {
		slog.Error("mcp tool failed", slog.String("tool", tool), slog.String("error", err.Error()))
	}
	return mcp.NewToolResultError(apperr.PublicMessage(err))
}

func noteID(req mcp.CallToolRequest) (int64, error) {
	id, err := req.RequireInt("id")
	if err != nil {
		return 0, apperr.Validation("%s", err.Error())
	}
	return int64(id), nil
}

// optionalTitle returns the title argument, or nil when it is absent or null.
func optionalTitle(req mcp.CallToolRequest) *string {
	if t, ok := req.GetArguments()["title"].(string); ok {
		return &t
	}
	return nil
}

// listItem is a note without its content.
type listItem struct {
	ID        int64     `json:"id"`
	Title     *string   `json:"title"`
	Summary   string    `json:"summary"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toListItem(n models.Note) listItem {
	return listItem{ID: n.ID, Title: n.Title, Summary: n.Summary, CreatedAt: n.CreatedAt, UpdatedAt: n.UpdatedAt}
}

func (s *Server) listNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 0)
	if limit < 0 {
		return mcp.NewToolResultError("limit must not be negative"), nil
	}
	notes, err := s.store.List(ctx)
	if err != nil {
		return errorResult("list_notes", err), nil
	}
	if limit > 0 && len(notes) > limit {
		notes = notes[:limit]
	}
	items := make([]listItem, 0, len(notes))
	for _, n := range notes {
		items = append(items, toListItem(n))
	}
	return jsonResult(items)
}

func (s *Server) readNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := noteID(req)
	if err != nil {
		return errorResult("read_note", err), nil
	}
	n, err := s.store.Get(ctx, id)
	if err != nil {
		return errorResult("read_note", err), nil
	}
	return jsonResult(n)
}

func (s *Server) createNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	n, err := s.store.Create(ctx, optionalTitle(req), content)
	if err != nil {
		return errorResult("create_note", err), nil
	}
	return jsonResult(n)
}

func (s *Server) updateNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := noteID(req)
	if err != nil {
		return errorResult("update_note", err), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	n, err := s.store.Update(ctx, id, optionalTitle(req), content)
	if err != nil {
		return errorResult("update_note", err), nil
	}
	return jsonResult(n)
}

func (s *Server) deleteNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := noteID(req)
	if err != nil {
		return errorResult("delete_note", err), nil
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return errorResult("delete_note", err), nil
	}
	return jsonResult(map[string]any{"deleted": id})
}

func (s *Server) searchNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	limit := req.GetInt("limit", 0)
	if limit < 0 {
		return mcp.NewToolResultError("limit must not be negative"), nil
	}
	results, err := s.search.Search(ctx, query, limit)
	if err != nil {
		return errorResult("search_notes", err), nil
	}
	return jsonResult(results)
}
