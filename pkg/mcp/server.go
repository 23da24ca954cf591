// Package mcp exposes a read-only MCP control surface over running and
// paused workflows: listing, status snapshots, and the persisted event log.
package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/troupe-sh/troupe/internal/eventlog"
	"github.com/troupe-sh/troupe/internal/store"
)

// TroupeServerDeps holds the dependencies for creating a TroupeServer.
type TroupeServerDeps struct {
	Store    store.Store
	EventLog *eventlog.Log
	Logger   *slog.Logger
}

// TroupeServer wraps an MCP server with troupe-specific tool handlers.
type TroupeServer struct {
	store     store.Store
	eventLog  *eventlog.Log
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewTroupeServer creates a TroupeServer with the read-only tools registered.
func NewTroupeServer(deps TroupeServerDeps) *TroupeServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &TroupeServer{
		store:    deps.Store,
		eventLog: deps.EventLog,
		logger:   logger,
	}

	mcpSrv := server.NewMCPServer(
		"troupe",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Troupe orchestrates multi-agent workflows. Use troupe.list to enumerate workflows, troupe.status to inspect one workflow's agents, and troupe.events to read its event history."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or
// stdin closes.
func (s *TroupeServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom
// transports.
func (s *TroupeServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *TroupeServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: listTool(), Handler: s.handleList},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: eventsTool(), Handler: s.handleEvents},
	}
}

func listTool() mcp.Tool {
	return mcp.NewTool("troupe.list",
		mcp.WithDescription("List workflows with a durable record (running or paused)"),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("troupe.status",
		mcp.WithDescription("Inspect one workflow: agents, states, stacks, cost"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("Workflow to inspect")),
	)
}

func eventsTool() mcp.Tool {
	return mcp.NewTool("troupe.events",
		mcp.WithDescription("Read a workflow's persisted lifecycle events in order"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("Workflow whose events to read")),
		mcp.WithNumber("limit", mcp.Description("Return only the last N events")),
	)
}
