// Package mcp exposes ResearchEngine's six operations as MCP tools:
// start, status, get, cancel, estimate, save. It never contains
// orchestration logic itself; every handler is a thin argument-parsing
// shim over an Engine call.
package mcp

import (
	"context"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/deepresearch-mcp/orchestrator/internal/engine"
)

// ServerConfig names the MCP server as it introduces itself to clients.
type ServerConfig struct {
	Name    string
	Version string
}

// ServerDeps holds the Server's sole collaborator. Engine must be non-nil.
type ServerDeps struct {
	Engine *engine.Engine
}

// Server wraps an mcp-go MCPServer configured with the deep-research tool
// set. All state lives in deps.Engine; Server itself is a thin adapter.
type Server struct {
	cfg       ServerConfig
	deps      ServerDeps
	mcpServer *mcpserver.MCPServer
}

// NewServer builds and registers all tools on a new MCP server instance.
func NewServer(cfg ServerConfig, deps ServerDeps) *Server {
	s := &Server{
		cfg:  cfg,
		deps: deps,
		mcpServer: mcpserver.NewMCPServer(
			cfg.Name,
			cfg.Version,
			mcpserver.WithToolCapabilities(true),
			mcpserver.WithRecovery(),
			mcpserver.WithInstructions(
				"Start, monitor, and retrieve deep research tasks. Long-running "+
					"queries return immediately with a task_id; poll status until "+
					"the task reaches a terminal state, then call get.",
			),
		),
	}
	s.registerTools()
	return s
}

// MCPServer exposes the underlying mcp-go server, mainly for tests.
func (s *Server) MCPServer() *mcpserver.MCPServer { return s.mcpServer }

// Start serves the MCP protocol over stdio, blocking until stdin closes or
// the process receives SIGINT/SIGTERM. ctx becomes the context of every tool
// call; cancelling it does not itself stop serving.
func (s *Server) Start(ctx context.Context) error {
	return mcpserver.ServeStdio(
		s.mcpServer,
		mcpserver.WithStdioContextFunc(func(context.Context) context.Context { return ctx }),
	)
}

func toolResultJSON(data string) *mcplib.CallToolResult {
	return mcplib.NewToolResultText(data)
}

func toolError(msg string, err error) *mcplib.CallToolResult {
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(msg, err)
	}
	return mcplib.NewToolResultError(msg)
}
