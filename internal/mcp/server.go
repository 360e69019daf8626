// Package mcp exposes reaper's operations as MCP tools over stdio, the
// integration surface for a UI or agent collaborator.
package mcp

import (
	"context"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/reaper/internal/app"
)

// Server wraps the MCP SDK server around a runtime.
type Server struct {
	mcpServer *mcpsdk.Server
	rt        *app.Runtime
}

// New creates an MCP server with every reaper tool registered.
func New(rt *app.Runtime, version string) *Server {
	s := &Server{rt: rt}
	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "reaper",
			Version: version,
		},
		nil,
	)
	s.registerTools()
	return s
}

// Run starts the MCP server on stdio transport. Blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// registerTools adds all reaper tools to the MCP server.
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "reaper_catalog",
		Description: "List every action reaper can perform, with its permission class and risk tier.",
	}, s.handleCatalog)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "reaper_processes",
		Description: "List running processes with owner and protected flags, largest memory first.",
	}, s.handleProcesses)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "reaper_terminate",
		Description: "Terminate a process by pid, escalating from graceful quit to SIGTERM, SIGKILL and an administrator kill. Protected system processes are always refused.",
	}, s.handleTerminate)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "reaper_tabs",
		Description: "List open tabs of a browser (safari, chrome, edge, brave, arc).",
	}, s.handleTabs)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "reaper_close_tab",
		Description: "Close one browser tab by 1-based window and tab index as returned by reaper_tabs.",
	}, s.handleCloseTab)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "reaper_close_window",
		Description: "Close every tab of one browser window.",
	}, s.handleCloseWindow)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "reaper_maintenance",
		Description: "Run a maintenance action: memory.purge, dns.flush_cache or quicklook.reset_cache.",
	}, s.handleMaintenance)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "reaper_permissions",
		Description: "Show cached permission state for accessibility and each browser's automation consent.",
	}, s.handlePermissions)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "reaper_fix_permission",
		Description: "Trigger the macOS consent flow for a subject such as automation:com.google.Chrome or accessibility.",
	}, s.handleFixPermission)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "reaper_audit",
		Description: "Read recent audit records, optionally filtered by session or capability.",
	}, s.handleAudit)
}
