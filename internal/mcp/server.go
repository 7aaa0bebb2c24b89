// Package mcp exposes a running trace's accumulated state as MCP tools for
// AI-assisted diagnosis: read-only introspection (summary, flow table,
// capabilities), not alerting. Structured output meant for an AI-driven
// diagnostic client, narrowed from a general system-health surface to this
// tracer's amplification data.
package mcp

import (
	"context"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/shuwens/reverb-eBPF/internal/ebpf"
	"github.com/shuwens/reverb-eBPF/internal/flow"
	"github.com/shuwens/reverb-eBPF/internal/stats"
)

// State is the live run state the tools read from. The consumer loop owns
// these and updates them concurrently with tool calls; reads here never
// block the trace.
type State struct {
	Stats         *stats.Registry
	Flows         *flow.Table
	Capabilities  ebpf.Capabilities
	CorrelationOn bool
}

// Server wraps the MCP server instance.
type Server struct {
	mcpServer *server.MCPServer
	state     *State
}

// NewServer creates an MCP server bound to a run's live state.
func NewServer(version string, state *State) *Server {
	s := server.NewMCPServer("reverb", version, server.WithLogging())

	srv := &Server{mcpServer: s, state: state}
	srv.registerTools()

	return srv
}

// Start runs the server in stdio mode (blocking).
func (s *Server) Start(ctx context.Context) error {
	stdioServer := server.NewStdioServer(s.mcpServer)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}
