package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/shuwens/reverb-eBPF/internal/output"
)

// registerTools adds all supported tools to the server.
func (s *Server) registerTools() {
	capsTool := mcp.NewTool("get_capabilities",
		mcp.WithDescription("Report which BTF/CO-RE kernel features this host supports for probe attachment. No root required."),
	)
	s.mcpServer.AddTool(capsTool, s.handleGetCapabilities)

	summaryTool := mcp.NewTool("get_summary",
		mcp.WithDescription("Return the current run's three-section amplification summary: per-layer statistics, amplification ladder, and (if correlation is enabled) per-request correlation table."),
		mcp.WithNumber("top_n",
			mcp.Description("Limit the correlation table to the N earliest-started requests. Omit for all."),
		),
	)
	s.mcpServer.AddTool(summaryTool, s.handleGetSummary)

	flowsTool := mcp.NewTool("list_flows",
		mcp.WithDescription("List live flow records (one per correlated request_id), sorted by start time. Use to inspect a specific request's per-layer byte accounting."),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of flows to return (default 50)."),
		),
	)
	s.mcpServer.AddTool(flowsTool, s.handleListFlows)

	warningsTool := mcp.NewTool("get_warnings",
		mcp.WithDescription("List saturation/drop warnings the run's counters have tripped (ring loss, table eviction, orphaned bios, implausible amplification)."),
	)
	s.mcpServer.AddTool(warningsTool, s.handleGetWarnings)
}

func (s *Server) handleGetCapabilities(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return newTextResult(s.state.Capabilities.Format()), nil
}

func (s *Server) handleGetSummary(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := getArgs(request)
	topN := intArg(args, "top_n", 0)

	summary := output.BuildSummary(s.state.Stats, s.state.Flows, nil, s.state.CorrelationOn, topN, 0)

	jsonData, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return errResult(fmt.Sprintf("json marshal failed: %v", err)), nil
	}
	return newTextResult(string(jsonData)), nil
}

func (s *Server) handleListFlows(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := getArgs(request)
	limit := intArg(args, "limit", 50)

	records := s.state.Flows.All()
	sort.Slice(records, func(i, j int) bool { return records[i].StartNS < records[j].StartNS })
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}

	jsonData, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return errResult(fmt.Sprintf("json marshal failed: %v", err)), nil
	}
	return newTextResult(string(jsonData)), nil
}

func (s *Server) handleGetWarnings(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	warnings := output.DetectWarnings(s.state.Stats, s.state.Flows, s.state.Flows.EvictedCount(), 0)
	if warnings == nil {
		warnings = []output.Warning{}
	}

	jsonData, err := json.MarshalIndent(warnings, "", "  ")
	if err != nil {
		return errResult(fmt.Sprintf("json marshal failed: %v", err)), nil
	}
	return newTextResult(string(jsonData)), nil
}

// getArgs safely extracts the arguments map from a CallToolRequest. Returns
// an empty map if Arguments is nil or not a map.
func getArgs(request mcp.CallToolRequest) map[string]interface{} {
	if request.Params.Arguments == nil {
		return map[string]interface{}{}
	}
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return map[string]interface{}{}
	}
	return args
}

// intArg extracts an integer argument with a default value.
func intArg(args map[string]interface{}, key string, defaultVal int) int {
	val, ok := args[key]
	if !ok || val == nil {
		return defaultVal
	}
	f, ok := val.(float64)
	if !ok {
		return defaultVal
	}
	return int(f)
}

// newTextResult creates a successful MCP tool result with text content.
func newTextResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: text,
			},
		},
	}
}

// errResult creates an MCP tool error result (IsError=true), a tool-level
// error rather than a transport-level JSON-RPC error.
func errResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: msg,
			},
		},
	}
}
