package mcp

import (
	"context"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/shuwens/reverb-eBPF/internal/ebpf"
	"github.com/shuwens/reverb-eBPF/internal/event"
	"github.com/shuwens/reverb-eBPF/internal/flow"
	"github.com/shuwens/reverb-eBPF/internal/stats"
)

func TestGetArgsNilArguments(t *testing.T) {
	req := mcp.CallToolRequest{}
	args := getArgs(req)
	if args == nil || len(args) != 0 {
		t.Fatalf("expected empty map, got %v", args)
	}
}

func TestGetArgsWrongType(t *testing.T) {
	req := mcp.CallToolRequest{Params: mcp.CallToolParams{Arguments: "not a map"}}
	args := getArgs(req)
	if len(args) != 0 {
		t.Fatalf("expected empty map for wrong type, got %v", args)
	}
}

func TestIntArgPresentAndMissing(t *testing.T) {
	args := map[string]interface{}{"limit": float64(10)}
	if got := intArg(args, "limit", 50); got != 10 {
		t.Errorf("intArg present = %d, want 10", got)
	}
	if got := intArg(args, "missing", 50); got != 50 {
		t.Errorf("intArg missing = %d, want default 50", got)
	}
}

func newTestServer() *Server {
	state := &State{
		Stats:         stats.NewRegistry(),
		Flows:         flow.NewTable(10),
		Capabilities:  ebpf.Capabilities{},
		CorrelationOn: true,
	}
	return NewServer("test", state)
}

func TestHandleGetCapabilitiesReturnsText(t *testing.T) {
	s := newTestServer()
	result, err := s.handleGetCapabilities(context.Background(), mcp.CallToolRequest{})
	if err != nil {
		t.Fatalf("handleGetCapabilities: %v", err)
	}
	if len(result.Content) == 0 {
		t.Fatal("expected non-empty content")
	}
}

func TestHandleGetSummaryReturnsJSON(t *testing.T) {
	s := newTestServer()
	s.state.Stats.Observe(event.Event{Layer: event.LayerApplication, Kind: event.KindAppWrite, Size: 10})

	result, err := s.handleGetSummary(context.Background(), mcp.CallToolRequest{})
	if err != nil {
		t.Fatalf("handleGetSummary: %v", err)
	}
	text := textOf(t, result)
	if !strings.Contains(text, "ladder") {
		t.Errorf("summary JSON missing ladder section: %s", text)
	}
}

func TestHandleListFlowsRespectsLimit(t *testing.T) {
	s := newTestServer()
	for i := uint64(1); i <= 3; i++ {
		s.state.Flows.Apply(event.Event{Layer: event.LayerApplication, Kind: event.KindAppWrite, RequestID: i, Size: 1})
	}

	args := map[string]interface{}{"limit": float64(1)}
	result, err := s.handleListFlows(context.Background(), mcp.CallToolRequest{Params: mcp.CallToolParams{Arguments: args}})
	if err != nil {
		t.Fatalf("handleListFlows: %v", err)
	}
	text := textOf(t, result)
	if strings.Count(text, "request_id") != 1 {
		t.Errorf("expected exactly 1 flow in output, got: %s", text)
	}
}

func TestHandleGetWarningsNeverReturnsNullArray(t *testing.T) {
	s := newTestServer()
	result, err := s.handleGetWarnings(context.Background(), mcp.CallToolRequest{})
	if err != nil {
		t.Fatalf("handleGetWarnings: %v", err)
	}
	text := textOf(t, result)
	if strings.TrimSpace(text) == "null" {
		t.Error("warnings output should be [], not null, when there are none")
	}
}

func textOf(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("empty result content")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content[0] is not TextContent: %T", result.Content[0])
	}
	return tc.Text
}
