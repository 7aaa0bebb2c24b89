package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shuwens/reverb-eBPF/internal/config"
	"github.com/shuwens/reverb-eBPF/internal/ebpf"
	"github.com/shuwens/reverb-eBPF/internal/mcp"
	"github.com/shuwens/reverb-eBPF/internal/runner"
)

var (
	mcpObjectDir string
	mcpPinDir    string
	mcpCorrelate bool
)

// mcpCmd starts a live trace run and exposes its accumulated state over
// MCP on stdio, so an AI agent can poll get_summary/list_flows/get_warnings
// while the run is in progress rather than only after it exits.
var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start Model Context Protocol (MCP) server over a live trace",
	Long: `Starts a JSON-RPC server implementing the Model Context Protocol (MCP),
running a trace in the background and exposing its accumulated statistics,
flow table, and warnings as read-only tools.

Communication happens over standard input/output (stdio).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cfg := config.Default()
		cfg.TraceMode = config.TraceAll
		cfg.CorrelationEnabled = mcpCorrelate
		cfg.Quiet = true

		loader := ebpf.NewLoader(mcpObjectDir, mcpPinDir, false)
		r := runner.New(cfg, loader)

		runErr := make(chan error, 1)
		go func() { runErr <- runInBackground(ctx, r) }()

		state := &mcp.State{
			Stats:         r.Stats(),
			Flows:         r.Flows(),
			Capabilities:  ebpf.DetectCapabilities(),
			CorrelationOn: cfg.CorrelationEnabled,
		}

		srv := mcp.NewServer(version, state)
		if err := srv.Start(ctx); err != nil {
			return err
		}
		stop()
		return <-runErr
	},
}

func init() {
	mcpCmd.Flags().StringVar(&mcpObjectDir, "object-dir", "/usr/local/lib/reverb", "directory holding compiled probe objects")
	mcpCmd.Flags().StringVar(&mcpPinDir, "pin-dir", "/sys/fs/bpf/reverb", "bpffs directory for pinned shared maps")
	mcpCmd.Flags().BoolVarP(&mcpCorrelate, "correlate", "c", false, "enable request correlation")
}

// runInBackground runs the trace until ctx is cancelled, discarding its
// summary: under mcp, the live Stats/Flows accessors are the product, not
// the end-of-run report.
func runInBackground(ctx context.Context, r *runner.Runner) error {
	_, err := r.Run(ctx, nil)
	return err
}
