// reverb — I/O amplification tracer for the Linux storage stack.
//
// Attaches eBPF probes across five layers (application, storage service,
// OS, filesystem, device) and correlates them by request_id to show how
// many device bytes a single application write or read actually costs.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shuwens/reverb-eBPF/internal/classify"
	"github.com/shuwens/reverb-eBPF/internal/config"
	"github.com/shuwens/reverb-eBPF/internal/ebpf"
	"github.com/shuwens/reverb-eBPF/internal/output"
	"github.com/shuwens/reverb-eBPF/internal/runner"
)

var version = "0.1.0"

func main() {
	var (
		verbose      bool
		jsonStream   bool
		duration     int
		outputPath   string
		csvPath      string
		quiet        bool
		correlate    bool
		systemFilter string
		targetComm   string
		autoDiscover bool
		targetPIDs   []int
		erasure      bool
		metadata     bool
		objectDir    string
		pinDir       string
		summaryJSON  string
	)

	rootCmd := &cobra.Command{
		Use:     "reverb",
		Short:   "Trace I/O amplification across the storage stack",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			cfg.Verbose = verbose
			cfg.Quiet = quiet
			cfg.DurationSeconds = duration
			cfg.OutputPath = outputPath
			cfg.CSVPath = csvPath
			cfg.CorrelationEnabled = correlate
			cfg.SystemFilter = systemFilter
			cfg.TraceErasure = erasure
			cfg.TraceMetadata = metadata
			if jsonStream {
				cfg.OutputFormat = config.OutputJSON
			}

			switch {
			case len(targetPIDs) > 0:
				cfg.TraceMode = config.TraceByPID
				cfg.TargetPIDs = make(map[int]struct{}, len(targetPIDs))
				for _, pid := range targetPIDs {
					cfg.TargetPIDs[pid] = struct{}{}
				}
			case autoDiscover:
				cfg.TraceMode = config.TraceByPID
				cfg.TargetComm = targetComm
				cfg.AutoDiscover = true
				discovered := classify.DiscoverPIDs("/proc", targetComm)
				cfg.TargetPIDs = make(map[int]struct{}, len(discovered))
				for _, pid := range discovered {
					cfg.TargetPIDs[pid] = struct{}{}
				}
			case targetComm != "":
				cfg.TraceMode = config.TraceByName
				cfg.TargetComm = targetComm
			default:
				cfg.TraceMode = config.TraceAll
			}

			if targetComm == classify.SelfComm {
				return fmt.Errorf("reverb: refusing to target its own comm %q", classify.SelfComm)
			}

			out, closeOut, err := openOutput(outputPath)
			if err != nil {
				return err
			}
			defer closeOut()

			var stream *output.StreamWriter
			if !quiet {
				format := output.StreamHuman
				if jsonStream {
					format = output.StreamJSON
				}
				stream = output.NewStreamWriter(out, format, correlate)
			}

			loader := ebpf.NewLoader(objectDir, pinDir, verbose)
			r := runner.New(cfg, loader)

			summary, err := r.Run(cmd.Context(), stream)
			if err != nil {
				return fmt.Errorf("reverb: %w", err)
			}

			if err := summary.WriteText(out); err != nil {
				return fmt.Errorf("reverb: writing summary: %w", err)
			}

			if summaryJSON != "" {
				if err := output.WriteJSON(summary, summaryJSON); err != nil {
					return fmt.Errorf("reverb: writing summary json: %w", err)
				}
			}

			if csvPath != "" {
				if err := output.WriteCSV(r.Flows(), csvPath); err != nil {
					return fmt.Errorf("reverb: writing csv: %w", err)
				}
			}
			return nil
		},
	}

	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "verbose human-readable stream")
	rootCmd.Flags().BoolVarP(&jsonStream, "json", "j", false, "newline-delimited JSON output stream")
	rootCmd.Flags().IntVarP(&duration, "duration", "d", 0, "run for N seconds then summarize (0 = until signal)")
	rootCmd.Flags().StringVarP(&outputPath, "output", "o", "-", "write stream+summary to file (- for stdout)")
	rootCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "suppress stream; summary only")
	rootCmd.Flags().BoolVarP(&correlate, "correlate", "c", false, "enable request correlation")
	rootCmd.Flags().StringVarP(&systemFilter, "system", "s", "", "filter to one system tag")
	rootCmd.Flags().StringVarP(&targetComm, "match", "M", "", `target mode: by_name, "minio" substring`)
	rootCmd.Flags().BoolVarP(&autoDiscover, "auto", "A", false, "target mode: auto-discover pids matching -M's name at startup")
	rootCmd.Flags().IntSliceVarP(&targetPIDs, "pid", "p", nil, "target mode: by explicit pid (repeatable)")
	rootCmd.Flags().BoolVarP(&erasure, "erasure", "E", false, "enable erasure/openat-path classification")
	rootCmd.Flags().BoolVarP(&metadata, "track-metadata", "T", false, "enable metadata/fsync tracking")
	rootCmd.Flags().StringVar(&objectDir, "object-dir", "/usr/local/lib/reverb", "directory holding compiled probe objects")
	rootCmd.Flags().StringVar(&pinDir, "pin-dir", "/sys/fs/bpf/reverb", "bpffs directory for pinned shared maps")
	rootCmd.Flags().StringVar(&csvPath, "csv", "", "write per-(size,operation) amplification buckets to this CSV path")
	rootCmd.Flags().StringVar(&summaryJSON, "summary-json", "", "also write the final summary as JSON to this path, for downstream analysis tooling")

	capabilitiesCmd := &cobra.Command{
		Use:   "capabilities",
		Short: "Show BTF/CO-RE kernel support for probe attachment",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Print(ebpf.DetectCapabilities().Format())
			return nil
		},
	}

	rootCmd.AddCommand(mcpCmd, capabilitiesCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openOutput resolves -o into a writer; "-" (the default) means stdout and
// is never closed by the caller's defer.
func openOutput(path string) (*os.File, func(), error) {
	if path == "" || path == "-" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, func() {}, fmt.Errorf("reverb: open output %q: %w", path, err)
	}
	return f, func() { f.Close() }, nil
}
