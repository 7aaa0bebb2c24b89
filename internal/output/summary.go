package output

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/shuwens/reverb-eBPF/internal/event"
	"github.com/shuwens/reverb-eBPF/internal/flow"
	"github.com/shuwens/reverb-eBPF/internal/selfstat"
	"github.com/shuwens/reverb-eBPF/internal/stats"
)

// Summary is the run's final report: three sections printed at exit (the
// layer table, amplification ladder, and per-request correlation table)
// plus the warnings this run's counters tripped.
type Summary struct {
	Layers      []LayerRow         `json:"layers"`
	Ladder      Ladder             `json:"ladder"`
	Correlation []CorrelationRow   `json:"correlation,omitempty"`
	Warnings    []Warning          `json:"warnings,omitempty"`
	Histograms  []Histogram        `json:"histograms,omitempty"`
	Overhead    *selfstat.Overhead `json:"overhead,omitempty"`
}

// LayerRow is one row of summary section (a).
type LayerRow struct {
	Layer            string  `json:"layer"`
	EventCount       int64   `json:"event_count"`
	TotalBytes       int64   `json:"total_bytes"`
	AlignedBytes     int64   `json:"aligned_bytes"`
	MetadataOps      int64   `json:"metadata_ops"`
	JournalOps       int64   `json:"journal_ops"`
	CacheHits        int64   `json:"cache_hits"`
	Amplification    float64 `json:"amplification,omitempty"`
	HasAmplification bool    `json:"-"`
}

// Ladder is summary section (b): the cumulative amplification chain from
// application bytes down to final device bytes.
type Ladder struct {
	ApplicationBytes      int64   `json:"application_bytes"`
	AfterStorageService   int64   `json:"after_storage_service_bytes"`
	AfterOSAlignment      int64   `json:"after_os_alignment_bytes"`
	AfterFilesystem       int64   `json:"after_filesystem_bytes"`
	JournalSubtotal       int64   `json:"journal_subtotal_bytes"` // journal_ops * 4096
	MetadataOpCount       int64   `json:"metadata_op_count"`
	DeviceBytes           int64   `json:"device_bytes"`
	HeadlineAmplification float64 `json:"headline_amplification"`
}

// CorrelationRow is one row of summary section (c), printed only when
// correlation is enabled.
type CorrelationRow struct {
	RequestID         uint64  `json:"request_id"`
	OpKind            string  `json:"op_kind"`
	ObjectPath        string  `json:"object_path,omitempty"`
	ApplicationBytes  int64   `json:"application_bytes"`
	OSBytes           int64   `json:"os_bytes"`
	FilesystemBytes   int64   `json:"filesystem_bytes"`
	DeviceBytes       int64   `json:"device_bytes"`
	Amplification     float64 `json:"amplification"`
	BranchesTotal     uint32  `json:"branches_total"`
	BranchesCompleted uint32  `json:"branches_completed"`
	SystemTag         string  `json:"system_tag,omitempty"`
}

// BuildSummary assembles the full report from a run's accumulated state.
// topN bounds how many correlation rows are included (top entries sorted
// by start time); pass 0 to include all. orphanedBios is folded
// into the warnings section; pass 0 when the caller has no bio-timing
// reaper wired (e.g. MCP introspection between sweep ticks).
func BuildSummary(statsRegistry *stats.Registry, flowTable *flow.Table, histograms []Histogram, includeCorrelation bool, topN int, orphanedBios int) Summary {
	s := Summary{}

	appBytes := statsRegistry.ByLayer[event.LayerApplication].TotalBytes
	for layer := event.LayerApplication; int(layer) < len(statsRegistry.ByLayer); layer++ {
		ls := statsRegistry.ByLayer[layer]
		row := LayerRow{
			Layer:        layer.String(),
			EventCount:   ls.EventCount,
			TotalBytes:   ls.TotalBytes,
			AlignedBytes: ls.AlignedBytes,
			MetadataOps:  ls.MetadataOps,
			JournalOps:   ls.JournalOps,
			CacheHits:    ls.CacheHits,
		}
		if ratio, ok := ls.AmplificationFactor(appBytes); ok {
			row.Amplification = ratio
			row.HasAmplification = true
		}
		s.Layers = append(s.Layers, row)
	}

	s.Ladder = buildLadder(statsRegistry)
	s.Histograms = histograms

	if includeCorrelation {
		s.Correlation = buildCorrelationRows(flowTable, topN)
	}

	s.Warnings = DetectWarnings(statsRegistry, flowTable, flowTable.EvictedCount(), orphanedBios)
	return s
}

func buildLadder(r *stats.Registry) Ladder {
	app := r.ByLayer[event.LayerApplication].TotalBytes
	storage := r.ByLayer[event.LayerStorageService].TotalBytes
	osBytes := r.ByLayer[event.LayerOS].AlignedBytes
	if osBytes == 0 {
		osBytes = r.ByLayer[event.LayerOS].TotalBytes
	}
	fsBytes := r.ByLayer[event.LayerFilesystem].TotalBytes
	journalOps := r.ByLayer[event.LayerFilesystem].JournalOps
	metadataOps := r.ByLayer[event.LayerFilesystem].MetadataOps
	deviceBytes := r.ByLayer[event.LayerDevice].TotalBytes

	ladder := Ladder{
		ApplicationBytes:    app,
		AfterStorageService: app + storage,
		AfterOSAlignment:    osBytes,
		AfterFilesystem:     fsBytes,
		JournalSubtotal:     journalOps * 4096,
		MetadataOpCount:     metadataOps,
		DeviceBytes:         deviceBytes,
	}
	if app > 0 {
		ladder.HeadlineAmplification = float64(deviceBytes) / float64(app)
	}
	return ladder
}

func buildCorrelationRows(flowTable *flow.Table, topN int) []CorrelationRow {
	records := flowTable.All()
	sort.Slice(records, func(i, j int) bool { return records[i].StartNS < records[j].StartNS })

	if topN > 0 && len(records) > topN {
		records = records[:topN]
	}

	rows := make([]CorrelationRow, 0, len(records))
	for _, rec := range records {
		deviceBytes := rec.BytesPerLayer[event.LayerDevice]
		row := CorrelationRow{
			RequestID:         rec.RequestID,
			OpKind:            rec.OpKind.String(),
			ObjectPath:        rec.ObjectPath,
			ApplicationBytes:  rec.BytesPerLayer[event.LayerApplication],
			OSBytes:           rec.BytesPerLayer[event.LayerOS],
			FilesystemBytes:   rec.BytesPerLayer[event.LayerFilesystem],
			DeviceBytes:       deviceBytes,
			BranchesTotal:     rec.TotalBranches,
			BranchesCompleted: rec.CompletedBranches,
			SystemTag:         rec.System.String(),
		}
		if amp, ok := rec.Amplification(event.LayerDevice); ok {
			row.Amplification = amp
		}
		rows = append(rows, row)
	}
	return rows
}

// WriteText renders the summary as a three-section plain-text report,
// followed by any warnings.
func (s Summary) WriteText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintln(tw, "== per-layer statistics ==")
	fmt.Fprintln(tw, "layer\tevents\tbytes\taligned\tmeta_ops\tjournal_ops\tcache_hits\tamplification")
	for _, row := range s.Layers {
		amp := "-"
		if row.HasAmplification {
			amp = fmt.Sprintf("%.2fx", row.Amplification)
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%s\n",
			row.Layer, row.EventCount, row.TotalBytes, row.AlignedBytes,
			row.MetadataOps, row.JournalOps, row.CacheHits, amp)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(w, "\n== amplification ladder ==")
	fmt.Fprintf(w, "application:        %d bytes\n", s.Ladder.ApplicationBytes)
	fmt.Fprintf(w, "+ storage service:  %d bytes\n", s.Ladder.AfterStorageService)
	fmt.Fprintf(w, "+ os alignment:     %d bytes\n", s.Ladder.AfterOSAlignment)
	fmt.Fprintf(w, "+ filesystem:       %d bytes (journal %d bytes over %d metadata ops)\n",
		s.Ladder.AfterFilesystem, s.Ladder.JournalSubtotal, s.Ladder.MetadataOpCount)
	fmt.Fprintf(w, "= device:           %d bytes\n", s.Ladder.DeviceBytes)
	fmt.Fprintf(w, "headline amplification: %.2fx\n", s.Ladder.HeadlineAmplification)

	if len(s.Correlation) > 0 {
		fmt.Fprintln(w, "\n== per-request correlation ==")
		ctw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(ctw, "request_id\top\tpath\tapp\tos\tfs\tdevice\tamp\tbranches\tsystem")
		for _, row := range s.Correlation {
			fmt.Fprintf(ctw, "%08x\t%s\t%s\t%d\t%d\t%d\t%d\t%.2fx\t%d/%d\t%s\n",
				row.RequestID, row.OpKind, row.ObjectPath,
				row.ApplicationBytes, row.OSBytes, row.FilesystemBytes, row.DeviceBytes,
				row.Amplification, row.BranchesCompleted, row.BranchesTotal, row.SystemTag)
		}
		if err := ctw.Flush(); err != nil {
			return err
		}
	}

	if len(s.Warnings) > 0 {
		fmt.Fprintln(w, "\n== warnings ==")
		for _, warn := range s.Warnings {
			fmt.Fprintf(w, "[%s] %s: %s\n", warn.Severity, warn.Metric, warn.Message)
		}
	}

	if s.Overhead != nil {
		fmt.Fprintln(w, "\n== tracer overhead ==")
		fmt.Fprintf(w, "pid %d: cpu %dms user / %dms sys, rss %d bytes, disk read %d / write %d bytes, %d ctx switches\n",
			s.Overhead.PID, s.Overhead.CPUUserMs, s.Overhead.CPUSystemMs, s.Overhead.MemoryRSSBytes,
			s.Overhead.DiskReadBytes, s.Overhead.DiskWriteBytes, s.Overhead.ContextSwitches)
	}

	return nil
}
