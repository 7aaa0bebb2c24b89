package output

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/shuwens/reverb-eBPF/internal/classify"
	"github.com/shuwens/reverb-eBPF/internal/event"
)

// StreamFormat selects how StreamWriter renders each event.
type StreamFormat int

const (
	StreamHuman StreamFormat = iota
	StreamJSON
)

// StreamWriter renders events as they arrive, one line per event, emitted
// incrementally instead of batched at the end of a run. Implements
// consumer.StreamSink.
type StreamWriter struct {
	w           *bufio.Writer
	format      StreamFormat
	enc         *json.Encoder
	correlation bool
}

// NewStreamWriter wraps w for per-event output in the given format.
// correlation controls whether the human renderer appends the
// [REQ:...] / [BRANCH i/n] / [CHILD OF ...] markers.
func NewStreamWriter(w io.Writer, format StreamFormat, correlation bool) *StreamWriter {
	bw := bufio.NewWriter(w)
	sw := &StreamWriter{w: bw, format: format, correlation: correlation}
	if format == StreamJSON {
		sw.enc = json.NewEncoder(bw)
	}
	return sw
}

type streamRecord struct {
	Timestamp   string  `json:"timestamp"`
	Layer       string  `json:"layer"`
	Event       string  `json:"event"`
	PID         int32   `json:"pid"`
	Comm        string  `json:"comm"`
	System      string  `json:"system"`
	Size        int64   `json:"size"`
	AlignedSize int64   `json:"aligned_size"`
	LatencyUS   float64 `json:"latency_us"`
	RequestID   string  `json:"request_id"`
	IsMetadata  bool    `json:"is_metadata"`
	IsJournal   bool    `json:"is_journal"`
	CacheHit    bool    `json:"cache_hit"`
	IsTarget    bool    `json:"is_target"`
	Filename    string  `json:"filename,omitempty"`
}

// Write renders a single event and flushes the underlying writer so output
// interleaves correctly with Progress's stderr lines in a terminal.
func (s *StreamWriter) Write(e event.Event) error {
	if s.format == StreamJSON {
		return s.writeJSON(e)
	}
	return s.writeHuman(e)
}

func (s *StreamWriter) writeJSON(e event.Event) error {
	rec := streamRecord{
		Timestamp:   time.Unix(0, e.TimestampNS).Format(time.RFC3339Nano),
		Layer:       e.Layer.String(),
		Event:       e.Kind.String(),
		PID:         e.PID,
		Comm:        e.Comm,
		System:      classify.Classify(e.Comm).String(),
		Size:        e.Size,
		AlignedSize: e.AlignedSize,
		LatencyUS:   float64(e.LatencyNS) / 1000,
		RequestID:   fmt.Sprintf("%x", e.RequestID),
		IsMetadata:  e.Flags.IsMetadata,
		IsJournal:   e.Flags.IsJournal,
		CacheHit:    e.Flags.CacheHit,
		// Every event reaching this writer already cleared the probe's
		// classify.IsTarget gate (internal/probe.ringReader.isTarget).
		IsTarget: true,
		Filename: e.Path,
	}
	if err := s.enc.Encode(rec); err != nil {
		return err
	}
	return s.w.Flush()
}

func (s *StreamWriter) writeHuman(e event.Event) error {
	ts := time.Unix(0, e.TimestampNS).Format("15:04:05.000")
	latencyUS := float64(e.LatencyNS) / 1000

	line := fmt.Sprintf("%s %-15s %-20s size=%-8d aligned=%-8d latency_us=%-10.1f comm=%s",
		ts, e.Layer.String(), e.Kind.String(), e.Size, e.AlignedSize, latencyUS, e.Comm)

	for _, tag := range flagTags(e) {
		line += " [" + tag + "]"
	}

	if s.correlation && e.RequestID != 0 {
		line += fmt.Sprintf(" [REQ:%08x]", uint32(e.RequestID))
		if e.BranchCount > 0 {
			line += fmt.Sprintf(" [BRANCH %d/%d]", e.BranchID, e.BranchCount)
		}
		if e.ParentRequestID != 0 {
			line += fmt.Sprintf(" [CHILD OF %08x]", uint32(e.ParentRequestID))
		}
	}

	if _, err := fmt.Fprintln(s.w, line); err != nil {
		return err
	}
	if e.Path != "" {
		if _, err := fmt.Fprintf(s.w, "  -> %s\n", e.Path); err != nil {
			return err
		}
	}
	return s.w.Flush()
}

// flagTags renders an event's boolean flags in the fixed bracket order
// [META] [JRNL] [HIT] [TARGET] [METAFILE]. TARGET is unconditional: every
// event reaching the stream already cleared the probe's target gate.
func flagTags(e event.Event) []string {
	var tags []string
	if e.Flags.IsMetadata {
		tags = append(tags, "META")
	}
	if e.Flags.IsJournal {
		tags = append(tags, "JRNL")
	}
	if e.Flags.CacheHit {
		tags = append(tags, "HIT")
	}
	tags = append(tags, "TARGET")
	if e.Flags.InlineMetadata {
		tags = append(tags, "METAFILE")
	}
	return tags
}
