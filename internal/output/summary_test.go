package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/shuwens/reverb-eBPF/internal/event"
	"github.com/shuwens/reverb-eBPF/internal/flow"
	"github.com/shuwens/reverb-eBPF/internal/stats"
)

func TestBuildSummaryLadder(t *testing.T) {
	reg := stats.NewRegistry()
	reg.Observe(event.Event{Layer: event.LayerApplication, Kind: event.KindAppWrite, Size: 1})
	reg.Observe(event.Event{Layer: event.LayerDevice, Kind: event.KindDevBioSubmit, Size: 4096, AlignedSize: 4096})

	summary := BuildSummary(reg, flow.NewTable(10), nil, false, 0, 0)

	if summary.Ladder.ApplicationBytes != 1 {
		t.Errorf("ApplicationBytes = %d, want 1", summary.Ladder.ApplicationBytes)
	}
	if summary.Ladder.DeviceBytes != 4096 {
		t.Errorf("DeviceBytes = %d, want 4096", summary.Ladder.DeviceBytes)
	}
	if summary.Ladder.HeadlineAmplification != 4096 {
		t.Errorf("HeadlineAmplification = %v, want 4096", summary.Ladder.HeadlineAmplification)
	}
}

func TestBuildSummaryCorrelationSortedByStart(t *testing.T) {
	table := flow.NewTable(10)
	table.Apply(event.Event{Layer: event.LayerApplication, Kind: event.KindAppWrite, RequestID: 1, TimestampNS: 200, Size: 10})
	table.Apply(event.Event{Layer: event.LayerApplication, Kind: event.KindAppWrite, RequestID: 2, TimestampNS: 100, Size: 10})

	summary := BuildSummary(stats.NewRegistry(), table, nil, true, 0, 0)

	if len(summary.Correlation) != 2 {
		t.Fatalf("len(Correlation) = %d, want 2", len(summary.Correlation))
	}
	if summary.Correlation[0].RequestID != 2 {
		t.Errorf("first row RequestID = %d, want 2 (earliest start)", summary.Correlation[0].RequestID)
	}
}

func TestBuildSummaryCorrelationOmittedWhenDisabled(t *testing.T) {
	table := flow.NewTable(10)
	table.Apply(event.Event{Layer: event.LayerApplication, Kind: event.KindAppWrite, RequestID: 1, Size: 10})

	summary := BuildSummary(stats.NewRegistry(), table, nil, false, 0, 0)
	if summary.Correlation != nil {
		t.Errorf("expected nil correlation, got %v", summary.Correlation)
	}
}

func TestWriteTextContainsAllSections(t *testing.T) {
	reg := stats.NewRegistry()
	reg.Observe(event.Event{Layer: event.LayerApplication, Kind: event.KindAppWrite, Size: 10})
	table := flow.NewTable(10)
	table.Apply(event.Event{Layer: event.LayerApplication, Kind: event.KindAppWrite, RequestID: 1, Size: 10})

	summary := BuildSummary(reg, table, nil, true, 0, 0)

	var buf bytes.Buffer
	if err := summary.WriteText(&buf); err != nil {
		t.Fatalf("WriteText: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"per-layer statistics", "amplification ladder", "per-request correlation"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing section %q:\n%s", want, out)
		}
	}
}

func TestWriteTextIdempotent(t *testing.T) {
	reg := stats.NewRegistry()
	reg.Observe(event.Event{Layer: event.LayerApplication, Kind: event.KindAppWrite, Size: 10})
	summary := BuildSummary(reg, flow.NewTable(10), nil, false, 0, 0)

	var first, second bytes.Buffer
	summary.WriteText(&first)
	summary.WriteText(&second)

	if first.String() != second.String() {
		t.Error("WriteText is not idempotent on the same Summary")
	}
}
