package output

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shuwens/reverb-eBPF/internal/event"
	"github.com/shuwens/reverb-eBPF/internal/flow"
)

func TestWriteCSVHeaderAndRow(t *testing.T) {
	table := flow.NewTable(10)
	table.Apply(event.Event{Layer: event.LayerApplication, Kind: event.KindAppWrite, RequestID: 1, Size: 4096})
	table.Apply(event.Event{Layer: event.LayerOS, Kind: event.KindOSVFSWrite, RequestID: 1, Size: 4096, AlignedSize: 4096})
	table.Apply(event.Event{Layer: event.LayerDevice, Kind: event.KindDevBioSubmit, RequestID: 1, Size: 8192})

	tmpDir := t.TempDir()
	outPath := filepath.Join(tmpDir, "out.csv")
	if err := WriteCSV(table, outPath); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	out := string(data)

	if !strings.HasPrefix(out, "size,operation,os_bytes,device_bytes,os_amp,device_amp,metadata_count") {
		t.Errorf("unexpected header: %q", out)
	}
	if !strings.Contains(out, "4096") || !strings.Contains(out, "8192") {
		t.Errorf("missing expected byte values: %q", out)
	}
}

func TestWriteCSVEmptyTable(t *testing.T) {
	tmpDir := t.TempDir()
	outPath := filepath.Join(tmpDir, "empty.csv")
	if err := WriteCSV(flow.NewTable(10), outPath); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Errorf("expected only header line for empty table, got %d lines", len(lines))
	}
}

func TestAggregateBySizeAndOpGroupsByKey(t *testing.T) {
	table := flow.NewTable(10)
	table.Apply(event.Event{Layer: event.LayerApplication, Kind: event.KindAppWrite, RequestID: 1, Size: 100})
	table.Apply(event.Event{Layer: event.LayerApplication, Kind: event.KindAppWrite, RequestID: 2, Size: 100})
	table.Apply(event.Event{Layer: event.LayerApplication, Kind: event.KindAppRead, RequestID: 3, Size: 100})

	rows := aggregateBySizeAndOp(table)
	if len(rows) != 2 {
		t.Fatalf("len(rows) = %d, want 2 (one per distinct op at size 100)", len(rows))
	}
}
