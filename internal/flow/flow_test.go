package flow

import (
	"testing"

	"github.com/shuwens/reverb-eBPF/internal/event"
)

func TestApplyCreatesRecordOnFirstSight(t *testing.T) {
	tbl := NewTable(10)
	e := event.Event{
		RequestID:   42,
		TimestampNS: 100,
		Layer:       event.LayerApplication,
		Kind:        event.KindAppWrite,
		Size:        4096,
		BranchCount: 1,
	}
	tbl.Apply(e)

	r, ok := tbl.Get(42)
	if !ok {
		t.Fatal("expected a record to be created")
	}
	if r.StartNS != 100 || r.EndNS != 100 {
		t.Errorf("start/end = %d/%d, want 100/100", r.StartNS, r.EndNS)
	}
	if r.BytesPerLayer[event.LayerApplication] != 4096 {
		t.Errorf("application bytes = %d, want 4096", r.BytesPerLayer[event.LayerApplication])
	}
	if r.OpKind != event.OpPut {
		t.Errorf("OpKind = %v, want OpPut", r.OpKind)
	}
}

func TestApplyUpdatesStartEndAndBranches(t *testing.T) {
	tbl := NewTable(10)
	tbl.Apply(event.Event{RequestID: 1, TimestampNS: 100, BranchCount: 1})
	tbl.Apply(event.Event{RequestID: 1, TimestampNS: 50, BranchCount: 3})
	tbl.Apply(event.Event{RequestID: 1, TimestampNS: 200, BranchCount: 2})

	r, _ := tbl.Get(1)
	if r.StartNS != 50 {
		t.Errorf("StartNS = %d, want 50 (min)", r.StartNS)
	}
	if r.EndNS != 200 {
		t.Errorf("EndNS = %d, want 200 (max)", r.EndNS)
	}
	if r.TotalBranches != 3 {
		t.Errorf("TotalBranches = %d, want 3 (max)", r.TotalBranches)
	}
}

func TestApplyCountsBioCompleteAsCompletedBranch(t *testing.T) {
	tbl := NewTable(10)
	tbl.Apply(event.Event{RequestID: 1, TimestampNS: 1, Kind: event.KindDevBioSubmit, BranchCount: 2})
	tbl.Apply(event.Event{RequestID: 1, TimestampNS: 2, Kind: event.KindDevBioComplete})
	tbl.Apply(event.Event{RequestID: 1, TimestampNS: 3, Kind: event.KindDevBioComplete})

	r, _ := tbl.Get(1)
	if r.CompletedBranches != 2 {
		t.Errorf("CompletedBranches = %d, want 2", r.CompletedBranches)
	}
	if r.Ops.BioSubmit != 1 {
		t.Errorf("Ops.BioSubmit = %d, want 1", r.Ops.BioSubmit)
	}
}

func TestPathFirstNonEmptyWins(t *testing.T) {
	tbl := NewTable(10)
	tbl.Apply(event.Event{RequestID: 1, TimestampNS: 1, Path: "/data/obj1"})
	tbl.Apply(event.Event{RequestID: 1, TimestampNS: 2, Path: "/data/obj2"})

	r, _ := tbl.Get(1)
	if r.ObjectPath != "/data/obj1" {
		t.Errorf("ObjectPath = %q, want first-seen %q", r.ObjectPath, "/data/obj1")
	}
}

func TestAmplificationUndefinedWithoutApplicationBytes(t *testing.T) {
	tbl := NewTable(10)
	tbl.Apply(event.Event{RequestID: 1, TimestampNS: 1, Layer: event.LayerDevice, Size: 4096})

	r, _ := tbl.Get(1)
	if _, ok := r.Amplification(event.LayerDevice); ok {
		t.Error("amplification must be undefined when application_bytes == 0")
	}
}

func TestAmplificationRatio(t *testing.T) {
	tbl := NewTable(10)
	tbl.Apply(event.Event{RequestID: 1, TimestampNS: 1, Layer: event.LayerApplication, Size: 1000})
	tbl.Apply(event.Event{RequestID: 1, TimestampNS: 2, Layer: event.LayerDevice, Size: 4000})

	r, _ := tbl.Get(1)
	ratio, ok := r.Amplification(event.LayerDevice)
	if !ok {
		t.Fatal("expected defined amplification")
	}
	if ratio != 4.0 {
		t.Errorf("amplification = %v, want 4.0", ratio)
	}
}

func TestEvictsOldestStartNSOnOverflow(t *testing.T) {
	tbl := NewTable(2)
	tbl.Apply(event.Event{RequestID: 1, TimestampNS: 10})
	tbl.Apply(event.Event{RequestID: 2, TimestampNS: 20})
	tbl.Apply(event.Event{RequestID: 3, TimestampNS: 30})

	if tbl.Len() != 2 {
		t.Fatalf("Len() = %d, want 2 (capacity)", tbl.Len())
	}
	if _, ok := tbl.Get(1); ok {
		t.Error("oldest start_ns record (1) should have been evicted")
	}
	if tbl.EvictedCount() != 1 {
		t.Errorf("EvictedCount() = %d, want 1", tbl.EvictedCount())
	}
}

func TestApplyCountsMetadataFlagEvenWithoutDedicatedKind(t *testing.T) {
	tbl := NewTable(10)
	tbl.Apply(event.Event{RequestID: 1, TimestampNS: 1, Kind: event.KindFSSync, Flags: event.Flags{IsMetadata: true, IsJournal: true}})

	r, _ := tbl.Get(1)
	if r.Ops.Metadata != 1 {
		t.Errorf("Ops.Metadata = %d, want 1", r.Ops.Metadata)
	}
	if r.Ops.Journal != 1 {
		t.Errorf("Ops.Journal = %d, want 1", r.Ops.Journal)
	}
}

func TestSetReplicationFactorFirstWins(t *testing.T) {
	r := &Record{}
	r.SetReplicationFactor(3)
	r.SetReplicationFactor(5)
	if r.ReplicationFactor != 3 {
		t.Errorf("ReplicationFactor = %d, want 3 (first wins)", r.ReplicationFactor)
	}
}
