package biotiming

import (
	"testing"

	"github.com/shuwens/reverb-eBPF/internal/ebpf"
)

type fakeTable struct {
	rows map[uint64]ebpf.BioTimingEntry
}

func (f *fakeTable) Iterate(fn func(bioKey uint64, entry ebpf.BioTimingEntry) error) error {
	for k, v := range f.rows {
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeTable) Delete(bioKey uint64) error {
	delete(f.rows, bioKey)
	return nil
}

func TestReapFindsOnlyOldEntries(t *testing.T) {
	ft := &fakeTable{rows: map[uint64]ebpf.BioTimingEntry{
		1: {SubmitNS: 0, RequestID: 10, Size: 4096},
		2: {SubmitNS: 9_000_000_000, RequestID: 11, Size: 8192},
	}}
	reaper := NewReaper(ft, 5_000_000_000, func() int64 { return 10_000_000_000 })

	orphans, err := reaper.Reap()
	if err != nil {
		t.Fatalf("Reap: %v", err)
	}
	if len(orphans) != 1 {
		t.Fatalf("Reap found %d orphans, want 1", len(orphans))
	}
	if orphans[0].RequestID != 10 {
		t.Errorf("orphan RequestID = %d, want 10", orphans[0].RequestID)
	}
	if _, ok := ft.rows[1]; ok {
		t.Error("orphaned entry must be deleted from the table")
	}
	if _, ok := ft.rows[2]; !ok {
		t.Error("recent entry must survive reaping")
	}
}

func TestOutstandingCount(t *testing.T) {
	ft := &fakeTable{rows: map[uint64]ebpf.BioTimingEntry{
		1: {}, 2: {}, 3: {},
	}}
	reaper := NewReaper(ft, 0, func() int64 { return 0 })
	n, err := reaper.OutstandingCount()
	if err != nil {
		t.Fatalf("OutstandingCount: %v", err)
	}
	if n != 3 {
		t.Errorf("OutstandingCount = %d, want 3", n)
	}
}
