// Package biotiming tracks the kernel-resident bio-timing table the device
// layer maintains: submit_bio keys an entry by bio pointer, bio_endio
// consumes it to compute completion latency and then deletes it. This
// package's only Go-side job is detecting bios that submit_bio recorded but
// that never completed before the trace ended or before a bounded age —
// orphans that would otherwise leak map entries and silently understate the
// device layer's outstanding-I/O count.
package biotiming

import (
	"time"

	"github.com/shuwens/reverb-eBPF/internal/ebpf"
)

// table is the subset of *ebpf.BioTimingTable this package needs, narrowed
// for testability the same way internal/reqctx narrows its table.
type table interface {
	Iterate(fn func(bioKey uint64, entry ebpf.BioTimingEntry) error) error
	Delete(bioKey uint64) error
}

// Orphan is a submitted bio that never reached completion within maxAge.
type Orphan struct {
	BioKey    uint64
	RequestID uint64
	DevMajor  uint32
	DevMinor  uint32
	Size      int64
	Age       time.Duration
}

// Reaper finds and evicts orphaned bio-timing rows.
type Reaper struct {
	table  table
	maxAge time.Duration
	nowNS  func() int64
}

// NewReaper builds a Reaper over t.
func NewReaper(t table, maxAge time.Duration, nowNS func() int64) *Reaper {
	return &Reaper{table: t, maxAge: maxAge, nowNS: nowNS}
}

// Reap walks the table, collects every entry older than maxAge as an
// Orphan, deletes it from the table, and returns the collected orphans so
// callers can fold them into a saturation/drop warning.
func (r *Reaper) Reap() ([]Orphan, error) {
	now := r.nowNS()
	cutoff := now - r.maxAge.Nanoseconds()

	var orphans []Orphan
	err := r.table.Iterate(func(bioKey uint64, entry ebpf.BioTimingEntry) error {
		if entry.SubmitNS < cutoff {
			orphans = append(orphans, Orphan{
				BioKey:    bioKey,
				RequestID: entry.RequestID,
				DevMajor:  entry.DevMajor,
				DevMinor:  entry.DevMinor,
				Size:      entry.Size,
				Age:       time.Duration(now-entry.SubmitNS) * time.Nanosecond,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, o := range orphans {
		if err := r.table.Delete(o.BioKey); err != nil {
			return nil, err
		}
	}
	return orphans, nil
}

// OutstandingCount reports how many bios are currently submitted but not
// yet completed, used by the live summary's device-layer saturation signal.
func (r *Reaper) OutstandingCount() (int, error) {
	n := 0
	err := r.table.Iterate(func(uint64, ebpf.BioTimingEntry) error {
		n++
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}
