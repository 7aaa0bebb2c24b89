// Package reqctx provides the Go-side view onto the kernel-resident
// request-context table: a bounded-age sweep that evicts rows whose owning
// request has stalled past the configured maximum age, and a read-only
// snapshot of the live rows.
package reqctx

import (
	"time"

	"github.com/shuwens/reverb-eBPF/internal/ebpf"
	"github.com/shuwens/reverb-eBPF/internal/event"
)

// Entry is the Go-friendly projection of an ebpf.RequestContextEntry,
// timestamps converted to time.Duration ages rather than raw kernel
// nanoseconds.
type Entry struct {
	RequestID uint64
	PID       int32
	TID       int32
	Op        event.OpKind
	Age       time.Duration
	PathHash  uint64
}

// table is the subset of *ebpf.RequestContextTable the sweeper needs,
// narrowed so tests can substitute an in-memory fake instead of a real BPF
// map.
type table interface {
	Iterate(fn func(requestID uint64, entry ebpf.RequestContextEntry) error) error
	Delete(requestID uint64) error
}

// Sweeper periodically evicts stale rows from the request-context table.
// Kernel-side deletion happens on task exit (probe.LifecycleProbe); without
// this sweep a row whose task is still alive but whose request stalled (or
// whose bio simply never completed) would leak forever.
type Sweeper struct {
	table  table
	maxAge time.Duration
	nowNS  func() int64
}

// NewSweeper builds a Sweeper over t, evicting entries older than maxAge.
// nowNS supplies the current kernel-clock-equivalent timestamp in
// nanoseconds (CLOCK_MONOTONIC in production, an injectable clock in
// tests).
func NewSweeper(t table, maxAge time.Duration, nowNS func() int64) *Sweeper {
	return &Sweeper{table: t, maxAge: maxAge, nowNS: nowNS}
}

// Sweep walks every live entry and deletes those whose StartNS is older
// than maxAge, returning the count evicted.
func (s *Sweeper) Sweep() (int, error) {
	now := s.nowNS()
	cutoff := now - s.maxAge.Nanoseconds()

	var stale []uint64
	err := s.table.Iterate(func(requestID uint64, entry ebpf.RequestContextEntry) error {
		if entry.StartNS < cutoff {
			stale = append(stale, requestID)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, id := range stale {
		if err := s.table.Delete(id); err != nil {
			return 0, err
		}
	}
	return len(stale), nil
}

// Snapshot lists every currently live entry as of the call, in the table's
// iteration order (not sorted).
func (s *Sweeper) Snapshot() ([]Entry, error) {
	now := s.nowNS()
	var out []Entry
	err := s.table.Iterate(func(requestID uint64, entry ebpf.RequestContextEntry) error {
		out = append(out, Entry{
			RequestID: requestID,
			PID:       int32(entry.PID),
			TID:       int32(entry.TID),
			Op:        event.OpKind(entry.Op),
			Age:       time.Duration(now-entry.StartNS) * time.Nanosecond,
			PathHash:  entry.PathHash,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// OnTaskExit deletes every request-context row owned by pid, mirroring the
// kernel-side task-exit tracepoint's own cleanup for the case where the Go
// side needs to force a sweep immediately (e.g. when a -p/--pid target exits
// while TraceByPID mode is configured).
func (s *Sweeper) OnTaskExit(pid int32) (int, error) {
	var owned []uint64
	err := s.table.Iterate(func(requestID uint64, entry ebpf.RequestContextEntry) error {
		if int32(entry.PID) == pid {
			owned = append(owned, requestID)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	for _, id := range owned {
		if err := s.table.Delete(id); err != nil {
			return 0, err
		}
	}
	return len(owned), nil
}
