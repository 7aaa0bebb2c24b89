package ebpf

import (
	"fmt"

	"github.com/cilium/ebpf"
)

// RequestContextEntry mirrors the kernel-resident request-context row: one
// entry per in-flight application request, keyed by request_id, holding
// enough context for the filesystem and device layers to tag their own
// events with the same identity.
type RequestContextEntry struct {
	RequestID  uint64
	PID        uint32
	TID        uint32
	Op         uint8
	StartNS    int64
	PathHash   uint64
	BranchSeen uint32
}

// BioTimingEntry mirrors the device layer's submit-to-completion row, keyed
// by the bio pointer value the kernel sees at submit_bio and again at
// bio_endio.
type BioTimingEntry struct {
	SubmitNS  int64
	RequestID uint64
	DevMajor  uint32
	DevMinor  uint32
	Size      int64
}

// RequestContextTable is a typed handle onto the shared BPF hash map the
// application/OS/filesystem probes populate and the device layer and task-
// exit cleanup probe consult and evict from.
type RequestContextTable struct {
	m *ebpf.Map
}

// BioTimingTable is a typed handle onto the shared BPF hash map the device
// layer's submit/complete probe pair uses to pair up bio lifetimes.
type BioTimingTable struct {
	m *ebpf.Map
}

// RequestContextTableFromCollection looks up the named map inside a loaded
// collection and wraps it for typed access.
func RequestContextTableFromCollection(coll *ebpf.Collection, mapName string) (*RequestContextTable, error) {
	m, ok := coll.Maps[mapName]
	if !ok {
		return nil, fmt.Errorf("ebpf: map %q not found in collection", mapName)
	}
	return &RequestContextTable{m: m}, nil
}

// BioTimingTableFromCollection looks up the named map inside a loaded
// collection and wraps it for typed access.
func BioTimingTableFromCollection(coll *ebpf.Collection, mapName string) (*BioTimingTable, error) {
	m, ok := coll.Maps[mapName]
	if !ok {
		return nil, fmt.Errorf("ebpf: map %q not found in collection", mapName)
	}
	return &BioTimingTable{m: m}, nil
}

// WrapRequestContextTable adapts an already-resolved map handle, for
// callers (internal/probe) that hold a *ebpf.Map directly rather than a
// whole Collection.
func WrapRequestContextTable(m *ebpf.Map) *RequestContextTable {
	return &RequestContextTable{m: m}
}

// WrapBioTimingTable adapts an already-resolved map handle.
func WrapBioTimingTable(m *ebpf.Map) *BioTimingTable {
	return &BioTimingTable{m: m}
}

// Lookup fetches the entry for requestID, reporting ok=false if absent (the
// common case once a request has completed and been evicted).
func (t *RequestContextTable) Lookup(requestID uint64) (RequestContextEntry, bool, error) {
	var entry RequestContextEntry
	err := t.m.Lookup(&requestID, &entry)
	if err != nil {
		if isMapMiss(err) {
			return RequestContextEntry{}, false, nil
		}
		return RequestContextEntry{}, false, err
	}
	return entry, true, nil
}

// Update inserts or replaces the entry for requestID.
func (t *RequestContextTable) Update(requestID uint64, entry RequestContextEntry) error {
	return t.m.Update(&requestID, &entry, ebpf.UpdateAny)
}

// Delete removes requestID, used both by the device layer once a request's
// final completion is observed and by the task-exit cleanup probe for
// requests whose owning task died mid-flight.
func (t *RequestContextTable) Delete(requestID uint64) error {
	err := t.m.Delete(&requestID)
	if isMapMiss(err) {
		return nil
	}
	return err
}

// Iterate walks every live entry, used by the bounded-age GC sweep in
// the request-context package to find entries older than the configured
// max age.
func (t *RequestContextTable) Iterate(fn func(requestID uint64, entry RequestContextEntry) error) error {
	var (
		key   uint64
		entry RequestContextEntry
	)
	it := t.m.Iterate()
	for it.Next(&key, &entry) {
		if err := fn(key, entry); err != nil {
			return err
		}
	}
	return it.Err()
}

// Lookup fetches the bio timing row for a bio key.
func (t *BioTimingTable) Lookup(bioKey uint64) (BioTimingEntry, bool, error) {
	var entry BioTimingEntry
	err := t.m.Lookup(&bioKey, &entry)
	if err != nil {
		if isMapMiss(err) {
			return BioTimingEntry{}, false, nil
		}
		return BioTimingEntry{}, false, err
	}
	return entry, true, nil
}

// Update records a bio's submit-time context.
func (t *BioTimingTable) Update(bioKey uint64, entry BioTimingEntry) error {
	return t.m.Update(&bioKey, &entry, ebpf.UpdateAny)
}

// Delete removes a bio's row once its completion has been matched.
func (t *BioTimingTable) Delete(bioKey uint64) error {
	err := t.m.Delete(&bioKey)
	if isMapMiss(err) {
		return nil
	}
	return err
}

func isMapMiss(err error) bool {
	return err == ebpf.ErrKeyNotExist
}
