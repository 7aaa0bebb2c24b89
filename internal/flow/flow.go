// Package flow maintains the request-keyed flow table the correlator builds
// up from the event stream: one Record per request_id, accumulating
// per-layer bytes and op counters until the run ends or the table overflows
// and the oldest record is evicted.
package flow

import (
	"container/heap"

	"github.com/shuwens/reverb-eBPF/internal/classify"
	"github.com/shuwens/reverb-eBPF/internal/event"
)

// OpCounts tracks the sub-operation counters a flow accumulates.
type OpCounts struct {
	VFSRead   int64 `json:"vfs_read"`
	VFSWrite  int64 `json:"vfs_write"`
	BioSubmit int64 `json:"bio_submit"`
	Metadata  int64 `json:"metadata"`
	Journal   int64 `json:"journal"`
}

// Record is one request's cross-layer accounting.
type Record struct {
	RequestID uint64 `json:"request_id"`
	ParentID  uint64 `json:"parent_id,omitempty"`
	StartNS   int64  `json:"start_ns"`
	EndNS     int64  `json:"end_ns"`

	TotalBranches     uint32 `json:"total_branches"`
	CompletedBranches uint32 `json:"completed_branches"`

	BytesPerLayer [6]int64 `json:"bytes_per_layer"` // indexed by event.Layer (LayerUnknown slot unused)

	Ops OpCounts `json:"ops"`

	OpKind     event.OpKind       `json:"op_kind"`
	System     classify.SystemTag `json:"system"`
	ObjectPath string             `json:"object_path,omitempty"`

	ErasureBranchCount int64 `json:"erasure_branch_count,omitempty"`
	ReplicationFactor  int64 `json:"replication_factor,omitempty"`
	replicationSet     bool
}

// Amplification returns layer L's bytes divided by application-layer bytes,
// and whether the ratio is defined (application bytes must be > 0).
func (r *Record) Amplification(layer event.Layer) (float64, bool) {
	appBytes := r.BytesPerLayer[event.LayerApplication]
	if appBytes <= 0 {
		return 0, false
	}
	return float64(r.BytesPerLayer[layer]) / float64(appBytes), true
}

// Table is the capacity-bounded flow table: the oldest start_ns entry is
// evicted on overflow.
type Table struct {
	capacity int
	records  map[uint64]*Record
	order    *startHeap
	evicted  int
}

// NewTable builds an empty flow table with the given capacity.
func NewTable(capacity int) *Table {
	h := &startHeap{}
	heap.Init(h)
	return &Table{
		capacity: capacity,
		records:  make(map[uint64]*Record, capacity),
		order:    h,
	}
}

// Len returns the number of live flow records.
func (t *Table) Len() int { return len(t.records) }

// EvictedCount returns how many records have been evicted for capacity
// overflow over this table's lifetime.
func (t *Table) EvictedCount() int { return t.evicted }

// Get returns the live record for requestID, if any.
func (t *Table) Get(requestID uint64) (*Record, bool) {
	r, ok := t.records[requestID]
	return r, ok
}

// All returns every live record, for summary rendering and MCP introspection.
func (t *Table) All() []*Record {
	out := make([]*Record, 0, len(t.records))
	for _, r := range t.records {
		out = append(out, r)
	}
	return out
}

// Apply folds e into the flow table's running totals. Events with
// RequestID == 0 are the caller's responsibility to route to global
// statistics only; Apply assumes e.RequestID != 0 already correlates to a
// flow and will create one if this is the first sighting.
func (t *Table) Apply(e event.Event) {
	r, ok := t.records[e.RequestID]
	if !ok {
		r = t.create(e)
	}

	if (e.TimestampNS < r.StartNS || r.StartNS == 0) && e.TimestampNS != r.StartNS {
		r.StartNS = e.TimestampNS
		// Re-index under the new start so eviction still finds the oldest
		// record; the entry pushed under the old start becomes stale.
		heap.Push(t.order, heapEntry{requestID: e.RequestID, startNS: r.StartNS})
	}
	if e.TimestampNS > r.EndNS {
		r.EndNS = e.TimestampNS
	}
	if e.BranchCount > r.TotalBranches {
		r.TotalBranches = e.BranchCount
	}

	if int(e.Layer) >= 0 && int(e.Layer) < len(r.BytesPerLayer) {
		r.BytesPerLayer[e.Layer] += e.EffectiveBytes()
	}

	switch e.Kind {
	case event.KindOSVFSRead:
		r.Ops.VFSRead++
	case event.KindOSVFSWrite:
		r.Ops.VFSWrite++
	case event.KindDevBioSubmit:
		r.Ops.BioSubmit++
	case event.KindDevBioComplete:
		r.CompletedBranches++
	}
	if e.Flags.IsMetadata || e.Kind == event.KindFSInodeDirty || e.Kind == event.KindStorageMetadataTouch {
		r.Ops.Metadata++
	}
	if e.Flags.IsJournal || e.Kind == event.KindFSJournalStart {
		r.Ops.Journal++
	}

	if r.ObjectPath == "" && e.Path != "" {
		r.ObjectPath = e.Path
	}
	if e.Flags.IsErasure {
		r.ErasureBranchCount++
	}
}

func (t *Table) create(e event.Event) *Record {
	if t.capacity > 0 && len(t.records) >= t.capacity {
		t.evictOldest()
	}

	r := &Record{
		RequestID:  e.RequestID,
		ParentID:   e.ParentRequestID,
		StartNS:    e.TimestampNS,
		EndNS:      e.TimestampNS,
		OpKind:     opKindFromEventKind(e.Kind),
		System:     classify.SystemTag(e.System),
		ObjectPath: e.Path,
	}
	t.records[e.RequestID] = r
	heap.Push(t.order, heapEntry{requestID: e.RequestID, startNS: e.TimestampNS})
	return r
}

func (t *Table) evictOldest() {
	for t.order.Len() > 0 {
		oldest := heap.Pop(t.order).(heapEntry)
		if r, ok := t.records[oldest.requestID]; ok && r.StartNS == oldest.startNS {
			delete(t.records, oldest.requestID)
			t.evicted++
			return
		}
		// Stale heap entry (record's StartNS moved since it was pushed, or
		// it was already evicted); keep popping until a live match is found.
	}
}

func opKindFromEventKind(k event.Kind) event.OpKind {
	switch k {
	case event.KindAppRead, event.KindOSVFSRead:
		return event.OpGet
	case event.KindAppWrite, event.KindOSVFSWrite:
		return event.OpPut
	default:
		return event.OpUnknown
	}
}

// SetReplicationFactor records the replication factor the first time a
// storage-service event reports one; later reports are ignored ("first
// wins").
func (r *Record) SetReplicationFactor(n int64) {
	if r.replicationSet {
		return
	}
	r.ReplicationFactor = n
	r.replicationSet = true
}

type heapEntry struct {
	requestID uint64
	startNS   int64
}

type startHeap []heapEntry

func (h startHeap) Len() int            { return len(h) }
func (h startHeap) Less(i, j int) bool  { return h[i].startNS < h[j].startNS }
func (h startHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *startHeap) Push(x interface{}) { *h = append(*h, x.(heapEntry)) }
func (h *startHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
