// Package event defines the fixed-size Event record emitted by every layer
// probe and carried across the Event Ring. Events from different layers
// share this single transport record but vary in which fields are
// meaningful — a tagged union keyed by Layer and Kind, generalized from a
// single-purpose polymorphic wire struct to the full cross-layer set.
package event

// Layer is one of the five points at which bytes are observed.
type Layer uint8

const (
	LayerUnknown Layer = iota
	LayerApplication
	LayerStorageService
	LayerOS
	LayerFilesystem
	LayerDevice
)

func (l Layer) String() string {
	switch l {
	case LayerApplication:
		return "application"
	case LayerStorageService:
		return "storage_service"
	case LayerOS:
		return "os"
	case LayerFilesystem:
		return "filesystem"
	case LayerDevice:
		return "device"
	default:
		return "unknown"
	}
}

// Kind enumerates the event kinds per layer.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindAppRead
	KindAppWrite
	KindAppOpen
	KindStorageMetadataTouch
	KindStorageErasureWrite
	KindOSVFSRead
	KindOSVFSWrite
	KindFSSync
	KindFSJournalStart
	KindFSInodeDirty
	KindDevBioSubmit
	KindDevBioComplete
)

func (k Kind) String() string {
	switch k {
	case KindAppRead:
		return "app_read"
	case KindAppWrite:
		return "app_write"
	case KindAppOpen:
		return "app_open"
	case KindStorageMetadataTouch:
		return "storage_metadata_touch"
	case KindStorageErasureWrite:
		return "storage_erasure_write"
	case KindOSVFSRead:
		return "os_vfs_read"
	case KindOSVFSWrite:
		return "os_vfs_write"
	case KindFSSync:
		return "fs_sync"
	case KindFSJournalStart:
		return "fs_journal_start"
	case KindFSInodeDirty:
		return "fs_inode_dirty"
	case KindDevBioSubmit:
		return "dev_bio_submit"
	case KindDevBioComplete:
		return "dev_bio_complete"
	default:
		return "unknown"
	}
}

// OpKind distinguishes the two application-level operations tracked per
// request context.
type OpKind uint8

const (
	OpUnknown OpKind = iota
	OpGet
	OpPut
)

func (o OpKind) String() string {
	switch o {
	case OpGet:
		return "get"
	case OpPut:
		return "put"
	default:
		return "unknown"
	}
}

// MaxCommLen and MaxPathLen bound the fixed-size comm/path buffers carried
// in every event (comm ≤16 B, path ≤256 B).
const (
	MaxCommLen = 16
	MaxPathLen = 256
)

// Flags holds the per-event boolean fields.
type Flags struct {
	IsMetadata     bool
	IsJournal      bool
	CacheHit       bool
	IsErasure      bool
	IsParity       bool
	InlineMetadata bool
}

// Event is the in-memory form of the 379 B fixed-size record every probe
// submits to the ring. Layer-specific subsets are populated per Kind, the
// rest left zero.
type Event struct {
	TimestampNS int64

	PID int32 // task id (process)
	TID int32 // task id (thread)

	Layer  Layer
	Kind   Kind
	System uint8 // classify.SystemTag, stored numerically to stay allocation-free on the probe side

	Size        int64 // logical size
	AlignedSize int64 // page-rounded where relevant
	Offset      int64 // sectors×512 for block events, else 0
	LatencyNS   int64 // 0 unless completion
	DevMajor    uint32
	DevMinor    uint32
	ReturnValue int64 // signed
	Inode       uint64

	RequestID       uint64
	ParentRequestID uint64
	BranchID        uint32
	BranchCount     uint32

	Comm string // ≤ MaxCommLen, truncated on submission
	Path string // ≤ MaxPathLen, populated only when relevant (e.g. openat)

	Flags Flags
}

// Truncate enforces the comm/path size caps every probe must apply before
// submission: when an event would exceed the event-size cap, truncate
// path/comm and submit anyway rather than drop it.
func (e *Event) Truncate() {
	if len(e.Comm) > MaxCommLen {
		e.Comm = e.Comm[:MaxCommLen]
	}
	if len(e.Path) > MaxPathLen {
		e.Path = e.Path[:MaxPathLen]
	}
}

// EffectiveBytes returns AlignedSize when positive, else Size — the rule
// used for accumulating per-layer byte counters: aligned_size if
// aligned_size > 0 else event.size.
func (e *Event) EffectiveBytes() int64 {
	if e.AlignedSize > 0 {
		return e.AlignedSize
	}
	return e.Size
}

// AlignUp4K rounds n up to the next 4 KiB page boundary, used by the OS
// layer probe to compute AlignedSize as ceil(count, 4096).
func AlignUp4K(n int64) int64 {
	const page = 4096
	if n <= 0 {
		return 0
	}
	return (n + page - 1) / page * page
}

// NewRequestID synthesizes the cross-layer correlation identifier:
// task_id<<32 | time_low.
func NewRequestID(taskID int32, timestampNS int64) uint64 {
	return uint64(uint32(taskID))<<32 | uint64(uint32(timestampNS))
}
