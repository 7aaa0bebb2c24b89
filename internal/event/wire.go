package event

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// rawEvent mirrors the C struct a compiled layer probe writes into the
// perf event array, the Event Ring's Linux realization. The compiled probe
// objects are not part of this repository; their `struct event` must match
// this layout byte-for-byte. Fixed-width, no pointers: this is what "no
// dynamic allocation, bounded stack" looks like on the wire.
type rawEvent struct {
	TimestampNS     uint64
	PID             uint32
	TID             uint32
	Layer           uint8
	Kind            uint8
	System          uint8
	_               uint8 // one pad byte; encoding/binary packs fields, so Size starts at offset 20
	Size            int64
	AlignedSize     int64
	Offset          int64
	LatencyNS       int64
	DevMajor        uint32
	DevMinor        uint32
	ReturnValue     int64
	Inode           uint64
	RequestID       uint64
	ParentRequestID uint64
	BranchID        uint32
	BranchCount     uint32
	FlagBits        uint8
	_               [3]byte // padding
	CommLen         uint8
	PathLen         uint16
	Comm            [MaxCommLen]byte
	Path            [MaxPathLen]byte
}

const (
	flagIsMetadata     = 1 << 0
	flagIsJournal      = 1 << 1
	flagCacheHit       = 1 << 2
	flagIsErasure      = 1 << 3
	flagIsParity       = 1 << 4
	flagInlineMetadata = 1 << 5
)

// rawEventSize is the on-wire size of rawEvent: every sample the ring
// delivers is this many bytes (a fixed 379 B record) — comm/path are
// always transmitted at their full fixed capacity even when the populated
// content is shorter.
var rawEventSize = binary.Size(rawEvent{})

// Decode parses a raw ring sample into an Event. Samples shorter than the
// fixed record size are a data-shape anomaly and are rejected rather than
// partially decoded.
func Decode(sample []byte) (Event, error) {
	if len(sample) < rawEventSize {
		return Event{}, fmt.Errorf("event: sample too short (%d of %d bytes)", len(sample), rawEventSize)
	}

	var raw rawEvent
	if err := binary.Read(bytes.NewReader(sample), binary.LittleEndian, &raw); err != nil {
		return Event{}, fmt.Errorf("event: decode: %w", err)
	}

	commLen := int(raw.CommLen)
	if commLen > MaxCommLen {
		commLen = MaxCommLen
	}
	pathLen := int(raw.PathLen)
	if pathLen > MaxPathLen {
		pathLen = MaxPathLen
	}

	e := Event{
		TimestampNS:     int64(raw.TimestampNS),
		PID:             int32(raw.PID),
		TID:             int32(raw.TID),
		Layer:           Layer(raw.Layer),
		Kind:            Kind(raw.Kind),
		System:          raw.System,
		Size:            raw.Size,
		AlignedSize:     raw.AlignedSize,
		Offset:          raw.Offset,
		LatencyNS:       raw.LatencyNS,
		DevMajor:        raw.DevMajor,
		DevMinor:        raw.DevMinor,
		ReturnValue:     raw.ReturnValue,
		Inode:           raw.Inode,
		RequestID:       raw.RequestID,
		ParentRequestID: raw.ParentRequestID,
		BranchID:        raw.BranchID,
		BranchCount:     raw.BranchCount,
		Comm:            string(bytes.TrimRight(raw.Comm[:commLen], "\x00")),
		Path:            string(bytes.TrimRight(raw.Path[:pathLen], "\x00")),
		Flags: Flags{
			IsMetadata:     raw.FlagBits&flagIsMetadata != 0,
			IsJournal:      raw.FlagBits&flagIsJournal != 0,
			CacheHit:       raw.FlagBits&flagCacheHit != 0,
			IsErasure:      raw.FlagBits&flagIsErasure != 0,
			IsParity:       raw.FlagBits&flagIsParity != 0,
			InlineMetadata: raw.FlagBits&flagInlineMetadata != 0,
		},
	}
	return e, nil
}

// Encode is the inverse of Decode, used by tests to produce ring samples
// identical in shape to what a real probe would submit.
func Encode(e Event) []byte {
	comm := [MaxCommLen]byte{}
	n := copy(comm[:], e.Comm)
	path := [MaxPathLen]byte{}
	m := copy(path[:], e.Path)

	var bits uint8
	if e.Flags.IsMetadata {
		bits |= flagIsMetadata
	}
	if e.Flags.IsJournal {
		bits |= flagIsJournal
	}
	if e.Flags.CacheHit {
		bits |= flagCacheHit
	}
	if e.Flags.IsErasure {
		bits |= flagIsErasure
	}
	if e.Flags.IsParity {
		bits |= flagIsParity
	}
	if e.Flags.InlineMetadata {
		bits |= flagInlineMetadata
	}

	raw := rawEvent{
		TimestampNS:     uint64(e.TimestampNS),
		PID:             uint32(e.PID),
		TID:             uint32(e.TID),
		Layer:           uint8(e.Layer),
		Kind:            uint8(e.Kind),
		System:          e.System,
		Size:            e.Size,
		AlignedSize:     e.AlignedSize,
		Offset:          e.Offset,
		LatencyNS:       e.LatencyNS,
		DevMajor:        e.DevMajor,
		DevMinor:        e.DevMinor,
		ReturnValue:     e.ReturnValue,
		Inode:           e.Inode,
		RequestID:       e.RequestID,
		ParentRequestID: e.ParentRequestID,
		BranchID:        e.BranchID,
		BranchCount:     e.BranchCount,
		FlagBits:        bits,
		CommLen:         uint8(n),
		PathLen:         uint16(m),
		Comm:            comm,
		Path:            path,
	}

	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, &raw)
	return buf.Bytes()
}
