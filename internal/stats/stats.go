// Package stats accumulates per-layer amplification statistics:
// independent of flow correlation, every event — including those with
// request_id == 0 that no flow record can claim — is folded into its
// layer's counters. Global statistics are commutative adds, so they need no
// lock even though the single-threaded consumer never actually contends on
// them.
package stats

import "github.com/shuwens/reverb-eBPF/internal/event"

// LayerStats holds one layer's running accumulators.
type LayerStats struct {
	EventCount   int64
	TotalBytes   int64
	AlignedBytes int64
	MetadataOps  int64
	JournalOps   int64
	CacheHits    int64
	CacheMisses  int64
	TotalLatency int64 // nanoseconds, sum across completion events
}

// AmplificationFactor returns this layer's logical TotalBytes (event Size,
// not AlignedBytes) divided by the application layer's bytes, taken over the
// whole run's totals. A flow record's ratio instead uses the aligned size
// where one is set, so the two differ for layers with AlignedSize > Size.
func (s *LayerStats) AmplificationFactor(applicationBytes int64) (float64, bool) {
	if applicationBytes <= 0 {
		return 0, false
	}
	return float64(s.TotalBytes) / float64(applicationBytes), true
}

// Registry holds one LayerStats per layer plus a running count of events
// that could not be assigned a layer and a correlation-skipped counter for
// events whose request_id is 0.
type Registry struct {
	ByLayer            [6]LayerStats // indexed by event.Layer
	UnknownLayerEvents int64
	UncorrelatedEvents int64
	RingLostSamples    int64
}

// NewRegistry builds an empty statistics registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Observe folds e into global per-layer statistics. This runs regardless of
// whether e ends up correlated into a flow record.
func (r *Registry) Observe(e event.Event) {
	if e.Layer == event.LayerUnknown || int(e.Layer) >= len(r.ByLayer) {
		r.UnknownLayerEvents++
		return
	}
	if e.RequestID == 0 {
		r.UncorrelatedEvents++
	}

	s := &r.ByLayer[e.Layer]
	s.EventCount++
	s.TotalBytes += e.Size
	s.AlignedBytes += e.EffectiveBytes()

	if e.Flags.IsMetadata || e.Kind == event.KindFSInodeDirty || e.Kind == event.KindStorageMetadataTouch {
		s.MetadataOps++
	}
	if e.Flags.IsJournal || e.Kind == event.KindFSJournalStart {
		s.JournalOps++
	}

	if e.Flags.CacheHit {
		s.CacheHits++
	} else if e.Layer == event.LayerOS && (e.Kind == event.KindOSVFSRead || e.Kind == event.KindOSVFSWrite) {
		s.CacheMisses++
	}

	if e.LatencyNS > 0 {
		s.TotalLatency += e.LatencyNS
	}
}

// RecordRingLoss accounts for a perf ring sample the kernel reported as
// lost before the consumer ever saw it — counted, never treated as fatal.
func (r *Registry) RecordRingLoss(n int64) {
	r.RingLostSamples += n
}

// Amplification computes every layer's amplification factor against the
// application layer's observed bytes, for the summary's per-layer table.
func (r *Registry) Amplification() map[event.Layer]float64 {
	appBytes := r.ByLayer[event.LayerApplication].TotalBytes
	out := make(map[event.Layer]float64, len(r.ByLayer))
	for layer := event.LayerApplication; int(layer) < len(r.ByLayer); layer++ {
		if ratio, ok := r.ByLayer[layer].AmplificationFactor(appBytes); ok {
			out[layer] = ratio
		}
	}
	return out
}
