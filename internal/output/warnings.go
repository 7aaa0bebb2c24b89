package output

import (
	"fmt"

	"github.com/shuwens/reverb-eBPF/internal/event"
	"github.com/shuwens/reverb-eBPF/internal/flow"
	"github.com/shuwens/reverb-eBPF/internal/stats"
)

// Warning is one threshold breach surfaced in the summary's warnings
// section.
type Warning struct {
	Severity  string `json:"severity"` // "warning" or "critical"
	Metric    string `json:"metric"`
	Message   string `json:"message"`
	Value     string `json:"value"`
	Threshold string `json:"threshold"`
}

// runSnapshot is the data a warning threshold evaluates against: the
// statistics registry, the flow table, and two run-scoped counters passed
// in by the caller (evicted flow records, orphaned bios).
type runSnapshot struct {
	Stats           *stats.Registry
	Flows           *flow.Table
	EvictedRequests int
	OrphanedBios    int
}

// threshold is one anomaly-detection rule: a metric name, warning/critical
// bounds, an evaluator over the run snapshot, and a message formatter.
type threshold struct {
	Metric    string
	Warning   float64
	Critical  float64
	Evaluator func(runSnapshot) (float64, bool)
	Message   func(float64) string
}

func defaultThresholds() []threshold {
	return []threshold{
		{
			Metric:   "ring_loss_rate",
			Warning:  0.01,
			Critical: 0.05,
			Evaluator: func(s runSnapshot) (float64, bool) {
				delivered := int64(0)
				for _, ls := range s.Stats.ByLayer {
					delivered += ls.EventCount
				}
				if delivered+s.Stats.RingLostSamples == 0 {
					return 0, false
				}
				return float64(s.Stats.RingLostSamples) / float64(delivered+s.Stats.RingLostSamples), true
			},
			Message: func(v float64) string {
				return fmt.Sprintf("event ring dropped %.2f%% of samples", v*100)
			},
		},
		{
			Metric:   "request_table_saturation",
			Warning:  1,
			Critical: 100,
			Evaluator: func(s runSnapshot) (float64, bool) {
				if s.EvictedRequests == 0 {
					return 0, false
				}
				return float64(s.EvictedRequests), true
			},
			Message: func(v float64) string {
				return fmt.Sprintf("%.0f flow records evicted for capacity (oldest start_ns first)", v)
			},
		},
		{
			Metric:   "orphaned_bio_count",
			Warning:  1,
			Critical: 50,
			Evaluator: func(s runSnapshot) (float64, bool) {
				if s.OrphanedBios == 0 {
					return 0, false
				}
				return float64(s.OrphanedBios), true
			},
			Message: func(v float64) string {
				return fmt.Sprintf("%.0f submitted bios never observed a completion", v)
			},
		},
		{
			Metric:   "uncorrelated_event_rate",
			Warning:  0.10,
			Critical: 0.40,
			Evaluator: func(s runSnapshot) (float64, bool) {
				delivered := int64(0)
				for _, ls := range s.Stats.ByLayer {
					delivered += ls.EventCount
				}
				if delivered == 0 {
					return 0, false
				}
				return float64(s.Stats.UncorrelatedEvents) / float64(delivered), true
			},
			Message: func(v float64) string {
				return fmt.Sprintf("%.1f%% of events carried request_id = 0 (uncorrelated)", v*100)
			},
		},
		{
			Metric:   "implausible_amplification",
			Warning:  1000,
			Critical: 1_000_000,
			Evaluator: func(s runSnapshot) (float64, bool) {
				appBytes := s.Stats.ByLayer[event.LayerApplication].TotalBytes
				if appBytes <= 0 {
					return 0, false
				}
				ratio, ok := s.Stats.ByLayer[event.LayerDevice].AmplificationFactor(appBytes)
				if !ok {
					return 0, false
				}
				return ratio, true
			},
			Message: func(v float64) string {
				return fmt.Sprintf("device-layer amplification of %.0fx looks implausible; check classifier/filter configuration", v)
			},
		},
	}
}

// DetectWarnings evaluates every threshold against the run's accumulated
// statistics, flow table, and sweep counters, returning those that breached
// at least the warning bound.
func DetectWarnings(statsRegistry *stats.Registry, flowTable *flow.Table, evictedRequests, orphanedBios int) []Warning {
	snapshot := runSnapshot{
		Stats:           statsRegistry,
		Flows:           flowTable,
		EvictedRequests: evictedRequests,
		OrphanedBios:    orphanedBios,
	}

	var warnings []Warning
	for _, th := range defaultThresholds() {
		value, found := th.Evaluator(snapshot)
		if !found {
			continue
		}

		var severity string
		switch {
		case value >= th.Critical:
			severity = "critical"
		case value >= th.Warning:
			severity = "warning"
		default:
			continue
		}

		warnings = append(warnings, Warning{
			Severity:  severity,
			Metric:    th.Metric,
			Message:   th.Message(value),
			Value:     fmt.Sprintf("%.4f", value),
			Threshold: fmt.Sprintf("warning=%.2f, critical=%.2f", th.Warning, th.Critical),
		})
	}
	return warnings
}
