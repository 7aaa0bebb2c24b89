package output

import "math"

// HistBucket is one power-of-2 latency bucket, [Low, High) nanoseconds.
type HistBucket struct {
	Low   int64 `json:"low"`
	High  int64 `json:"high"`
	Count int64 `json:"count"`
}

// Histogram is the bio-completion-latency distribution carried in the
// summary's "histograms" list (JSON export), one per traced block device.
// Summary.WriteText does not print histograms.
type Histogram struct {
	Name       string       `json:"name"`
	Unit       string       `json:"unit"`
	Buckets    []HistBucket `json:"buckets"`
	TotalCount int64        `json:"total_count"`
	P50        float64      `json:"p50"`
	P90        float64      `json:"p90"`
	P99        float64      `json:"p99"`
	P999       float64      `json:"p999"`
	Max        float64      `json:"max"`
	Mean       float64      `json:"mean"`
}

// HistogramBuilder accumulates raw latency samples into power-of-2 buckets,
// matching BCC-style biolatency histograms in shape without needing to
// parse any text: spec's device layer hands it LatencyNS directly off each
// dev_bio_complete event.
type HistogramBuilder struct {
	name   string
	unit   string
	counts map[int]int64 // bucket index -> count, where bucket i covers [2^(i-1), 2^i)
	max    int
}

// NewHistogramBuilder creates a builder for one named, unit-labeled
// histogram (e.g. "device:8:1" in nanoseconds).
func NewHistogramBuilder(name, unit string) *HistogramBuilder {
	return &HistogramBuilder{name: name, unit: unit, counts: make(map[int]int64)}
}

// Observe folds one latency sample (nanoseconds) into its power-of-2
// bucket.
func (b *HistogramBuilder) Observe(latencyNS int64) {
	if latencyNS < 0 {
		latencyNS = 0
	}
	idx := bucketIndex(latencyNS)
	b.counts[idx]++
	if idx > b.max {
		b.max = idx
	}
}

func bucketIndex(v int64) int {
	if v <= 0 {
		return 0
	}
	return int(math.Ceil(math.Log2(float64(v + 1))))
}

func bucketBounds(idx int) (int64, int64) {
	if idx == 0 {
		return 0, 1
	}
	return int64(1) << (idx - 1), int64(1) << idx
}

// Build renders the accumulated samples into a Histogram with percentiles,
// using a weighted-midpoint estimate for percentiles computed from
// bucketed (not raw) samples.
func (b *HistogramBuilder) Build() Histogram {
	h := Histogram{Name: b.name, Unit: b.unit}
	if len(b.counts) == 0 {
		return h
	}

	for idx := 0; idx <= b.max; idx++ {
		count, ok := b.counts[idx]
		if !ok {
			continue
		}
		low, high := bucketBounds(idx)
		h.Buckets = append(h.Buckets, HistBucket{Low: low, High: high, Count: count})
	}

	var totalCount int64
	var weightedSum float64
	for _, bkt := range h.Buckets {
		totalCount += bkt.Count
		mid := float64(bkt.Low+bkt.High) / 2.0
		weightedSum += mid * float64(bkt.Count)
	}
	h.TotalCount = totalCount
	if totalCount > 0 {
		h.Mean = weightedSum / float64(totalCount)
	}

	h.P50 = percentile(h.Buckets, totalCount, 0.50)
	h.P90 = percentile(h.Buckets, totalCount, 0.90)
	h.P99 = percentile(h.Buckets, totalCount, 0.99)
	h.P999 = percentile(h.Buckets, totalCount, 0.999)
	if len(h.Buckets) > 0 {
		h.Max = float64(h.Buckets[len(h.Buckets)-1].High)
	}
	return h
}

func percentile(buckets []HistBucket, totalCount int64, pct float64) float64 {
	target := int64(math.Ceil(float64(totalCount) * pct))
	var cumulative int64
	for _, b := range buckets {
		cumulative += b.Count
		if cumulative >= target {
			return float64(b.Low+b.High) / 2.0
		}
	}
	if len(buckets) > 0 {
		return float64(buckets[len(buckets)-1].High)
	}
	return 0
}
