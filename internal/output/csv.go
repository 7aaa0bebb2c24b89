package output

import (
	"encoding/csv"
	"os"
	"sort"
	"strconv"

	"github.com/shuwens/reverb-eBPF/internal/event"
	"github.com/shuwens/reverb-eBPF/internal/flow"
)

// csvRow is one aggregated (size, operation) bucket in the exported table.
type csvRow struct {
	size          int64
	operation     string
	osBytes       int64
	deviceBytes   int64
	applicationBytes int64
	metadataCount int64
}

// aggregateBySizeAndOp groups flow records by their application-layer byte
// count and operation kind, the bucketing the CSV export and the summary's
// ladder must agree on for the round-trip law to hold.
func aggregateBySizeAndOp(flowTable *flow.Table) []csvRow {
	buckets := make(map[string]*csvRow)
	var order []string

	for _, rec := range flowTable.All() {
		size := rec.BytesPerLayer[event.LayerApplication]
		op := rec.OpKind.String()
		key := strconv.FormatInt(size, 10) + "|" + op

		row, ok := buckets[key]
		if !ok {
			row = &csvRow{size: size, operation: op}
			buckets[key] = row
			order = append(order, key)
		}
		row.osBytes += rec.BytesPerLayer[event.LayerOS]
		row.deviceBytes += rec.BytesPerLayer[event.LayerDevice]
		row.applicationBytes += size
		row.metadataCount += rec.Ops.Metadata
	}

	sort.Strings(order)
	rows := make([]csvRow, 0, len(order))
	for _, key := range order {
		rows = append(rows, *buckets[key])
	}
	return rows
}

// WriteCSV exports one row per (size, operation) bucket with columns
// {size, operation, os_bytes, device_bytes, os_amp, device_amp,
// metadata_count}, re-aggregating the same flow records the correlation
// summary section draws from.
func WriteCSV(flowTable *flow.Table, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if err := w.Write([]string{"size", "operation", "os_bytes", "device_bytes", "os_amp", "device_amp", "metadata_count"}); err != nil {
		return err
	}

	for _, row := range aggregateBySizeAndOp(flowTable) {
		osAmp, deviceAmp := 0.0, 0.0
		if row.applicationBytes > 0 {
			osAmp = float64(row.osBytes) / float64(row.applicationBytes)
			deviceAmp = float64(row.deviceBytes) / float64(row.applicationBytes)
		}
		record := []string{
			strconv.FormatInt(row.size, 10),
			row.operation,
			strconv.FormatInt(row.osBytes, 10),
			strconv.FormatInt(row.deviceBytes, 10),
			strconv.FormatFloat(osAmp, 'f', 4, 64),
			strconv.FormatFloat(deviceAmp, 'f', 4, 64),
			strconv.FormatInt(row.metadataCount, 10),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	return w.Error()
}
