package runner

import (
	"context"
	"testing"
	"time"

	"github.com/shuwens/reverb-eBPF/internal/config"
	"github.com/shuwens/reverb-eBPF/internal/ebpf"
	"github.com/shuwens/reverb-eBPF/internal/output"
)

func TestEbpfRingSizeDefaultsWhenUnset(t *testing.T) {
	cfg := config.Default()
	cfg.RingBytes = 0
	if got := ebpfRingSize(cfg); got != 4096 {
		t.Errorf("ebpfRingSize(0) = %d, want 4096", got)
	}
}

func TestEbpfRingSizePassesThroughConfiguredValue(t *testing.T) {
	cfg := config.Default()
	cfg.RingBytes = 1 << 16
	if got := ebpfRingSize(cfg); got != 1<<16 {
		t.Errorf("ebpfRingSize = %d, want %d", got, 1<<16)
	}
}

func TestFindDeviceProbeEmpty(t *testing.T) {
	if _, ok := findDeviceProbe(nil); ok {
		t.Error("expected no device probe in an empty slice")
	}
}

func TestBuildHistogramsEmpty(t *testing.T) {
	histograms := buildHistograms(map[string]*output.HistogramBuilder{})
	if len(histograms) != 0 {
		t.Errorf("len(histograms) = %d, want 0", len(histograms))
	}
}

func TestBuildHistogramsSortedByDeviceKey(t *testing.T) {
	b1 := output.NewHistogramBuilder("device:8:2", "ns")
	b1.Observe(1000)
	b0 := output.NewHistogramBuilder("device:8:1", "ns")
	b0.Observe(2000)

	histograms := buildHistograms(map[string]*output.HistogramBuilder{
		"8:2": b1,
		"8:1": b0,
	})
	if len(histograms) != 2 {
		t.Fatalf("len(histograms) = %d, want 2", len(histograms))
	}
	if histograms[0].Name != "device:8:1" || histograms[1].Name != "device:8:2" {
		t.Errorf("histograms not sorted by device key: %q, %q", histograms[0].Name, histograms[1].Name)
	}
}

func TestRunFailsFastWithoutBTF(t *testing.T) {
	// A loader rooted at a nonexistent object directory with no pin dir
	// still runs BTF/CO-RE detection against the real host; on any host
	// lacking kernel tracing privileges (this test environment) CanLoad
	// reports false and Run must fail at setup rather than block.
	loader := ebpf.NewLoader("/nonexistent-probe-objects", "", false)
	if loader.CanLoad() {
		t.Skip("host reports BTF/CO-RE available; setup-failure path not exercised here")
	}

	r := New(config.Default(), loader)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := r.Run(ctx, nil)
	if err == nil {
		t.Fatal("expected an error when BTF/CO-RE is unavailable")
	}
}
