// Package runner wires probes, the consumer loop, and periodic table
// sweeps into one managed run with graceful shutdown: sequential attach,
// SIGINT/SIGTERM handling, a context derived and cancelled in one place,
// generalized from "run N collectors once and build a report" to "attach N
// probes, stream events until stopped, and produce a summary."
package runner

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/shuwens/reverb-eBPF/internal/biotiming"
	"github.com/shuwens/reverb-eBPF/internal/config"
	"github.com/shuwens/reverb-eBPF/internal/consumer"
	"github.com/shuwens/reverb-eBPF/internal/ebpf"
	"github.com/shuwens/reverb-eBPF/internal/event"
	"github.com/shuwens/reverb-eBPF/internal/flow"
	"github.com/shuwens/reverb-eBPF/internal/output"
	"github.com/shuwens/reverb-eBPF/internal/probe"
	"github.com/shuwens/reverb-eBPF/internal/selfstat"
	"github.com/shuwens/reverb-eBPF/internal/stats"
)

// sweepInterval is how often the request-context and bio-timing tables are
// checked for entries the kernel-side cleanup missed: the user-space half
// of the dual cleanup mechanism.
const sweepInterval = 5 * time.Second

// shutdownGrace bounds how long Run keeps draining the ring after a signal
// before it gives up and prints the summary anyway: detach probes, drain
// the ring with a grace window, print summary.
const shutdownGrace = 2 * time.Second

// Runner owns every attached probe and the consumer loop reading from them.
type Runner struct {
	cfg      config.Config
	loader   *ebpf.Loader
	progress *output.VerboseProgress

	probes []probe.Probe
	stats  *stats.Registry
	flows  *flow.Table

	reqSweeper  *sweeperHandle
	bioReaper   *reaperHandle
	orphanCount int
}

type sweeperHandle struct{ sweep func() (int, error) }
type reaperHandle struct{ reap func() ([]biotiming.Orphan, error) }

// New builds a Runner from a Config and a probe loader. The caller supplies
// loader separately because its object/pin directories are CLI flags, not
// config.Config fields: Config is the trace policy, not the on-disk layout
// of compiled probes.
func New(cfg config.Config, loader *ebpf.Loader) *Runner {
	return &Runner{
		cfg:      cfg,
		loader:   loader,
		progress: output.NewVerboseProgress(!cfg.Quiet, cfg.Verbose),
		stats:    stats.NewRegistry(),
		flows:    flow.NewTable(cfg.FlowTableCapacity),
	}
}

// Stats returns the live statistics registry, exposed for the MCP surface
// and for tests; it is safe to read concurrently with Run.
func (r *Runner) Stats() *stats.Registry { return r.stats }

// Flows returns the live flow table, exposed the same way as Stats.
func (r *Runner) Flows() *flow.Table { return r.flows }

// attachAll loads and attaches every layer probe, tearing down whatever
// already succeeded if a later one fails. Probe attach failure is a fatal
// setup error.
func (r *Runner) attachAll(ctx context.Context) error {
	if !r.loader.CanLoad() {
		return fmt.Errorf("runner: BTF/CO-RE unavailable, cannot attach probes")
	}

	candidates := []probe.Probe{
		probe.NewApplicationProbe(r.loader, r.cfg, ebpfRingSize(r.cfg)),
		probe.NewOSProbe(r.loader, r.cfg, ebpfRingSize(r.cfg)),
		probe.NewFilesystemProbe(r.loader, r.cfg, ebpfRingSize(r.cfg)),
		probe.NewDeviceProbe(r.loader, r.cfg, ebpfRingSize(r.cfg)),
		probe.NewLifecycleProbe(r.loader),
	}

	for _, p := range candidates {
		if err := p.Attach(ctx); err != nil {
			r.detachAll()
			return fmt.Errorf("runner: attach %s: %w", p.Category(), err)
		}
		if recorder, ok := p.(probe.DropRecorder); ok {
			recorder.OnDrop(func(n uint64) { r.stats.RecordRingLoss(int64(n)) })
		}
		r.progress.Debug("attached %s probe", p.Category())
		r.probes = append(r.probes, p)
	}

	if err := r.wireSweepers(); err != nil {
		r.detachAll()
		return err
	}
	return nil
}

// wireSweepers finds the shared request-context and bio-timing tables
// through whichever probes expose them and builds the periodic sweep
// closures Run's ticker calls.
func (r *Runner) wireSweepers() error {
	for _, p := range r.probes {
		type reqCtxHolder interface {
			RequestContextTable() (*ebpf.RequestContextTable, error)
		}
		if holder, ok := p.(reqCtxHolder); ok {
			table, err := holder.RequestContextTable()
			if err != nil {
				continue
			}
			sweeper := newReqctxSweeper(table, r.cfg.RequestContextMaxAge)
			r.reqSweeper = &sweeperHandle{sweep: sweeper}
			break
		}
	}

	if dev, ok := findDeviceProbe(r.probes); ok {
		table, err := dev.BioTimingTable()
		if err == nil {
			reaper := newBioReaper(table, r.cfg.RequestContextMaxAge)
			r.bioReaper = &reaperHandle{reap: reaper}
		}
	}
	return nil
}

func findDeviceProbe(probes []probe.Probe) (*probe.DeviceProbe, bool) {
	for _, p := range probes {
		if dev, ok := p.(*probe.DeviceProbe); ok {
			return dev, true
		}
	}
	return nil, false
}

func (r *Runner) detachAll() {
	for _, p := range r.probes {
		p.Close()
	}
	r.probes = nil
}

func (r *Runner) runSweeps(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if r.reqSweeper != nil {
				if n, err := r.reqSweeper.sweep(); err == nil && n > 0 {
					r.progress.Debug("request-context sweep evicted %d stale entries", n)
				}
			}
			if r.bioReaper != nil {
				if orphans, err := r.bioReaper.reap(); err == nil && len(orphans) > 0 {
					r.orphanCount += len(orphans)
					r.progress.Debug("bio-timing reap found %d orphaned submissions", len(orphans))
				}
			}
		}
	}
}

// Run attaches every probe, consumes events until ctx is cancelled or a
// SIGINT/SIGTERM arrives, and returns the final summary. DurationSeconds,
// when non-zero, bounds the run independent of any signal (the -d flag);
// 0 means run until signal.
func (r *Runner) Run(ctx context.Context, stream consumer.StreamSink) (output.Summary, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	overhead := selfstat.NewTracker()
	overhead.Before()

	if r.cfg.DurationSeconds > 0 {
		var durationCancel context.CancelFunc
		ctx, durationCancel = context.WithTimeout(ctx, time.Duration(r.cfg.DurationSeconds)*time.Second)
		defer durationCancel()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			r.progress.Log("received %v, shutting down gracefully", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := r.attachAll(ctx); err != nil {
		return output.Summary{}, err
	}
	defer r.detachAll()

	sources := make([]consumer.Source, 0, len(r.probes))
	for _, p := range r.probes {
		sources = append(sources, p)
	}

	histBuilders := make(map[string]*output.HistogramBuilder)
	observeLatency := func(e event.Event) {
		if e.Kind != event.KindDevBioComplete || e.LatencyNS <= 0 {
			return
		}
		key := fmt.Sprintf("%d:%d", e.DevMajor, e.DevMinor)
		b, ok := histBuilders[key]
		if !ok {
			b = output.NewHistogramBuilder("device:"+key, "ns")
			histBuilders[key] = b
		}
		b.Observe(e.LatencyNS)
	}

	con := consumer.New(sources, r.stats, r.flows, stream, r.cfg.CorrelationEnabled, observeLatency)

	go r.runSweeps(ctx)

	runErr := make(chan error, 1)
	go func() { runErr <- con.Run(ctx) }()

	select {
	case err := <-runErr:
		if err != nil {
			r.progress.Log("consumer loop error: %v", err)
		}
	case <-ctx.Done():
		select {
		case <-runErr:
		case <-time.After(shutdownGrace):
			r.progress.Log("shutdown grace window elapsed, printing summary anyway")
		}
	}

	histograms := buildHistograms(histBuilders)
	summary := output.BuildSummary(r.stats, r.flows, histograms, r.cfg.CorrelationEnabled, 0, r.orphanCount)
	overheadResult := overhead.After()
	summary.Overhead = &overheadResult
	r.progress.Log("processed %d events, %d flows tracked", con.Processed(), r.flows.Len())
	return summary, nil
}

// buildHistograms finalizes one per-device latency histogram, sorted by
// device key so the summary's histograms list is ordered deterministically.
func buildHistograms(builders map[string]*output.HistogramBuilder) []output.Histogram {
	keys := make([]string, 0, len(builders))
	for k := range builders {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	histograms := make([]output.Histogram, 0, len(keys))
	for _, k := range keys {
		histograms = append(histograms, builders[k].Build())
	}
	return histograms
}

func ebpfRingSize(cfg config.Config) int {
	if cfg.RingBytes <= 0 {
		return 4096
	}
	return cfg.RingBytes
}
