// Package probe attaches the compiled layer programs and turns their perf
// ring samples into event.Event values. Each layer (application, OS,
// filesystem, device) gets its own Probe, which loads its own object file
// into its own collection; the request-context and bio-timing maps one layer
// writes are the same maps another layer reads only when the loader pins
// them by name (ebpf.NewLoader's pinDir) — generalizing a single perf.Reader
// read-loop from one probe to the whole five-layer set.
package probe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	cilium "github.com/cilium/ebpf"
	"github.com/cilium/ebpf/perf"

	"github.com/shuwens/reverb-eBPF/internal/classify"
	"github.com/shuwens/reverb-eBPF/internal/config"
	"github.com/shuwens/reverb-eBPF/internal/ebpf"
	"github.com/shuwens/reverb-eBPF/internal/event"
)

// Probe is one attached layer: a set of kernel programs sharing a
// collection, streaming decoded events out of a perf ring.
type Probe interface {
	Category() string
	Attach(ctx context.Context) error
	Events() <-chan event.Event
	Close() error
}

// DropRecorder is implemented by every Probe built on ringReader; callers
// that want ring-loss counts (the consumer's drop counter) type-assert for
// it rather than widening the Probe interface with a method lifecycle
// probes have no use for.
type DropRecorder interface {
	OnDrop(fn func(lostSamples uint64))
}

// ringReader is embedded by each layer's Probe implementation: it owns the
// loaded group and the perf reader over its "events" map, and runs the
// decode loop as a goroutine.
type ringReader struct {
	category string
	loader   *ebpf.Loader
	specs    []ebpf.ProgramSpec
	ringSize int
	cfg      config.Config

	group  *ebpf.LoadedGroup
	reader *perf.Reader
	events chan event.Event
	errs   chan error

	onDrop func(lostSamples uint64)
}

func newRingReader(category string, loader *ebpf.Loader, specs []ebpf.ProgramSpec, cfg config.Config, ringSize int) *ringReader {
	return &ringReader{
		category: category,
		loader:   loader,
		specs:    specs,
		ringSize: ringSize,
		cfg:      cfg,
		events:   make(chan event.Event, 256),
		errs:     make(chan error, 1),
	}
}

// OnDrop registers a callback invoked whenever the perf ring reports lost
// samples, so the caller can fold the count into its run-wide drop counter.
// Ring reservation failure is a counted runtime error, never logged per
// occurrence.
func (r *ringReader) OnDrop(fn func(lostSamples uint64)) {
	r.onDrop = fn
}

func (r *ringReader) attach(ctx context.Context, objectFile, eventsMapName string) error {
	if len(r.specs) == 0 {
		return fmt.Errorf("probe %s: no program specs registered", r.category)
	}

	group, err := r.loader.LoadGroup(ctx, objectFile, r.specs)
	if err != nil {
		return err
	}

	eventsMap, ok := group.Collection.Maps[eventsMapName]
	if !ok {
		group.Close()
		return fmt.Errorf("probe %s: map %q not found", r.category, eventsMapName)
	}

	rd, err := perf.NewReader(eventsMap, r.ringSize)
	if err != nil {
		group.Close()
		return fmt.Errorf("probe %s: opening perf reader: %w", r.category, err)
	}

	r.group = group
	r.reader = rd

	go r.readLoop(ctx)
	go func() {
		<-ctx.Done()
		rd.Close()
	}()

	return nil
}

func (r *ringReader) readLoop(ctx context.Context) {
	defer close(r.events)
	for {
		record, err := r.reader.Read()
		if err != nil {
			if errors.Is(err, perf.ErrClosed) || ctx.Err() != nil {
				return
			}
			select {
			case r.errs <- fmt.Errorf("probe %s: read: %w", r.category, err):
			default:
			}
			continue
		}
		if record.LostSamples > 0 {
			if r.onDrop != nil {
				r.onDrop(uint64(record.LostSamples))
			}
			continue
		}

		evt, err := event.Decode(record.RawSample)
		if err != nil {
			continue
		}
		if !r.isTarget(evt) {
			continue
		}

		select {
		case r.events <- evt:
		case <-ctx.Done():
			return
		}
	}
}

// isTarget gates the decoded event against the installed configuration
// before it ever reaches the consumer: classify.IsTarget enforces trace
// mode (off/by_name/by_pid/all) plus the tracer's unconditional self
// exclusion, and SystemFilter additionally narrows to one storage-system
// tag when set.
func (r *ringReader) isTarget(e event.Event) bool {
	if !classify.IsTarget(&r.cfg, e.Comm, int(e.PID)) {
		return false
	}
	if r.cfg.SystemFilter != "" && !strings.EqualFold(classify.Classify(e.Comm).String(), r.cfg.SystemFilter) {
		return false
	}
	return true
}

func (r *ringReader) close() error {
	if r.group != nil {
		return r.group.Close()
	}
	return nil
}

// Map returns a named map from the attached collection, used by layers that
// need direct access to a shared table (request-context, bio-timing)
// alongside the event stream.
func (r *ringReader) Map(name string) (*cilium.Map, bool) {
	if r.group == nil || r.group.Collection == nil {
		return nil, false
	}
	m, ok := r.group.Collection.Maps[name]
	return m, ok
}

func errMapNotFound(name string) error {
	return fmt.Errorf("probe: map %q not attached", name)
}
