// Package consumer implements the single-threaded event consumer: it
// merges the layer probes' event channels and dispatches each event to
// three sinks — streaming output, layer statistics, and flow correlation —
// without ever blocking on a slow sink for long enough to stall the ring
// drain.
package consumer

import (
	"context"

	"github.com/shuwens/reverb-eBPF/internal/event"
	"github.com/shuwens/reverb-eBPF/internal/flow"
	"github.com/shuwens/reverb-eBPF/internal/stats"
)

// StreamSink renders one event as it is consumed: the human/JSON
// streaming output.
type StreamSink interface {
	Write(e event.Event) error
}

// Source is anything that can hand the consumer a stream of decoded
// events — satisfied by *probe.ApplicationProbe etc. without importing the
// probe package here, keeping consumer decoupled from attachment mechanics.
type Source interface {
	Category() string
	Events() <-chan event.Event
}

// Consumer drains one or more layer sources, updating statistics and the
// flow table and forwarding to a stream sink.
type Consumer struct {
	sources            []Source
	stats              *stats.Registry
	flows              *flow.Table
	stream             StreamSink
	correlationEnabled bool
	observe            func(event.Event)

	processed int64
}

// New builds a Consumer over sources, folding events into statsRegistry and
// flowTable. stream may be nil to disable streaming output (quiet mode).
// When correlationEnabled is false, events are still counted into
// statistics but never applied to the flow table. observe, if non-nil, is
// called with every dispatched event before it reaches stream — the hook
// the runner uses to feed dev_bio_complete latencies into a histogram.
func New(sources []Source, statsRegistry *stats.Registry, flowTable *flow.Table, stream StreamSink, correlationEnabled bool, observe func(event.Event)) *Consumer {
	return &Consumer{
		sources:            sources,
		stats:              statsRegistry,
		flows:              flowTable,
		stream:             stream,
		correlationEnabled: correlationEnabled,
		observe:            observe,
	}
}

// Processed returns how many events this consumer has dispatched so far.
func (c *Consumer) Processed() int64 { return c.processed }

// Run drains every source until ctx is cancelled or every source's channel
// closes, whichever comes first. It never blocks indefinitely on a single
// source: all channels are merged via select, so a quiet layer never starves
// a busy one.
func (c *Consumer) Run(ctx context.Context) error {
	merged := merge(ctx, c.sources)
	for {
		select {
		case e, ok := <-merged:
			if !ok {
				return nil
			}
			c.dispatch(e)
		case <-ctx.Done():
			c.drain(merged)
			return nil
		}
	}
}

// drain empties whatever is immediately available in merged without
// blocking: a short grace window on shutdown.
func (c *Consumer) drain(merged <-chan event.Event) {
	for {
		select {
		case e, ok := <-merged:
			if !ok {
				return
			}
			c.dispatch(e)
		default:
			return
		}
	}
}

func (c *Consumer) dispatch(e event.Event) {
	c.processed++

	if c.stats != nil {
		c.stats.Observe(e)
	}

	if c.correlationEnabled && c.flows != nil && e.RequestID != 0 {
		c.flows.Apply(e)
	}

	if c.observe != nil {
		c.observe(e)
	}

	if c.stream != nil {
		c.stream.Write(e)
	}
}

// merge fans every source's channel into one, closing the output once all
// inputs are closed or ctx is done.
func merge(ctx context.Context, sources []Source) <-chan event.Event {
	out := make(chan event.Event, 256)
	if len(sources) == 0 {
		close(out)
		return out
	}

	done := make(chan struct{})
	remaining := len(sources)
	finished := make(chan struct{}, len(sources))

	for _, src := range sources {
		go func(s Source) {
			ch := s.Events()
			for {
				select {
				case e, ok := <-ch:
					if !ok {
						finished <- struct{}{}
						return
					}
					select {
					case out <- e:
					case <-done:
						return
					}
				case <-done:
					return
				}
			}
		}(src)
	}

	go func() {
		for i := 0; i < remaining; i++ {
			select {
			case <-finished:
			case <-ctx.Done():
			}
		}
		close(done)
		close(out)
	}()

	return out
}
