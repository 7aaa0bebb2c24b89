package probe

import (
	"context"
	"fmt"

	"github.com/shuwens/reverb-eBPF/internal/ebpf"
	"github.com/shuwens/reverb-eBPF/internal/event"
)

// LifecycleProbe attaches the task-exit tracepoint that deletes a dying
// task's request-context rows entirely in-kernel: the kernel-owned half of
// a dual cleanup mechanism, with internal/reqctx.Sweeper as the other,
// user-space half. It never emits ring events, so it does not embed
// ringReader the way the byte-observing layers do.
type LifecycleProbe struct {
	loader *ebpf.Loader
	specs  []ebpf.ProgramSpec
	group  *ebpf.LoadedGroup
	events chan event.Event
}

// NewLifecycleProbe builds the task-exit cleanup probe from loader.
func NewLifecycleProbe(loader *ebpf.Loader) *LifecycleProbe {
	events := make(chan event.Event)
	close(events)
	return &LifecycleProbe{
		loader: loader,
		specs:  ebpf.ProgramsByCategory("lifecycle"),
		events: events,
	}
}

func (p *LifecycleProbe) Category() string { return "lifecycle" }

func (p *LifecycleProbe) Attach(ctx context.Context) error {
	if len(p.specs) == 0 {
		return fmt.Errorf("probe lifecycle: no program specs registered")
	}
	group, err := p.loader.LoadGroup(ctx, "lifecycle.o", p.specs)
	if err != nil {
		return err
	}
	p.group = group
	return nil
}

// Events returns a closed, empty channel: lifecycle cleanup is a pure
// kernel-side side effect with nothing to stream.
func (p *LifecycleProbe) Events() <-chan event.Event { return p.events }

func (p *LifecycleProbe) Close() error {
	if p.group != nil {
		return p.group.Close()
	}
	return nil
}

var _ Probe = (*LifecycleProbe)(nil)
