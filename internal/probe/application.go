package probe

import (
	"context"

	"github.com/shuwens/reverb-eBPF/internal/config"
	"github.com/shuwens/reverb-eBPF/internal/ebpf"
	"github.com/shuwens/reverb-eBPF/internal/event"
)

// ApplicationProbe observes the read/write/openat syscall entries that mark
// where an amplification chain begins.
type ApplicationProbe struct {
	*ringReader
}

// NewApplicationProbe builds the application-layer probe from loader. cfg
// gates which decoded events ever reach the consumer (see ringReader.isTarget).
func NewApplicationProbe(loader *ebpf.Loader, cfg config.Config, ringSize int) *ApplicationProbe {
	return &ApplicationProbe{
		ringReader: newRingReader("application", loader, ebpf.ProgramsByCategory("application"), cfg, ringSize),
	}
}

func (p *ApplicationProbe) Category() string { return "application" }

func (p *ApplicationProbe) Attach(ctx context.Context) error {
	return p.attach(ctx, "application.o", "events")
}

func (p *ApplicationProbe) Events() <-chan event.Event { return p.events }

func (p *ApplicationProbe) Close() error { return p.close() }

// RequestContextTable exposes the shared request-context map populated by
// app_read_enter/app_write_enter so the OS and device layers' probes (and
// the reqctx sweeper) can look up the same rows.
func (p *ApplicationProbe) RequestContextTable() (*ebpf.RequestContextTable, error) {
	m, ok := p.Map("request_ctx")
	if !ok {
		return nil, errMapNotFound("request_ctx")
	}
	return ebpf.WrapRequestContextTable(m), nil
}
