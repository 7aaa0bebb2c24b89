package probe

import (
	"context"

	"github.com/shuwens/reverb-eBPF/internal/config"
	"github.com/shuwens/reverb-eBPF/internal/ebpf"
	"github.com/shuwens/reverb-eBPF/internal/event"
)

// OSProbe observes VFS read/write entry, computing the page-cache-hit flag
// and 4 KiB aligned size the OS layer contributes.
type OSProbe struct {
	*ringReader
}

// NewOSProbe builds the OS-layer probe from loader.
func NewOSProbe(loader *ebpf.Loader, cfg config.Config, ringSize int) *OSProbe {
	return &OSProbe{
		ringReader: newRingReader("os", loader, ebpf.ProgramsByCategory("os"), cfg, ringSize),
	}
}

func (p *OSProbe) Category() string { return "os" }

func (p *OSProbe) Attach(ctx context.Context) error {
	return p.attach(ctx, "os.o", "events")
}

func (p *OSProbe) Events() <-chan event.Event { return p.events }

func (p *OSProbe) Close() error { return p.close() }

// RequestContextTable exposes the same request-context map the application
// layer populated, so VFS-level events can be tagged with the request they
// belong to.
func (p *OSProbe) RequestContextTable() (*ebpf.RequestContextTable, error) {
	m, ok := p.Map("request_ctx")
	if !ok {
		return nil, errMapNotFound("request_ctx")
	}
	return ebpf.WrapRequestContextTable(m), nil
}
