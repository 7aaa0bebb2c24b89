package probe

import (
	"context"

	"github.com/shuwens/reverb-eBPF/internal/config"
	"github.com/shuwens/reverb-eBPF/internal/ebpf"
	"github.com/shuwens/reverb-eBPF/internal/event"
)

// FilesystemProbe observes vfs_fsync_range entry, the filesystem layer's
// one instrumented point: sync/journal pressure.
type FilesystemProbe struct {
	*ringReader
}

// NewFilesystemProbe builds the filesystem-layer probe from loader.
func NewFilesystemProbe(loader *ebpf.Loader, cfg config.Config, ringSize int) *FilesystemProbe {
	return &FilesystemProbe{
		ringReader: newRingReader("filesystem", loader, ebpf.ProgramsByCategory("filesystem"), cfg, ringSize),
	}
}

func (p *FilesystemProbe) Category() string { return "filesystem" }

func (p *FilesystemProbe) Attach(ctx context.Context) error {
	return p.attach(ctx, "filesystem.o", "events")
}

func (p *FilesystemProbe) Events() <-chan event.Event { return p.events }

func (p *FilesystemProbe) Close() error { return p.close() }
