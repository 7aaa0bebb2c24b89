package probe

import (
	"context"
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/shuwens/reverb-eBPF/internal/config"
	"github.com/shuwens/reverb-eBPF/internal/ebpf"
	"github.com/shuwens/reverb-eBPF/internal/event"
)

// DeviceProbe observes submit_bio and bio_endio, the block layer's request
// submission and completion.
type DeviceProbe struct {
	*ringReader
}

// NewDeviceProbe builds the device-layer probe from loader.
func NewDeviceProbe(loader *ebpf.Loader, cfg config.Config, ringSize int) *DeviceProbe {
	return &DeviceProbe{
		ringReader: newRingReader("device", loader, ebpf.ProgramsByCategory("device"), cfg, ringSize),
	}
}

func (p *DeviceProbe) Category() string { return "device" }

func (p *DeviceProbe) Attach(ctx context.Context) error {
	return p.attach(ctx, "device.o", "events")
}

func (p *DeviceProbe) Events() <-chan event.Event { return p.events }

func (p *DeviceProbe) Close() error { return p.close() }

// BioTimingTable exposes the shared submit-to-completion map the device
// layer uses to pair up a bio's two probe hits.
func (p *DeviceProbe) BioTimingTable() (*ebpf.BioTimingTable, error) {
	m, ok := p.Map("bio_timing")
	if !ok {
		return nil, errMapNotFound("bio_timing")
	}
	return ebpf.WrapBioTimingTable(m), nil
}

// RequestContextTable exposes the shared request-context map, read here to
// resolve a bio's owning request and deleted from here once the bio that
// closes out a request's final completion is observed.
func (p *DeviceProbe) RequestContextTable() (*ebpf.RequestContextTable, error) {
	m, ok := p.Map("request_ctx")
	if !ok {
		return nil, errMapNotFound("request_ctx")
	}
	return ebpf.WrapRequestContextTable(m), nil
}

// DeviceID is a resolved major:minor pair, the unit in which device-layer
// events identify their block device.
type DeviceID struct {
	Major uint32
	Minor uint32
}

func (d DeviceID) String() string {
	return fmt.Sprintf("%d:%d", d.Major, d.Minor)
}

// ResolveDevice stats path (typically a block device node like /dev/sda or
// /dev/nvme0n1) and decodes its major:minor pair, comparable with the
// DevMajor/DevMinor every device-layer event carries. No CLI flag calls it;
// the tracer does not filter events by device.
func ResolveDevice(path string) (DeviceID, error) {
	info, err := os.Stat(path)
	if err != nil {
		return DeviceID{}, fmt.Errorf("probe: stat %s: %w", path, err)
	}
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return DeviceID{}, fmt.Errorf("probe: %s has no platform stat info", path)
	}
	rdev := uint64(stat.Rdev)
	return DeviceID{
		Major: unix.Major(rdev),
		Minor: unix.Minor(rdev),
	}, nil
}
