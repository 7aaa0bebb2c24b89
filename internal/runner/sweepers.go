package runner

import (
	"time"

	"github.com/shuwens/reverb-eBPF/internal/biotiming"
	"github.com/shuwens/reverb-eBPF/internal/ebpf"
	"github.com/shuwens/reverb-eBPF/internal/reqctx"
)

func newReqctxSweeper(table *ebpf.RequestContextTable, maxAge time.Duration) func() (int, error) {
	sweeper := reqctx.NewSweeper(table, maxAge, nowNS)
	return sweeper.Sweep
}

func newBioReaper(table *ebpf.BioTimingTable, maxAge time.Duration) func() ([]biotiming.Orphan, error) {
	reaper := biotiming.NewReaper(table, maxAge, nowNS)
	return reaper.Reap
}

func nowNS() int64 {
	return time.Now().UnixNano()
}
