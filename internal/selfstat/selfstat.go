// Package selfstat measures reverb's own resource consumption during a run
// via before/after /proc-delta accounting. The tracer excludes its own comm
// from every trace mode (classify.SelfComm); this package answers the
// complementary question an operator asks next: how much CPU, memory, and
// disk I/O did watching everyone else's I/O cost?
package selfstat

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Overhead is reverb's own resource delta across one run.
type Overhead struct {
	PID             int   `json:"pid"`
	CPUUserMs       int64 `json:"cpu_user_ms"`
	CPUSystemMs     int64 `json:"cpu_system_ms"`
	MemoryRSSBytes  int64 `json:"memory_rss_bytes"`
	DiskReadBytes   int64 `json:"disk_read_bytes"`
	DiskWriteBytes  int64 `json:"disk_write_bytes"`
	ContextSwitches int64 `json:"context_switches"`
}

// procSnapshot holds raw values read from /proc/[pid]/{stat,io,status}.
type procSnapshot struct {
	utime          uint64
	stime          uint64
	rss            int64
	voluntaryCtxSw int64
	nonvolCtxSw    int64
	readBytes      int64
	writeBytes     int64
}

// Tracker snapshots reverb's own process before and after a run and
// reports the delta. A single Tracker is meant to span one Run call; it
// is not safe for concurrent Before/After pairs.
type Tracker struct {
	pid    int
	before procSnapshot
	taken  bool
}

// NewTracker builds a Tracker for the current process.
func NewTracker() *Tracker {
	return &Tracker{pid: os.Getpid()}
}

// Before records the starting snapshot. Call once at the start of a run.
func (t *Tracker) Before() {
	t.before = readProcSnapshot(t.pid)
	t.taken = true
}

// After computes the delta since Before. Calling After without a prior
// Before returns a zero-valued Overhead save for PID.
func (t *Tracker) After() Overhead {
	out := Overhead{PID: t.pid}
	if !t.taken {
		return out
	}
	now := readProcSnapshot(t.pid)
	out.CPUUserMs = ticksToMs(now.utime - t.before.utime)
	out.CPUSystemMs = ticksToMs(now.stime - t.before.stime)
	out.MemoryRSSBytes = now.rss * pageSize
	out.ContextSwitches = (now.voluntaryCtxSw - t.before.voluntaryCtxSw) +
		(now.nonvolCtxSw - t.before.nonvolCtxSw)
	out.DiskReadBytes = now.readBytes - t.before.readBytes
	out.DiskWriteBytes = now.writeBytes - t.before.writeBytes
	return out
}

const pageSize = 4096

// ticksToMs converts clock ticks (100 Hz on virtually every Linux system)
// to milliseconds.
func ticksToMs(ticks uint64) int64 {
	return int64(ticks) * 10
}

func readProcSnapshot(pid int) procSnapshot {
	var snap procSnapshot

	statData, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return snap
	}
	snap = parseProcStat(string(statData))

	ioData, err := os.ReadFile(fmt.Sprintf("/proc/%d/io", pid))
	if err == nil {
		snap.readBytes, snap.writeBytes = parseProcIO(string(ioData))
	}

	statusData, err := os.ReadFile(fmt.Sprintf("/proc/%d/status", pid))
	if err == nil {
		snap.voluntaryCtxSw, snap.nonvolCtxSw = parseProcStatus(string(statusData))
	}

	return snap
}

// parseProcStat extracts utime, stime, rss from /proc/[pid]/stat content.
// Fields are counted after the comm field's closing paren since comm may
// itself contain spaces or parens.
func parseProcStat(content string) procSnapshot {
	var snap procSnapshot

	commEnd := strings.LastIndex(content, ")")
	if commEnd < 0 || commEnd+2 >= len(content) {
		return snap
	}

	fields := strings.Fields(content[commEnd+2:])
	if len(fields) > 12 {
		snap.utime, _ = strconv.ParseUint(fields[11], 10, 64)
		snap.stime, _ = strconv.ParseUint(fields[12], 10, 64)
	}
	if len(fields) > 21 {
		snap.rss, _ = strconv.ParseInt(fields[21], 10, 64)
	}

	return snap
}

func parseProcIO(content string) (readBytes, writeBytes int64) {
	for _, line := range strings.Split(content, "\n") {
		fields := strings.SplitN(line, ": ", 2)
		if len(fields) != 2 {
			continue
		}
		val, _ := strconv.ParseInt(strings.TrimSpace(fields[1]), 10, 64)
		switch fields[0] {
		case "read_bytes":
			readBytes = val
		case "write_bytes":
			writeBytes = val
		}
	}
	return
}

func parseProcStatus(content string) (voluntary, nonvoluntary int64) {
	for _, line := range strings.Split(content, "\n") {
		fields := strings.SplitN(line, ":\t", 2)
		if len(fields) != 2 {
			continue
		}
		val, _ := strconv.ParseInt(strings.TrimSpace(fields[1]), 10, 64)
		switch fields[0] {
		case "voluntary_ctxt_switches":
			voluntary = val
		case "nonvoluntary_ctxt_switches":
			nonvoluntary = val
		}
	}
	return
}
