// Package ebpf wraps github.com/cilium/ebpf for this tracer: BTF/CO-RE
// capability detection, compiled-probe loading and kprobe/tracepoint
// attachment, and typed access to the kernel-resident request-context and
// bio-timing tables.
package ebpf

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// BTFInfo describes whether this kernel can run the native, CO-RE compiled
// probes every layer needs. There is no fallback tier here: a kernel too
// old to support CO-RE is a fatal setup error, not a degraded mode.
type BTFInfo struct {
	Available     bool
	VmlinuxPath   string
	KernelVersion string
	MajorVersion  int
	MinorVersion  int
	CORESupport   bool // kernel >= 5.8
}

// DetectBTF inspects /sys/kernel/btf/vmlinux and /proc/version to decide
// whether CO-RE probe loading can be attempted.
func DetectBTF() *BTFInfo {
	info := &BTFInfo{}
	info.KernelVersion = readKernelVersion()
	info.MajorVersion, info.MinorVersion = parseKernelVersion(info.KernelVersion)

	if _, err := os.Stat("/sys/kernel/btf/vmlinux"); err == nil {
		info.Available = true
		info.VmlinuxPath = "/sys/kernel/btf/vmlinux"
	}

	if info.MajorVersion > 5 || (info.MajorVersion == 5 && info.MinorVersion >= 8) {
		info.CORESupport = true
	}

	return info
}

// Ready reports whether both BTF and CO-RE support are present, the single
// gate a probe's Attach path checks before trying to load.
func (b *BTFInfo) Ready() bool {
	return b.Available && b.CORESupport
}

// Capabilities is a diagnostic snapshot surfaced by the `capabilities` CLI
// subcommand. It never gates probe attachment itself (BTFInfo.Ready does
// that); it exists so an operator can see why attachment might fail.
type Capabilities struct {
	BPFSyscall   bool
	BTFVmlinux   bool
	BPFFS        bool
	KprobeEvents bool
	Tracepoints  bool
	PerfEvents   bool
	DebugInfoBTF bool
}

// DetectCapabilities probes the usual procfs/sysfs locations for BPF
// tracing support.
func DetectCapabilities() Capabilities {
	kconfig := readKConfig()
	return Capabilities{
		BPFSyscall:   fileExists("/proc/sys/kernel/unprivileged_bpf_disabled"),
		BTFVmlinux:   fileExists("/sys/kernel/btf/vmlinux"),
		BPFFS:        fileExists("/sys/fs/bpf"),
		KprobeEvents: fileExists("/sys/kernel/debug/kprobes/list") || fileExists("/sys/kernel/tracing/kprobe_events"),
		Tracepoints:  kconfig["CONFIG_TRACING"],
		PerfEvents:   fileExists("/proc/sys/kernel/perf_event_paranoid"),
		DebugInfoBTF: kconfig["CONFIG_DEBUG_INFO_BTF"],
	}
}

// Format renders the capability snapshot for the `capabilities` subcommand.
func (c Capabilities) Format() string {
	var sb strings.Builder
	rows := []struct {
		label string
		ok    bool
	}{
		{"bpf_syscall", c.BPFSyscall},
		{"btf_vmlinux", c.BTFVmlinux},
		{"bpffs", c.BPFFS},
		{"kprobe_events", c.KprobeEvents},
		{"tracing (CONFIG_TRACING)", c.Tracepoints},
		{"perf_events", c.PerfEvents},
		{"debug_info_btf", c.DebugInfoBTF},
	}
	for _, r := range rows {
		mark := "no"
		if r.ok {
			mark = "yes"
		}
		fmt.Fprintf(&sb, "  %-28s %s\n", r.label, mark)
	}
	return sb.String()
}

func readKernelVersion() string {
	data, err := os.ReadFile("/proc/version")
	if err != nil {
		return ""
	}
	fields := strings.Fields(string(data))
	if len(fields) >= 3 {
		return fields[2]
	}
	return ""
}

func parseKernelVersion(version string) (int, int) {
	parts := strings.SplitN(version, ".", 3)
	if len(parts) < 2 {
		return 0, 0
	}
	major, _ := strconv.Atoi(parts[0])
	minorStr := parts[1]
	if idx := strings.IndexAny(minorStr, "-+~"); idx >= 0 {
		minorStr = minorStr[:idx]
	}
	minor, _ := strconv.Atoi(minorStr)
	return major, minor
}

func readKConfig() map[string]bool {
	configs := make(map[string]bool)
	paths := []string{
		fmt.Sprintf("/boot/config-%s", readKernelRelease()),
		"/proc/config.gz",
	}
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if strings.HasPrefix(line, "#") || line == "" {
				continue
			}
			if idx := strings.Index(line, "="); idx >= 0 {
				key := line[:idx]
				val := line[idx+1:]
				configs[key] = val == "y" || val == "m"
			}
		}
		break
	}
	return configs
}

func readKernelRelease() string {
	data, err := os.ReadFile("/proc/sys/kernel/osrelease")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
