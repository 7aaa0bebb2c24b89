package classify

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DiscoverPIDs scans procRoot for processes whose comm matches targetComm
// and returns their pids. This backs the -A auto-discover target mode, which
// calls it once at startup; it is not re-run during a trace, so tasks started
// later are not added.
func DiscoverPIDs(procRoot, targetComm string) []int {
	entries, err := os.ReadDir(procRoot)
	if err != nil {
		return nil
	}

	var pids []int
	for _, entry := range entries {
		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		comm := readComm(procRoot, pid)
		if comm == "" || comm == SelfComm {
			continue
		}
		if containsFold(comm, targetComm) {
			pids = append(pids, pid)
		}
	}
	return pids
}

// readComm reads /proc/[pid]/comm, trimming the trailing newline. Returns
// "" if the process has already exited or the read otherwise fails, the
// same "pointer chase returns null" failure semantics probes use for
// kernel pointer chasing, applied here to procfs reads instead.
func readComm(procRoot string, pid int) string {
	data, err := os.ReadFile(filepath.Join(procRoot, strconv.Itoa(pid), "comm"))
	if err != nil {
		return ""
	}
	return strings.TrimRight(string(data), "\n")
}
