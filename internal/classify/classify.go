// Package classify implements the process classifier: a branch-predictable,
// allocation-free mapping from a task's short command name to a
// storage-system tag, plus the is-target decision used by every layer
// probe.
package classify

import "github.com/shuwens/reverb-eBPF/internal/config"

// SystemTag is the closed enumeration of storage systems the tracer
// recognizes.
type SystemTag int

const (
	Unknown SystemTag = iota
	Application
	Minio
	Ceph
	Etcd
	Postgres
	Gluster
)

func (t SystemTag) String() string {
	switch t {
	case Application:
		return "application"
	case Minio:
		return "minio"
	case Ceph:
		return "ceph"
	case Etcd:
		return "etcd"
	case Postgres:
		return "postgres"
	case Gluster:
		return "gluster"
	default:
		return "unknown"
	}
}

// knownSubstrings pairs each fixed comm substring with its tag. The order
// matters only in that the first match wins; the list is kept short so the
// scan over it stays branch-predictable.
var knownSubstrings = [...]struct {
	substr string
	tag    SystemTag
}{
	{"minio", Minio},
	{"ceph", Ceph},
	{"etcd", Etcd},
	{"postgres", Postgres},
	{"gluster", Gluster},
}

// SelfComm is the tracer's own short command name. The classifier must
// refuse this name as a target under every trace mode (DESIGN NOTES,
// "Self-feedback exclusion") to avoid the tracer inflating its own
// statistics by observing writes to its own output file.
const SelfComm = "reverb"

// Classify maps a task's comm to a system tag by scanning for a known
// substring. It never allocates: comm is compared against a fixed array of
// substrings in a plain loop (not unrolled) rather than a map lookup or
// regex.
func Classify(comm string) SystemTag {
	if comm == "" {
		return Unknown
	}
	for _, k := range knownSubstrings {
		if containsFold(comm, k.substr) {
			return k.tag
		}
	}
	return Application
}

// IsTarget decides whether a task with the given comm/pid should be traced
// under the installed configuration. The tracer's own comm is excluded
// unconditionally, regardless of trace mode.
func IsTarget(cfg *config.Config, comm string, pid int) bool {
	if comm == SelfComm {
		return false
	}

	switch cfg.TraceMode {
	case config.TraceOff:
		return false
	case config.TraceByName:
		return comm != "" && containsFold(comm, cfg.TargetComm) && comm != SelfComm
	case config.TraceByPID:
		_, ok := cfg.TargetPIDs[pid]
		return ok
	case config.TraceAll:
		return comm != ""
	default:
		return false
	}
}

// containsFold reports whether s contains substr, case-insensitively,
// without allocating (no strings.ToLower copy).
func containsFold(s, substr string) bool {
	if substr == "" {
		return false
	}
	n, m := len(s), len(substr)
	if m > n {
		return false
	}
	for i := 0; i+m <= n; i++ {
		if equalFold(s[i:i+m], substr) {
			return true
		}
	}
	return false
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
