package classify

import (
	"testing"

	"github.com/shuwens/reverb-eBPF/internal/config"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		comm string
		want SystemTag
	}{
		{"", Unknown},
		{"minio", Minio},
		{"minio-server", Minio},
		{"MinIO", Minio},
		{"ceph-osd", Ceph},
		{"etcd", Etcd},
		{"postgres", Postgres},
		{"glusterfsd", Gluster},
		{"bash", Application},
		{"reverb", Application},
	}
	for _, tt := range tests {
		if got := Classify(tt.comm); got != tt.want {
			t.Errorf("Classify(%q) = %v, want %v", tt.comm, got, tt.want)
		}
	}
}

func TestSystemTagString(t *testing.T) {
	if Minio.String() != "minio" {
		t.Errorf("Minio.String() = %q", Minio.String())
	}
	if Unknown.String() != "unknown" {
		t.Errorf("Unknown.String() = %q", Unknown.String())
	}
}

func TestIsTargetSelfExclusion(t *testing.T) {
	cfg := config.Default()
	cfg.TraceMode = config.TraceAll

	if IsTarget(&cfg, SelfComm, 1) {
		t.Error("IsTarget must refuse the tracer's own comm under every trace mode")
	}

	cfg.TraceMode = config.TraceByName
	cfg.TargetComm = SelfComm
	if IsTarget(&cfg, SelfComm, 1) {
		t.Error("IsTarget must refuse the tracer's own comm even when it matches TargetComm")
	}
}

func TestIsTargetByName(t *testing.T) {
	cfg := config.Default()
	cfg.TraceMode = config.TraceByName
	cfg.TargetComm = "minio"

	if !IsTarget(&cfg, "minio-server", 100) {
		t.Error("expected minio-server to be a target")
	}
	if IsTarget(&cfg, "bash", 100) {
		t.Error("expected bash not to be a target")
	}
}

func TestIsTargetByPID(t *testing.T) {
	cfg := config.Default()
	cfg.TraceMode = config.TraceByPID
	cfg.TargetPIDs[123] = struct{}{}

	if !IsTarget(&cfg, "anything", 123) {
		t.Error("expected pid 123 to be a target")
	}
	if IsTarget(&cfg, "anything", 124) {
		t.Error("expected pid 124 not to be a target")
	}
}

func TestIsTargetOff(t *testing.T) {
	cfg := config.Default()
	if IsTarget(&cfg, "minio", 1) {
		t.Error("TraceOff must never produce a target")
	}
}

func TestContainsFold(t *testing.T) {
	if !containsFold("MinIO-Server", "minio") {
		t.Error("expected case-insensitive substring match")
	}
	if containsFold("short", "longer-than-short") {
		t.Error("substring longer than haystack must not match")
	}
	if containsFold("anything", "") {
		t.Error("empty substring must not match")
	}
}
