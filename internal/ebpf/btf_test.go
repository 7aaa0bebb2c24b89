package ebpf

import "testing"

func TestParseKernelVersion(t *testing.T) {
	tests := []struct {
		input     string
		wantMajor int
		wantMinor int
	}{
		{"6.1.0-generic", 6, 1},
		{"5.15.0-91-generic", 5, 15},
		{"5.8.0", 5, 8},
		{"4.15.0-213-generic", 4, 15},
		{"6.6.9+rpt-rpi-v8", 6, 6},
		{"", 0, 0},
		{"bad", 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			major, minor := parseKernelVersion(tt.input)
			if major != tt.wantMajor || minor != tt.wantMinor {
				t.Errorf("parseKernelVersion(%q) = (%d, %d), want (%d, %d)",
					tt.input, major, minor, tt.wantMajor, tt.wantMinor)
			}
		})
	}
}

func TestDetectBTF(t *testing.T) {
	info := DetectBTF()
	if info == nil {
		t.Fatal("DetectBTF returned nil")
	}
	t.Logf("BTF available: %v, kernel: %s, CO-RE: %v, ready: %v",
		info.Available, info.KernelVersion, info.CORESupport, info.Ready())
}

func TestBTFInfoReady(t *testing.T) {
	tests := []struct {
		name string
		info BTFInfo
		want bool
	}{
		{"both present", BTFInfo{Available: true, CORESupport: true}, true},
		{"no btf", BTFInfo{Available: false, CORESupport: true}, false},
		{"no core", BTFInfo{Available: true, CORESupport: false}, false},
		{"neither", BTFInfo{}, false},
	}
	for _, tt := range tests {
		if got := tt.info.Ready(); got != tt.want {
			t.Errorf("%s: Ready() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestDetectCapabilities(t *testing.T) {
	caps := DetectCapabilities()
	out := caps.Format()
	if out == "" {
		t.Error("Format() returned empty output")
	}
	if !containsString(out, "bpf_syscall") {
		t.Error("Format() missing bpf_syscall row")
	}
}

func containsString(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
