package ebpf

import "testing"

func TestNewLoaderCanLoad(t *testing.T) {
	loader := NewLoader("/tmp/probes", "", false)
	// On a kernel without CO-RE this is simply false; the point is it
	// never panics and reflects DetectBTF().
	if loader.CanLoad() != loader.btfInfo.Ready() {
		t.Error("CanLoad() must mirror btfInfo.Ready()")
	}
}

func TestNativeProgramsCoverAllLayers(t *testing.T) {
	wantCategories := map[string]bool{
		"application": false,
		"os":          false,
		"filesystem":  false,
		"device":      false,
		"lifecycle":   false,
	}
	for _, p := range NativePrograms {
		if p.Name == "" {
			t.Error("program missing name")
		}
		if p.ObjectFile == "" {
			t.Errorf("program %s missing object file", p.Name)
		}
		if p.AttachTo == "" {
			t.Errorf("program %s missing attach target", p.Name)
		}
		if _, ok := wantCategories[p.Category]; !ok {
			t.Errorf("program %s has unexpected category %q", p.Name, p.Category)
		}
		wantCategories[p.Category] = true
	}
	for cat, seen := range wantCategories {
		if !seen {
			t.Errorf("no program registered for category %q", cat)
		}
	}
}

func TestProgramsByCategory(t *testing.T) {
	device := ProgramsByCategory("device")
	if len(device) != 2 {
		t.Fatalf("expected 2 device programs, got %d", len(device))
	}
	for _, p := range device {
		if p.Category != "device" {
			t.Errorf("ProgramsByCategory(\"device\") returned category %q", p.Category)
		}
	}

	none := ProgramsByCategory("nonexistent")
	if len(none) != 0 {
		t.Errorf("expected no programs for unknown category, got %d", len(none))
	}
}

func TestLoadErrorUnwrap(t *testing.T) {
	inner := &LoadError{Program: "x"}
	if inner.Unwrap() != nil {
		t.Error("Unwrap() of a LoadError with nil Err must be nil")
	}
}
