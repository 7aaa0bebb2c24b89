package event

import "testing"

func TestAlignUp4K(t *testing.T) {
	tests := []struct {
		in, want int64
	}{
		{0, 0},
		{1, 4096},
		{4096, 4096},
		{4097, 8192},
		{10 * 1024 * 1024, 10*1024*1024 + 0}, // already page-aligned
		{-5, 0},
	}
	for _, tt := range tests {
		if got := AlignUp4K(tt.in); got != tt.want {
			t.Errorf("AlignUp4K(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestEffectiveBytes(t *testing.T) {
	e := Event{Size: 100, AlignedSize: 4096}
	if got := e.EffectiveBytes(); got != 4096 {
		t.Errorf("EffectiveBytes() = %d, want 4096 (aligned preferred)", got)
	}

	e2 := Event{Size: 100, AlignedSize: 0}
	if got := e2.EffectiveBytes(); got != 100 {
		t.Errorf("EffectiveBytes() = %d, want 100 (falls back to size)", got)
	}
}

func TestNewRequestID(t *testing.T) {
	id := NewRequestID(1234, 0x1_0000_0005)
	wantLow := uint32(5)
	if uint32(id) != wantLow {
		t.Errorf("low 32 bits = %d, want %d", uint32(id), wantLow)
	}
	if uint32(id>>32) != 1234 {
		t.Errorf("high 32 bits = %d, want 1234", uint32(id>>32))
	}
}

func TestTruncate(t *testing.T) {
	e := Event{
		Comm: "a-very-long-command-name-indeed",
		Path: string(make([]byte, MaxPathLen+50)),
	}
	e.Truncate()
	if len(e.Comm) != MaxCommLen {
		t.Errorf("Comm len = %d, want %d", len(e.Comm), MaxCommLen)
	}
	if len(e.Path) != MaxPathLen {
		t.Errorf("Path len = %d, want %d", len(e.Path), MaxPathLen)
	}
}

func TestLayerAndKindStrings(t *testing.T) {
	if LayerDevice.String() != "device" {
		t.Errorf("LayerDevice.String() = %q", LayerDevice.String())
	}
	if LayerUnknown.String() != "unknown" {
		t.Errorf("LayerUnknown.String() = %q", LayerUnknown.String())
	}
	if KindDevBioComplete.String() != "dev_bio_complete" {
		t.Errorf("KindDevBioComplete.String() = %q", KindDevBioComplete.String())
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	original := Event{
		TimestampNS:     123456789,
		PID:             42,
		TID:             43,
		Layer:           LayerDevice,
		Kind:            KindDevBioSubmit,
		System:          1,
		Size:            4096,
		AlignedSize:     4096,
		Offset:          8192,
		LatencyNS:       0,
		DevMajor:        8,
		DevMinor:        1,
		ReturnValue:     0,
		Inode:           0,
		RequestID:       0xdeadbeef,
		ParentRequestID: 0,
		BranchID:        0,
		BranchCount:     1,
		Comm:            "minio",
		Path:            "",
		Flags:           Flags{IsJournal: true},
	}

	wire := Encode(original)
	decoded, err := Decode(wire)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if decoded.RequestID != original.RequestID {
		t.Errorf("RequestID = %x, want %x", decoded.RequestID, original.RequestID)
	}
	if decoded.Comm != original.Comm {
		t.Errorf("Comm = %q, want %q", decoded.Comm, original.Comm)
	}
	if decoded.Flags.IsJournal != true {
		t.Error("IsJournal flag lost in round trip")
	}
	if decoded.Layer != LayerDevice || decoded.Kind != KindDevBioSubmit {
		t.Errorf("Layer/Kind = %v/%v, want device/dev_bio_submit", decoded.Layer, decoded.Kind)
	}
}

func TestDecodeTruncatedSample(t *testing.T) {
	if _, err := Decode([]byte{1, 2, 3}); err == nil {
		t.Error("expected error decoding a too-short sample")
	}
}
