package decode

import (
	"context"
	"testing"
)

func TestSuffixClassification(t *testing.T) {
	tests := []struct {
		suffix string
		raw    bool
		tifPng bool
	}{
		{"ARW", true, false},
		{"arw", true, false},
		{"NEF", true, false},
		{"CR3", true, false},
		{"dng", true, false},
		{"TIFF", false, true},
		{"tif", false, true},
		{"png", false, true},
		{"jpg", false, false},
		{"", false, false},
	}

	for _, tt := range tests {
		if got := IsRawSuffix(tt.suffix); got != tt.raw {
			t.Errorf("IsRawSuffix(%q) = %v, want %v", tt.suffix, got, tt.raw)
		}
		if got := IsTifPngSuffix(tt.suffix); got != tt.tifPng {
			t.Errorf("IsTifPngSuffix(%q) = %v, want %v", tt.suffix, got, tt.tifPng)
		}
		if got := Supported(tt.suffix); got != (tt.raw || tt.tifPng) {
			t.Errorf("Supported(%q) = %v, want %v", tt.suffix, got, tt.raw || tt.tifPng)
		}
	}
}

func TestDcrawArgs(t *testing.T) {
	has := func(args []string, flag string) bool {
		for _, a := range args {
			if a == flag {
				return true
			}
		}
		return false
	}

	det := dcrawArgs(ForDetection)
	if !has(det, "-c") || !has(det, "-a") || has(det, "-W") {
		t.Errorf("detection args = %v; want stdout + auto WB, no fixed brightness", det)
	}

	smp := dcrawArgs(ForSampling)
	if !has(smp, "-c") || !has(smp, "-W") || has(smp, "-a") {
		t.Errorf("sampling args = %v; want stdout + fixed brightness, no auto WB", smp)
	}
}

func TestFileUnsupportedFormat(t *testing.T) {
	if _, err := File(context.Background(), "/nonexistent/photo.jpg", ForDetection); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}
