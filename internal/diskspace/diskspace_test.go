package diskspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func withFreeSpace(t *testing.T, free int64, known bool) {
	t.Helper()
	orig := statFree
	statFree = func(string) (int64, bool) { return free, known }
	t.Cleanup(func() { statFree = orig })
}

func TestCheckAvailableSpace(t *testing.T) {
	tests := []struct {
		name    string
		free    int64
		known   bool
		size    int64
		margin  float64
		wantErr bool
	}{
		{name: "fits", free: 1 << 20, known: true, size: 1000, margin: 1.15},
		{name: "fits only without margin", free: 1100, known: true, size: 1000, margin: 1.15, wantErr: true},
		{name: "exact fit with margin", free: 1150, known: true, size: 1000, margin: 1.15},
		{name: "margin below one", free: 1000, known: true, size: 1000, margin: 0.5},
		{name: "empty file", free: 0, known: true, size: 0, margin: 1.15},
		{name: "unknown free space", known: false, size: 1 << 50, margin: 1.15},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withFreeSpace(t, tt.free, tt.known)
			err := CheckAvailableSpace("/out/abcd1234", tt.size, tt.margin)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CheckAvailableSpace() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !IsInsufficientSpaceError(err) {
				t.Errorf("expected *InsufficientSpaceError, got %T", err)
			}
		})
	}
}

func TestCheckAvailableSpace_ErrorFields(t *testing.T) {
	withFreeSpace(t, 500, true)

	err := CheckAvailableSpace("/out/abcd1234", 1000, 1.15)
	e, ok := err.(*InsufficientSpaceError)
	if !ok {
		t.Fatalf("expected *InsufficientSpaceError, got %v", err)
	}
	if e.Path != "/out/abcd1234" || e.RequiredBytes != 1150 || e.AvailableBytes != 500 {
		t.Errorf("unexpected fields: %+v", e)
	}
	if e.Shortfall() != 650 {
		t.Errorf("Shortfall() = %d, want 650", e.Shortfall())
	}
}

func TestRequired(t *testing.T) {
	if got := Required(1000, 1.15); got != 1150 {
		t.Errorf("Required(1000, 1.15) = %d", got)
	}
	if got := Required(1000, 0); got != 1000 {
		t.Errorf("Required(1000, 0) = %d", got)
	}
}

func TestIsInsufficientSpaceError(t *testing.T) {
	err := &InsufficientSpaceError{Path: "/out/abcd1234", RequiredBytes: 1000, AvailableBytes: 500}

	if !IsInsufficientSpaceError(err) {
		t.Error("bare error not recognised")
	}
	if !IsInsufficientSpaceError(fmt.Errorf("sink: %w", err)) {
		t.Error("wrapped error not recognised")
	}
	if IsInsufficientSpaceError(fmt.Errorf("other")) || IsInsufficientSpaceError(nil) {
		t.Error("unrelated errors should not match")
	}
}

func TestInsufficientSpaceError_Message(t *testing.T) {
	err := &InsufficientSpaceError{
		Path:           "/out/abcd1234",
		RequiredBytes:  100 << 20,
		AvailableBytes: 3 << 30,
	}
	msg := err.Error()
	for _, want := range []string{"/out/abcd1234", "100.00 MiB", "3.00 GiB"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q missing %q", msg, want)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	tests := map[int64]string{
		0:         "0 B",
		1023:      "1023 B",
		1024:      "1.00 KiB",
		1536:      "1.50 KiB",
		5 << 20:   "5.00 MiB",
		7 << 40:   "7.00 TiB",
		1<<60 + 1: "1024.00 PiB",
	}
	for n, want := range tests {
		if got := formatBytes(n); got != want {
			t.Errorf("formatBytes(%d) = %q, want %q", n, got, want)
		}
	}
}

func TestGetAvailableSpace_RealVolume(t *testing.T) {
	if GetAvailableSpace(filepath.Join(os.TempDir(), "abcd1234")) == 0 {
		t.Error("expected non-zero free space for the temp dir")
	}
	missing := filepath.Join(t.TempDir(), "does", "not", "exist", "abcd1234")
	if GetAvailableSpace(missing) != 0 {
		t.Error("expected 0 for a missing directory")
	}
	if err := CheckAvailableSpace(missing, 1<<62, 1.15); err != nil {
		t.Errorf("unknown free space should not fail the check, got %v", err)
	}
}
