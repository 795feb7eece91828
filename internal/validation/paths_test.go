package validation

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestValidateFilename(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		wantErr  bool
	}{
		{"file id", "abcd1234", false},
		{"with extension", "movie.mkv", false},
		{"double dots inside", "data..v2.csv", false},
		{"unicode", "résumé.pdf", false},
		{"spaces", "my file.txt", false},
		{"empty", "", true},
		{"dot", ".", true},
		{"dotdot", "..", true},
		{"unix separator", "a/b", true},
		{"windows separator", `a\b`, true},
		{"traversal", "../etc/passwd", true},
		{"null byte", "abc\x00def", true},
		{"newline", "abc\ndef", true},
		{"delete char", "abc\x7f", true},
		{"too long", strings.Repeat("a", 256), true},
		{"max length", strings.Repeat("a", 255), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFilename(tt.filename)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateFilename(%q) error = %v, wantErr %v", tt.filename, err, tt.wantErr)
			}
		})
	}
}

func TestOutputPath(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name     string
		dir      string
		file     string
		fallback string
		want     string
		wantErr  bool
	}{
		{"explicit name", dir, "video.mp4", "abcd1234", filepath.Join(dir, "video.mp4"), false},
		{"fallback to id", dir, "", "abcd1234", filepath.Join(dir, "abcd1234"), false},
		{"empty dir", "", "", "abcd1234", "abcd1234", false},
		{"traversal name", dir, "../escape", "abcd1234", "", true},
		{"empty fallback", dir, "", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := OutputPath(tt.dir, tt.file, tt.fallback)
			if (err != nil) != tt.wantErr {
				t.Fatalf("OutputPath() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("OutputPath() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidatePathInDirectory(t *testing.T) {
	base := t.TempDir()

	tests := []struct {
		name    string
		path    string
		baseDir string
		wantErr bool
	}{
		{"child absolute", filepath.Join(base, "abcd1234"), base, false},
		{"child relative", "abcd1234", base, false},
		{"nested", filepath.Join("sub", "file"), base, false},
		{"base itself", base, base, false},
		{"parent", "..", base, true},
		{"escape relative", filepath.Join("..", "..", "etc", "passwd"), base, true},
		{"escape absolute", filepath.Dir(base), base, true},
		{"sneaky clean", filepath.Join("sub", "..", "..", "x"), base, true},
		{"empty path", "", base, true},
		{"empty base", "x", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathInDirectory(tt.path, tt.baseDir)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePathInDirectory(%q, %q) error = %v, wantErr %v", tt.path, tt.baseDir, err, tt.wantErr)
			}
		})
	}
}
