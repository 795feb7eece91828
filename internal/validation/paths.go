// Package validation checks user-supplied output names before files are created.
package validation

import (
	"fmt"
	"path/filepath"
	"strings"
)

// maxFilenameLength is the common per-component limit (ext4, NTFS, APFS).
const maxFilenameLength = 255

// ValidateFilename validates a bare output name given with --name or
// derived from a file id. It rejects empty names, "." and "..", path
// separators, NUL and other control characters, and names longer than
// 255 bytes, so the result can be joined to the output directory safely.
func ValidateFilename(filename string) error {
	if filename == "" {
		return fmt.Errorf("filename cannot be empty")
	}
	if len(filename) > maxFilenameLength {
		return fmt.Errorf("filename exceeds %d bytes: %.32s...", maxFilenameLength, filename)
	}
	if filename == "." || filename == ".." {
		return fmt.Errorf("filename cannot be %q", filename)
	}
	if strings.ContainsAny(filename, `/\`) {
		return fmt.Errorf("filename cannot contain path separators: %s", filename)
	}
	for _, r := range filename {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("filename contains control character %#x: %q", r, filename)
		}
	}
	return nil
}

// OutputPath joins a validated name to dir and checks the result stays inside dir.
// An empty name falls back to fallback, which callers set to the file id.
func OutputPath(dir, name, fallback string) (string, error) {
	if name == "" {
		name = fallback
	}
	if err := ValidateFilename(name); err != nil {
		return "", err
	}
	if dir == "" {
		dir = "."
	}

	path := filepath.Join(dir, name)
	if err := ValidatePathInDirectory(path, dir); err != nil {
		return "", err
	}
	return path, nil
}

// ValidatePathInDirectory validates that a path, when resolved, stays within baseDir.
//
// Example:
//
//	ValidatePathInDirectory("../../etc/passwd", "/srv/downloads") // error: escapes base dir
//	ValidatePathInDirectory("/srv/downloads/abcd1234", "/srv/downloads") // ok
func ValidatePathInDirectory(path string, baseDir string) error {
	if path == "" {
		return fmt.Errorf("path cannot be empty")
	}
	if baseDir == "" {
		return fmt.Errorf("base directory cannot be empty")
	}

	base, err := filepath.Abs(baseDir)
	if err != nil {
		return fmt.Errorf("failed to resolve base directory: %w", err)
	}

	resolved := filepath.Clean(path)
	if !filepath.IsAbs(resolved) {
		// Relative paths that already start with baseDir are taken as cwd-relative.
		if abs, err := filepath.Abs(resolved); err == nil && strings.HasPrefix(abs, base) {
			resolved = abs
		} else {
			resolved = filepath.Join(base, resolved)
		}
	}

	rel, err := filepath.Rel(base, resolved)
	if err != nil {
		return fmt.Errorf("failed to compute relative path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path escapes base directory: %s (base: %s)", path, baseDir)
	}
	return nil
}
