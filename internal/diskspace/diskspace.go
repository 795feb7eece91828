// Package diskspace checks free space before a download is written locally.
package diskspace

import (
	"errors"
	"fmt"
	"path/filepath"
)

// statFree is swapped out in tests.
var statFree = availableSpace

// InsufficientSpaceError reports that the output volume cannot hold the file.
type InsufficientSpaceError struct {
	Path           string
	RequiredBytes  int64
	AvailableBytes int64
}

func (e *InsufficientSpaceError) Error() string {
	return fmt.Sprintf("insufficient disk space for %s: need %s, have %s",
		e.Path, formatBytes(e.RequiredBytes), formatBytes(e.AvailableBytes))
}

// Shortfall is how many more bytes the volume would need.
func (e *InsufficientSpaceError) Shortfall() int64 {
	return e.RequiredBytes - e.AvailableBytes
}

// Required returns size grown by the safety margin (1.15 adds 15%).
// Margins below 1 are treated as 1.
func Required(size int64, safetyMargin float64) int64 {
	if safetyMargin < 1 {
		safetyMargin = 1
	}
	return int64(float64(size) * safetyMargin)
}

// CheckAvailableSpace fails with *InsufficientSpaceError when the volume
// that will hold targetPath has less than Required(size, safetyMargin)
// bytes free. targetPath need not exist.
//
// When free space cannot be determined (missing directory, network or
// virtual filesystems) the check passes and the write is left to fail.
func CheckAvailableSpace(targetPath string, size int64, safetyMargin float64) error {
	available, ok := statFree(filepath.Dir(targetPath))
	if !ok {
		return nil
	}

	required := Required(size, safetyMargin)
	if available < required {
		return &InsufficientSpaceError{
			Path:           targetPath,
			RequiredBytes:  required,
			AvailableBytes: available,
		}
	}
	return nil
}

// GetAvailableSpace returns the free bytes on the volume holding path,
// or 0 if unknown.
func GetAvailableSpace(path string) int64 {
	available, ok := statFree(filepath.Dir(path))
	if !ok {
		return 0
	}
	return available
}

// IsInsufficientSpaceError reports whether err wraps an InsufficientSpaceError.
func IsInsufficientSpaceError(err error) bool {
	var e *InsufficientSpaceError
	return errors.As(err, &e)
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit && exp < 4; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %ciB", float64(n)/float64(div), "KMGTP"[exp])
}
