// Package fips reports whether the Go FIPS 140-3 module is active.
//
// AES-128-CTR is an approved mode, so downloads behave the same either
// way; the status is informational. Build with GOFIPS140=latest to enable.
package fips

import "crypto/fips140"

// Enabled reports whether FIPS 140-3 mode is active.
func Enabled() bool {
	return fips140.Enabled()
}

// Status returns a short tag for version output.
func Status() string {
	if Enabled() {
		return "[FIPS 140-3]"
	}
	return "[FIPS: disabled]"
}
