// Package sink provides the destinations decrypted downloads are written to.
//
// A Sink receives plaintext sequentially. Close commits the output;
// Abort stops writing after a failed or cancelled download. Local files
// keep whatever was written before Abort, remote objects are never created.
package sink

import (
	"errors"
	"io"
)

// ErrAborted is reported by remote uploads stopped through Abort.
var ErrAborted = errors.New("sink aborted")

// Sink is an append-only output for one download.
type Sink interface {
	io.Writer
	// Close flushes and commits the output.
	Close() error
	// Abort releases the sink without committing it. It is safe to call after Close.
	Abort() error
	// Location describes where the output lives (path, s3:// or https:// URL).
	Location() string
}
