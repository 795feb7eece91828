package progress

import "io"

// ProgressUI tracks several concurrent downloads.
type ProgressUI interface {
	// AddFileBar registers a download before its size is known.
	AddFileBar(index int, fileID, destination string) FileBarHandle

	// Wait blocks until all bars have completed.
	Wait()

	// Writer returns an io.Writer that prints above the bars in terminal mode.
	Writer() io.Writer

	// IsTerminal returns true if bars are being rendered.
	IsTerminal() bool
}

// FileBarHandle is the progress view of one download.
type FileBarHandle interface {
	// Update records plaintext bytes written out of the declared total.
	Update(done, total int64)

	// SetRetry marks the bar as restarted from zero.
	SetRetry(count int)

	// Complete finishes the bar and prints a one-line summary.
	Complete(err error)
}

var (
	_ ProgressUI    = (*DownloadUI)(nil)
	_ FileBarHandle = (*DownloadFileBar)(nil)
)
