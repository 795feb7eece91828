package sink

import (
	"io"
	"sync"
)

// pipeUpload adapts a streaming upload call to the Sink write side.
// The upload reads from the pipe in its own goroutine until Close or Abort.
type pipeUpload struct {
	pw   *io.PipeWriter
	done chan struct{}
	err  error

	once sync.Once
}

func startPipeUpload(upload func(r io.Reader) error) *pipeUpload {
	pr, pw := io.Pipe()
	u := &pipeUpload{pw: pw, done: make(chan struct{})}
	go func() {
		defer close(u.done)
		u.err = upload(pr)
		// Unblock writers if the upload returned before draining the pipe.
		pr.CloseWithError(u.err)
	}()
	return u
}

func (u *pipeUpload) Write(p []byte) (int, error) {
	return u.pw.Write(p)
}

// finish closes the write side (with cause when aborting) and waits for the upload.
func (u *pipeUpload) finish(cause error) error {
	u.once.Do(func() {
		if cause != nil {
			u.pw.CloseWithError(cause)
		} else {
			u.pw.Close()
		}
	})
	<-u.done
	return u.err
}
