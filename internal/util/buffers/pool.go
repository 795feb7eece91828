// Package buffers pools the read buffers used while streaming downloads.
package buffers

import (
	"sync"
	"sync/atomic"

	"github.com/rescale/megadl/internal/constants"
)

var (
	allocations atomic.Int64 // buffers created by the pool
	gets        atomic.Int64 // GetStreamBuffer calls
)

var streamPool = &sync.Pool{
	New: func() interface{} {
		allocations.Add(1)
		buf := make([]byte, constants.StreamChunkSize)
		return &buf
	},
}

// GetStreamBuffer retrieves a StreamChunkSize buffer from the pool.
// Ciphertext is read into it and decrypted in place, so the buffer
// must be returned with PutStreamBuffer once the plaintext is written.
//
// Usage:
//
//	buf := buffers.GetStreamBuffer()
//	defer buffers.PutStreamBuffer(buf)
//	n, err := body.Read(*buf)
//	// Use (*buf)[:n] for actual data
func GetStreamBuffer() *[]byte {
	gets.Add(1)
	return streamPool.Get().(*[]byte)
}

// PutStreamBuffer returns a buffer to the pool.
// Only buffers of the pooled size are kept. The buffer is cleared first
// so decrypted content does not outlive the session that produced it.
func PutStreamBuffer(buf *[]byte) {
	if buf != nil && len(*buf) == constants.StreamChunkSize {
		clear(*buf)
		streamPool.Put(buf)
	}
}

// Stats reports buffer pool usage.
type Stats struct {
	BufferSize  int   // size of pooled buffers (bytes)
	Allocations int64 // buffers created
	Gets        int64 // buffers handed out
}

// GetStats returns current buffer pool statistics.
func GetStats() Stats {
	return Stats{
		BufferSize:  constants.StreamChunkSize,
		Allocations: allocations.Load(),
		Gets:        gets.Load(),
	}
}

// ReuseRate returns the fraction of Get calls served without allocating.
func (s Stats) ReuseRate() float64 {
	if s.Gets == 0 {
		return 0
	}
	reused := s.Gets - s.Allocations
	if reused < 0 {
		reused = 0
	}
	return float64(reused) / float64(s.Gets)
}
