// Package transfer runs Mega downloads: one Session per file takes a share
// link through metadata resolution and streaming decryption into a sink.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	encryption "github.com/rescale/megadl/internal/crypto"
	"github.com/rescale/megadl/internal/events"
	"github.com/rescale/megadl/internal/logging"
	"github.com/rescale/megadl/internal/megalink"
	"github.com/rescale/megadl/internal/util/buffers"
)

// State is the lifecycle position of a Session.
type State int

const (
	StateUnresolved State = iota
	StateMetadataFetched
	StateStreaming
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnresolved:
		return "unresolved"
	case StateMetadataFetched:
		return "metadata_fetched"
	case StateStreaming:
		return "streaming"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateFailed
}

// ProgressFunc receives the plaintext byte count written so far and the
// declared total after every chunk. Returning false cancels the download.
type ProgressFunc func(done, total int64) bool

// SinkOpener creates the output once the declared size is known. The
// caller keeps ownership of whatever it opens and closes it after Run.
// Errors fail the session in the sink phase.
type SinkOpener func(id megalink.FileID, size int64) (io.Writer, error)

// WriterSink returns a SinkOpener that always hands out w.
func WriterSink(w io.Writer) SinkOpener {
	return func(megalink.FileID, int64) (io.Writer, error) { return w, nil }
}

// Options wires a Session to its collaborators.
type Options struct {
	Fetcher  MetadataFetcher // required
	Source   Source          // required
	Sink     SinkOpener      // required
	Progress ProgressFunc    // optional
	Events   *events.EventBus
	Logger   *logging.Logger
}

// Session is a single download attempt. It owns its cipher state and can
// be run once; after a failure build a new Session to start over.
type Session struct {
	id        megalink.FileID
	legacy    bool
	cipherCtx *encryption.CipherContext
	opts      Options
	logger    *logging.Logger

	mu      sync.Mutex
	state   State
	started bool
	url     string
	size    int64
	written int64
	err     error
}

// NewSession parses link and derives its cipher context. Errors are
// *PhaseError values matching ErrLinkFormat or ErrKeyDecode; nothing
// touches the network before Run.
func NewSession(link string, opts Options) (*Session, error) {
	if opts.Fetcher == nil || opts.Source == nil || opts.Sink == nil {
		return nil, fmt.Errorf("transfer: Fetcher, Source and Sink are required")
	}

	parsed, err := megalink.ParseLink(link)
	if err != nil {
		return nil, &PhaseError{Phase: PhaseParse, Err: err}
	}

	cipherCtx, err := encryption.DeriveCipherContext(parsed.Key)
	if err != nil {
		return nil, &PhaseError{Phase: PhaseDerive, FileID: parsed.ID, Err: err}
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	return &Session{
		id:        parsed.ID,
		legacy:    parsed.Legacy,
		cipherCtx: cipherCtx,
		opts:      opts,
		logger:    logger.WithFileID(string(parsed.ID)),
	}, nil
}

// FileID returns the Mega file id of the link.
func (s *Session) FileID() megalink.FileID { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Size returns the declared size, valid once metadata is fetched.
func (s *Session) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// BytesWritten returns the plaintext bytes accepted by the sink.
func (s *Session) BytesWritten() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

// Err returns the failure that ended the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Run resolves the download URL, then streams and decrypts the body into
// the sink. Chunks are decrypted and written strictly in receive order.
//
// There is no retry and no resume. A session that already left
// Unresolved returns ErrSessionUsed. Cancelling ctx or returning false
// from the progress hook stops the transfer with ErrCancelled; output
// already written is left as-is.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrSessionUsed
	}
	s.started = true
	s.mu.Unlock()

	s.logger.Debug().Bool("legacy_link", s.legacy).Msg("resolving download url")

	if ctx.Err() != nil {
		return s.fail(PhaseMetadata, cancelled(ctx.Err()))
	}

	info, err := s.opts.Fetcher.GetDownloadInfo(ctx, s.id)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return s.fail(PhaseMetadata, cancelled(ctx.Err()))
		case errors.Is(err, ErrAPI):
			return s.fail(PhaseMetadata, err)
		default:
			return s.fail(PhaseMetadata, fmt.Errorf("%w: %w", ErrTransport, err))
		}
	}

	s.mu.Lock()
	s.url = info.URL
	s.size = info.Size
	s.mu.Unlock()
	s.transition(StateMetadataFetched, nil)
	s.logger.Debug().Int64("size", info.Size).Msg("metadata fetched")

	sink, err := s.opts.Sink(s.id, info.Size)
	if err != nil {
		return s.fail(PhaseSink, fmt.Errorf("%w: %w", ErrSink, err))
	}

	// Fresh keystream per session; never shared or rewound.
	decryptor, err := encryption.NewCTRStreamDecryptor(s.cipherCtx)
	if err != nil {
		return s.fail(PhaseStream, err)
	}

	body, err := s.opts.Source.Open(ctx, info.URL)
	if err != nil {
		if ctx.Err() != nil {
			return s.fail(PhaseStream, cancelled(ctx.Err()))
		}
		return s.fail(PhaseStream, fmt.Errorf("%w: %w", ErrTransport, err))
	}
	defer body.Close()

	s.transition(StateStreaming, nil)
	if err := s.stream(ctx, body, decryptor, sink, info.Size); err != nil {
		return err
	}

	written := s.BytesWritten()
	if written != info.Size {
		// No integrity check: the file is accepted as received.
		s.logger.Warn().Int64("written", written).Int64("declared", info.Size).
			Msg("download size differs from declared size")
	}
	s.transition(StateComplete, nil)
	return nil
}

// stream copies body to sink through the decryptor, one pooled buffer at a time.
func (s *Session) stream(ctx context.Context, body io.Reader, dec *encryption.CTRStreamDecryptor, sink io.Writer, total int64) error {
	buf := buffers.GetStreamBuffer()
	defer buffers.PutStreamBuffer(buf)

	var done int64
	for {
		n, readErr := body.Read(*buf)
		if n > 0 {
			if ctx.Err() != nil {
				return s.fail(PhaseStream, cancelled(ctx.Err()))
			}

			chunk := (*buf)[:n]
			dec.XORKeyStream(chunk, chunk)

			w, err := sink.Write(chunk)
			if err == nil && w < n {
				err = io.ErrShortWrite
			}
			done += int64(w)
			s.mu.Lock()
			s.written = done
			s.mu.Unlock()
			if err != nil {
				return s.fail(PhaseSink, fmt.Errorf("%w: %w", ErrSink, err))
			}

			s.opts.Events.PublishProgress(string(s.id), done, total)
			if s.opts.Progress != nil && !s.opts.Progress(done, total) {
				return s.fail(PhaseStream, ErrCancelled)
			}
		}

		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return s.fail(PhaseStream, cancelled(ctx.Err()))
			}
			return s.fail(PhaseStream, fmt.Errorf("%w: %w", ErrTransport, readErr))
		}
	}
}

func (s *Session) transition(to State, err error) {
	s.mu.Lock()
	from := s.state
	s.state = to
	if err != nil {
		s.err = err
	}
	s.mu.Unlock()

	s.opts.Events.PublishStateChange(string(s.id), from.String(), to.String(), err)
}

func (s *Session) fail(phase Phase, err error) error {
	pe := &PhaseError{Phase: phase, FileID: s.id, Err: err}
	s.transition(StateFailed, pe)
	s.logger.Debug().Str("phase", string(phase)).Err(err).Msg("session failed")
	return pe
}

func cancelled(cause error) error {
	return fmt.Errorf("%w: %w", ErrCancelled, cause)
}
