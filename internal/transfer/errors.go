package transfer

import (
	"errors"
	"fmt"

	"github.com/rescale/megadl/internal/api"
	encryption "github.com/rescale/megadl/internal/crypto"
	ihttp "github.com/rescale/megadl/internal/http"
	"github.com/rescale/megadl/internal/megalink"
)

// Error kinds. Every error returned by a Session is a *PhaseError whose
// chain matches exactly one of these with errors.Is.
var (
	ErrLinkFormat = megalink.ErrLinkFormat
	ErrKeyDecode  = encryption.ErrKeyDecode
	ErrAPI        = api.ErrAPI
	ErrTransport  = errors.New("transport error")
	ErrSink       = errors.New("sink error")
	ErrCancelled  = errors.New("download cancelled")
)

// ErrSessionUsed is returned when Run is called on a session that already left Unresolved.
var ErrSessionUsed = errors.New("session already started; create a new session to retry")

// Phase names the pipeline step an error came from.
type Phase string

const (
	PhaseParse    Phase = "parse"
	PhaseDerive   Phase = "derive"
	PhaseMetadata Phase = "metadata"
	PhaseStream   Phase = "stream"
	PhaseSink     Phase = "sink"
)

// PhaseError attaches the failing phase and file id to an error.
type PhaseError struct {
	Phase  Phase
	FileID megalink.FileID // empty when parsing failed
	Err    error
}

func (e *PhaseError) Error() string {
	if e.FileID == "" {
		return fmt.Sprintf("%s: %v", e.Phase, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.FileID, e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}

// RetryClass tells a restart loop whether running a fresh session may help.
// Parse, derive, sink and cancellation failures never do.
func (e *PhaseError) RetryClass() ihttp.ErrorType {
	if errors.Is(e.Err, ErrCancelled) {
		return ihttp.ErrorTypeFatal
	}

	switch e.Phase {
	case PhaseMetadata:
		if errors.Is(e.Err, ErrTransport) {
			return ihttp.ErrorTypeNetwork
		}
		return ihttp.ClassifyError(e.Err)
	case PhaseStream:
		var se *StatusError
		if errors.As(e.Err, &se) {
			return se.RetryClass()
		}
		return ihttp.ErrorTypeNetwork
	default:
		return ihttp.ErrorTypeFatal
	}
}
