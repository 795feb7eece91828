package transfer

import (
	"context"

	ihttp "github.com/rescale/megadl/internal/http"
	"github.com/rescale/megadl/internal/logging"
)

// Download runs link to completion, rebuilding the session from scratch
// after failures that a fresh attempt may fix (network errors, expired
// URLs, temporary API codes). Each attempt reopens the sink through
// opts.Sink, so openers must truncate or recreate their output.
//
// retry.MaxRetries counts attempts; values below 1 mean a single attempt.
// The returned session is the last one run, or nil if the link was rejected.
func Download(ctx context.Context, link string, opts Options, retry ihttp.Config) (*Session, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	var last *Session
	onRetry := retry.OnRetry
	retry.OnRetry = func(attempt int, err error, errType ihttp.ErrorType) {
		var id string
		if last != nil {
			id = string(last.FileID())
		}
		logger.Warn().Str("file_id", id).Int("attempt", attempt).
			Stringer("class", errType).Err(err).Msg("restarting download")
		opts.Events.PublishRetry(id, attempt, err)
		if onRetry != nil {
			onRetry(attempt, err, errType)
		}
	}

	err := ihttp.ExecuteWithRetry(ctx, retry, func() error {
		s, err := NewSession(link, opts)
		if err != nil {
			return err
		}
		last = s
		return s.Run(ctx)
	})
	return last, err
}
