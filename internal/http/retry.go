package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"strings"
	"syscall"
	"time"
)

// ErrorType is the retry class of an error.
type ErrorType int

const (
	ErrorTypeSuccess ErrorType = iota
	// ErrorTypeCredential: the storage node refused the signed URL (403, 509).
	// A fresh metadata call issues a new URL, so these retry after a short pause.
	ErrorTypeCredential
	// ErrorTypeNetwork: timeouts, resets, refused connections, truncated bodies.
	ErrorTypeNetwork
	// ErrorTypeRetryable: throttling and 5xx answers.
	ErrorTypeRetryable
	// ErrorTypeFatal: bad link, bad key, 404, cancellation, anything unknown.
	ErrorTypeFatal
)

func (t ErrorType) String() string {
	switch t {
	case ErrorTypeSuccess:
		return "success"
	case ErrorTypeCredential:
		return "credential"
	case ErrorTypeNetwork:
		return "network"
	case ErrorTypeRetryable:
		return "retryable"
	case ErrorTypeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Config holds retry parameters for ExecuteWithRetry.
type Config struct {
	// MaxRetries is the maximum number of attempts, counting the first.
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// CredentialDelay is the pause before retrying a credential error (default 1s).
	CredentialDelay time.Duration
	// OnRetry, when set, runs before each retry with the 1-based retry number.
	OnRetry func(attempt int, err error, errorType ErrorType)
}

// DefaultConfig returns the backoff used when a caller has no preference.
func DefaultConfig() Config {
	return Config{
		MaxRetries:      10,
		InitialDelay:    200 * time.Millisecond,
		MaxDelay:        15 * time.Second,
		CredentialDelay: time.Second,
	}
}

// Classifier lets an error state its own retry class, bypassing
// the checks in ClassifyError.
type Classifier interface {
	RetryClass() ErrorType
}

// messageClasses is the fallback for errors that only carry text,
// checked in order.
var messageClasses = []struct {
	class   ErrorType
	needles []string
}{
	{ErrorTypeCredential, []string{"expired", "403", "509", "unauthorized"}},
	{ErrorTypeNetwork, []string{"connection reset", "connection refused", "broken pipe", "eof", "stream error", "timeout"}},
	{ErrorTypeRetryable, []string{"throttl", "429", "500", "502", "503", "504", "service unavailable"}},
}

// ClassifyError determines the retry class of err.
func ClassifyError(err error) ErrorType {
	if err == nil {
		return ErrorTypeSuccess
	}
	if errors.Is(err, context.Canceled) {
		return ErrorTypeFatal
	}

	var c Classifier
	if errors.As(err, &c) {
		return c.RetryClass()
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorTypeNetwork
	}
	if errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return ErrorTypeNetwork
	}

	msg := strings.ToLower(err.Error())
	for _, mc := range messageClasses {
		for _, needle := range mc.needles {
			if strings.Contains(msg, needle) {
				return mc.class
			}
		}
	}

	// Unknown errors are fatal to avoid endless retries.
	return ErrorTypeFatal
}

// CalculateBackoff returns exponential backoff with full jitter:
// random(0, min(maxDelay, initialDelay * 2^attempt)).
func CalculateBackoff(attempt int, initialDelay, maxDelay time.Duration) time.Duration {
	if attempt <= 0 || initialDelay <= 0 {
		return 0
	}

	base := time.Duration(1<<uint(min(attempt, 30))) * initialDelay
	if base > maxDelay || base <= 0 {
		base = maxDelay
	}
	return time.Duration(rand.Int63n(int64(base)))
}

// ExecuteWithRetry runs operation until it succeeds, fails fatally, or
// config.MaxRetries attempts (at least one) have been made.
//
// Credential errors wait CredentialDelay; network and retryable errors
// back off exponentially. A cancelled context ends the loop at once, even
// mid-backoff, and so does a deadline too close for the next wait.
func ExecuteWithRetry(ctx context.Context, config Config, operation func() error) error {
	attempts := max(config.MaxRetries, 1)
	credentialDelay := config.CredentialDelay
	if credentialDelay <= 0 {
		credentialDelay = time.Second
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return withLast(err, lastErr)
		}

		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		errType := ClassifyError(err)
		if errType == ErrorTypeFatal {
			return err
		}
		if attempt == attempts {
			break
		}

		wait := credentialDelay
		if errType != ErrorTypeCredential {
			wait = CalculateBackoff(attempt, config.InitialDelay, config.MaxDelay)
		}
		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < wait {
			return fmt.Errorf("insufficient time for retry %d: %w", attempt, err)
		}

		if config.OnRetry != nil {
			config.OnRetry(attempt, err, errType)
		}
		if err := sleep(ctx, wait); err != nil {
			return withLast(err, lastErr)
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", attempts, lastErr)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func withLast(ctxErr, last error) error {
	if last == nil {
		return ctxErr
	}
	return fmt.Errorf("%w (last error: %v)", ctxErr, last)
}
