package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
	"testing"
	"time"
)

func fastRetry(n int) Config {
	return Config{MaxRetries: n, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestExecuteWithRetry_SingleAttempt(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{"success", nil, false},
		{"fatal error is not retried", fmt.Errorf("400 bad request"), true},
		{"cancellation is not retried", context.Canceled, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := ExecuteWithRetry(context.Background(), fastRetry(5), func() error {
				calls++
				return tt.err
			})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if calls != 1 {
				t.Errorf("calls = %d, want 1", calls)
			}
		})
	}
}

// Both cases would sleep 5s before the second attempt without the early exit.
func TestExecuteWithRetry_ReturnsBeforeLongBackoff(t *testing.T) {
	slow := Config{MaxRetries: 5, InitialDelay: 5 * time.Second, MaxDelay: 30 * time.Second}

	tests := []struct {
		name string
		ctx  func() (context.Context, context.CancelFunc)
	}{
		{"cancelled while sleeping", func() (context.Context, context.CancelFunc) {
			ctx, cancel := context.WithCancel(context.Background())
			time.AfterFunc(50*time.Millisecond, cancel)
			return ctx, cancel
		}},
		{"deadline shorter than backoff", func() (context.Context, context.CancelFunc) {
			return context.WithTimeout(context.Background(), 100*time.Millisecond)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := tt.ctx()
			defer cancel()

			calls := 0
			start := time.Now()
			err := ExecuteWithRetry(ctx, slow, func() error {
				calls++
				return fmt.Errorf("connection reset")
			})
			if err == nil {
				t.Fatal("expected error")
			}
			if elapsed := time.Since(start); elapsed > time.Second {
				t.Errorf("took %v, want an early return", elapsed)
			}
			if calls != 1 {
				t.Errorf("calls = %d, want 1", calls)
			}
		})
	}
}

// TestExecuteWithRetry_RetriesUntilSuccess verifies network errors are retried.
func TestExecuteWithRetry_RetriesUntilSuccess(t *testing.T) {
	cfg := fastRetry(4)
	var retries []int
	cfg.OnRetry = func(attempt int, err error, errType ErrorType) {
		retries = append(retries, attempt)
		if errType != ErrorTypeNetwork {
			t.Errorf("errType = %s, want network", errType)
		}
	}

	calls := 0
	err := ExecuteWithRetry(context.Background(), cfg, func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("read: connection reset by peer")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
	if len(retries) != 2 || retries[0] != 1 || retries[1] != 2 {
		t.Errorf("OnRetry attempts = %v, want [1 2]", retries)
	}
}

// TestExecuteWithRetry_Exhausted verifies the last error is wrapped after all attempts.
func TestExecuteWithRetry_Exhausted(t *testing.T) {
	cfg := fastRetry(3)
	sentinel := errors.New("unexpected EOF")

	calls := 0
	err := ExecuteWithRetry(context.Background(), cfg, func() error {
		calls++
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected wrapped sentinel, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

// TestExecuteWithRetry_ZeroRetries verifies a single attempt is always made.
func TestExecuteWithRetry_ZeroRetries(t *testing.T) {
	calls := 0
	_ = ExecuteWithRetry(context.Background(), Config{}, func() error {
		calls++
		return fmt.Errorf("timeout")
	})
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

type classified struct{ class ErrorType }

func (c classified) Error() string         { return "400 looks fatal" }
func (c classified) RetryClass() ErrorType { return c.class }

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorType
	}{
		{nil, ErrorTypeSuccess},
		{context.Canceled, ErrorTypeFatal},
		{fmt.Errorf("download: %w", context.Canceled), ErrorTypeFatal},
		{fmt.Errorf("HTTP 403 Forbidden"), ErrorTypeCredential},
		{fmt.Errorf("HTTP 509 bandwidth limit exceeded"), ErrorTypeCredential},
		{fmt.Errorf("read tcp: i/o timeout"), ErrorTypeNetwork},
		{fmt.Errorf("unexpected EOF"), ErrorTypeNetwork},
		{fmt.Errorf("HTTP 503 Service Unavailable"), ErrorTypeRetryable},
		{fmt.Errorf("HTTP 404 Not Found"), ErrorTypeFatal},
		{fmt.Errorf("something odd"), ErrorTypeFatal},
		{classified{ErrorTypeRetryable}, ErrorTypeRetryable},
		{fmt.Errorf("wrapped: %w", classified{ErrorTypeNetwork}), ErrorTypeNetwork},
	}

	for _, tt := range tests {
		if got := ClassifyError(tt.err); got != tt.want {
			t.Errorf("ClassifyError(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestCalculateBackoff(t *testing.T) {
	if d := CalculateBackoff(0, time.Second, time.Minute); d != 0 {
		t.Errorf("attempt 0 backoff = %v, want 0", d)
	}
	for attempt := 1; attempt < 70; attempt++ {
		d := CalculateBackoff(attempt, 100*time.Millisecond, 2*time.Second)
		if d < 0 || d >= 2*time.Second {
			t.Fatalf("attempt %d backoff %v out of range", attempt, d)
		}
	}
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "dial tcp: deadline" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

var _ net.Error = timeoutError{}

func TestClassifyError_TypedErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{"net timeout", &net.OpError{Op: "read", Net: "tcp", Err: timeoutError{}}, ErrorTypeNetwork},
		{"truncated body", fmt.Errorf("stream: %w", io.ErrUnexpectedEOF), ErrorTypeNetwork},
		{"reset", &net.OpError{Op: "read", Net: "tcp", Err: os.NewSyscallError("read", syscall.ECONNRESET)}, ErrorTypeNetwork},
		{"refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), ErrorTypeNetwork},
		{"broken pipe", fmt.Errorf("write: %w", syscall.EPIPE), ErrorTypeNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.want {
				t.Errorf("ClassifyError(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestErrorType_String(t *testing.T) {
	for typ, want := range map[ErrorType]string{
		ErrorTypeSuccess:    "success",
		ErrorTypeCredential: "credential",
		ErrorTypeNetwork:    "network",
		ErrorTypeRetryable:  "retryable",
		ErrorTypeFatal:      "fatal",
		ErrorType(99):       "unknown",
	} {
		if got := typ.String(); got != want {
			t.Errorf("ErrorType(%d).String() = %q, want %q", int(typ), got, want)
		}
	}
}

func TestExecuteWithRetry_CredentialDelay(t *testing.T) {
	cfg := Config{
		MaxRetries:      2,
		InitialDelay:    time.Hour,
		MaxDelay:        time.Hour,
		CredentialDelay: 10 * time.Millisecond,
	}

	calls := 0
	start := time.Now()
	err := ExecuteWithRetry(context.Background(), cfg, func() error {
		calls++
		if calls == 1 {
			return fmt.Errorf("HTTP 403 Forbidden")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("credential retry should use CredentialDelay, took %v", elapsed)
	}
}
