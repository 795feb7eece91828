package constants

import (
	"time"
)

// Mega API endpoints
const (
	// DefaultAPIURL - base URL of the Mega metadata API. Requests are sent to DefaultAPIURL + "/cs".
	DefaultAPIURL = "https://g.api.mega.co.nz"

	// APICommandPath - command endpoint appended to the API base URL
	APICommandPath = "/cs"
)

// Streaming
const (
	// StreamChunkSize - read buffer for the ciphertext body (64 KB)
	// Each read is decrypted in place and written before the next read.
	// Larger buffers reduce syscalls; the keystream does not care about boundaries.
	StreamChunkSize = 64 * 1024

	// ProgressUpdateInterval - minimum time between progress bar redraws
	ProgressUpdateInterval = 250 * time.Millisecond
)

// Disk space safety margin
const (
	// DiskSpaceBufferPercent - additional space to require beyond file size (15%)
	// Accounts for filesystem overhead and concurrent writers
	DiskSpaceBufferPercent = 0.15
)

// Event bus configuration
const (
	// EventBusDefaultBuffer - default buffer size for event channels
	EventBusDefaultBuffer = 256

	// EventBusMaxBuffer - maximum buffer size for event channels
	EventBusMaxBuffer = 4096
)

// Download concurrency
const (
	// DefaultMaxConcurrent - default number of links downloaded in parallel
	DefaultMaxConcurrent = 2

	// MinMaxConcurrent - minimum allowed value for --max-concurrent
	MinMaxConcurrent = 1

	// MaxMaxConcurrent - maximum allowed value for --max-concurrent
	MaxMaxConcurrent = 8
)

// Retry configuration
const (
	// APIMaxRetries - retry attempts for a metadata request (transport errors, 5xx, EAGAIN)
	APIMaxRetries = 5

	// APIRetryWaitMin - minimum wait between metadata retries
	APIRetryWaitMin = 500 * time.Millisecond

	// APIRetryWaitMax - maximum wait between metadata retries
	APIRetryWaitMax = 10 * time.Second

	// APIRequestsPerSecond - sustained metadata request rate per client
	APIRequestsPerSecond = 4.0

	// APIRequestBurst - metadata requests allowed back to back before pacing starts
	APIRequestBurst = 8.0

	// APIRateLimitCooldown - pause for all metadata calls after an ERATELIMIT answer
	APIRateLimitCooldown = 1 * time.Second

	// MaxSessionRetries - upper bound for --retries (whole-session restarts)
	MaxSessionRetries = 10

	// SessionRetryInitialDelay - base delay before restarting a failed session
	SessionRetryInitialDelay = 1 * time.Second

	// SessionRetryMaxDelay - cap on the delay between session restarts
	SessionRetryMaxDelay = 30 * time.Second
)

// Timeouts
const (
	// APIContextTimeout - timeout for a single metadata request
	APIContextTimeout = 30 * time.Second

	// ProxyWarmupTimeout - timeout for the optional proxy warmup request
	ProxyWarmupTimeout = 15 * time.Second
)

// HTTP Client Timeouts
const (
	// HTTPIdleConnTimeout - how long to keep idle connections open (90 seconds)
	HTTPIdleConnTimeout = 90 * time.Second

	// HTTPTLSHandshakeTimeout - timeout for TLS handshake (60 seconds)
	HTTPTLSHandshakeTimeout = 60 * time.Second

	// HTTPExpectContinueTimeout - timeout for 100-continue response (1 second)
	HTTPExpectContinueTimeout = 1 * time.Second

	// HTTPDialTimeout - timeout for establishing connection (30 seconds)
	HTTPDialTimeout = 30 * time.Second

	// HTTPDialKeepAlive - TCP keep-alive period (30 seconds)
	HTTPDialKeepAlive = 30 * time.Second

	// HTTPResponseHeaderTimeout - time to wait for response headers on downloads
	// The body itself has no deadline; large files stream for as long as they need.
	HTTPResponseHeaderTimeout = 60 * time.Second
)
