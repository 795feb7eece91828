package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	nethttp "net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/rescale/megadl/internal/config"
	"github.com/rescale/megadl/internal/constants"
	ihttp "github.com/rescale/megadl/internal/http"
	"github.com/rescale/megadl/internal/logging"
	"github.com/rescale/megadl/internal/megalink"
	"github.com/rescale/megadl/internal/ratelimit"
)

// maxResponseSize caps the metadata response read; a "g" answer is a few hundred bytes.
const maxResponseSize = 1 << 20

// retryLogger implements the retryablehttp.LeveledLogger interface
type retryLogger struct {
	logger *logging.Logger
}

func (l *retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Error().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Trace().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warn().Fields(keysAndValues).Msg(msg)
}

// DownloadInfo is the metadata endpoint's answer for a public file.
type DownloadInfo struct {
	// URL is the temporary signed URL serving the ciphertext.
	URL string
	// Size is the declared plaintext size in bytes.
	Size int64
	// Attributes holds the encrypted attribute blob ("at"). It is not decoded.
	Attributes string
}

type getRequest struct {
	A string `json:"a"`
	G int    `json:"g"`
	P string `json:"p"`
}

type getResponse struct {
	G  string `json:"g"`
	S  *int64 `json:"s"`
	At string `json:"at"`
	E  *int   `json:"e"`
}

// Client represents the Mega metadata API client
type Client struct {
	httpClient *nethttp.Client
	retry      *retryablehttp.Client
	baseURL    string
	seq        atomic.Uint64
	logger     *logging.Logger

	// Retries for EAGAIN-style codes returned in a 200 response.
	codeRetries int
	codeWaitMin time.Duration
	codeWaitMax time.Duration

	// Shared by every download using this client.
	limiter  *ratelimit.RateLimiter
	cooldown time.Duration
}

// NewClient creates a new API client. A nil logger discards retry logs.
func NewClient(cfg *config.Config, logger *logging.Logger) (*Client, error) {
	baseURL := strings.TrimSuffix(strings.TrimSpace(cfg.APIURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("API base URL is empty")
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	httpClient, err := ihttp.ConfigureHTTPClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to configure HTTP client: %w", err)
	}

	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient = httpClient
	retryClient.RetryMax = constants.APIMaxRetries
	retryClient.RetryWaitMin = constants.APIRetryWaitMin
	retryClient.RetryWaitMax = constants.APIRetryWaitMax
	retryClient.Logger = &retryLogger{logger: logger}

	c := &Client{
		httpClient:  retryClient.StandardClient(),
		retry:       retryClient,
		baseURL:     baseURL,
		logger:      logger,
		codeRetries: constants.APIMaxRetries,
		codeWaitMin: constants.APIRetryWaitMin,
		codeWaitMax: constants.APIRetryWaitMax,
		limiter:     ratelimit.NewRateLimiter(constants.APIRequestsPerSecond, constants.APIRequestBurst, logger),
		cooldown:    constants.APIRateLimitCooldown,
	}
	// Mega only needs the id to differ between requests of one client.
	c.seq.Store(uint64(rand.Uint32()))
	return c, nil
}

// BaseURL returns the API root requests are sent to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// GetDownloadInfo resolves a public file id into its signed download URL and size.
//
// Temporary Mega codes (EAGAIN, ERATELIMIT, ...) are retried with backoff;
// any other code, or a response without "g" and "s", fails with an error
// matching ErrAPI. Transport failures are returned unwrapped.
func (c *Client) GetDownloadInfo(ctx context.Context, id megalink.FileID) (*DownloadInfo, error) {
	payload := []getRequest{{A: "g", G: 1, P: string(id)}}

	var lastErr error
	for attempt := 0; attempt <= c.codeRetries; attempt++ {
		if attempt > 0 {
			wait := ihttp.CalculateBackoff(attempt, c.codeWaitMin, c.codeWaitMax)
			c.logger.Debug().Str("file_id", string(id)).Int("attempt", attempt).Dur("wait", wait).
				Err(lastErr).Msg("metadata request will be retried")
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		body, err := c.doRequest(ctx, payload)
		if err == nil {
			var info *DownloadInfo
			if info, err = parseGetResponse(body); err == nil {
				return info, nil
			}
		}
		lastErr = err

		var me *MegaError
		if !errors.As(err, &me) || !me.Temporary() {
			return nil, err
		}
		if me.Code == ERATELIMIT {
			c.limiter.Penalize(c.cooldown)
		}
	}
	return nil, fmt.Errorf("metadata request failed after %d attempts: %w", c.codeRetries+1, lastErr)
}

// doRequest posts one command batch and returns the raw response body.
func (c *Client) doRequest(ctx context.Context, payload interface{}) ([]byte, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, constants.APIContextTimeout)
	defer cancel()

	url := fmt.Sprintf("%s%s?id=%d", c.baseURL, constants.APICommandPath, c.seq.Add(1))
	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("metadata request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata response: %w", err)
	}

	if resp.StatusCode != nethttp.StatusOK {
		// Mega sometimes reports its codes with a non-200 status.
		if code, ok := decodeErrorCode(body); ok {
			return nil, &MegaError{Code: code}
		}
		return nil, fmt.Errorf("%w: metadata request returned status %d: %s", ErrAPI, resp.StatusCode, truncate(body, 128))
	}
	return body, nil
}

// parseGetResponse decodes the answer to a single "g" command.
func parseGetResponse(body []byte) (*DownloadInfo, error) {
	body = bytes.TrimSpace(body)
	if code, ok := decodeErrorCode(body); ok {
		return nil, &MegaError{Code: code}
	}

	var results []json.RawMessage
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, fmt.Errorf("%w: malformed response %q: %v", ErrAPI, truncate(body, 64), err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("%w: empty response", ErrAPI)
	}

	var r getResponse
	if err := json.Unmarshal(results[0], &r); err != nil {
		return nil, fmt.Errorf("%w: malformed file entry: %v", ErrAPI, err)
	}
	if r.E != nil && *r.E < 0 {
		return nil, &MegaError{Code: *r.E}
	}
	if r.G == "" {
		return nil, fmt.Errorf("%w: response has no download url", ErrAPI)
	}
	if r.S == nil {
		return nil, fmt.Errorf("%w: response has no file size", ErrAPI)
	}
	if *r.S < 0 {
		return nil, fmt.Errorf("%w: negative file size %d", ErrAPI, *r.S)
	}

	return &DownloadInfo{URL: r.G, Size: *r.S, Attributes: r.At}, nil
}

// decodeErrorCode recognises the two error shapes: -9 and [-9].
func decodeErrorCode(body []byte) (int, bool) {
	var code int
	if json.Unmarshal(body, &code) == nil {
		return code, code < 0
	}
	var codes []int
	if json.Unmarshal(body, &codes) == nil && len(codes) > 0 && codes[0] < 0 {
		return codes[0], true
	}
	return 0, false
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
