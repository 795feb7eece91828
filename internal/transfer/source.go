package transfer

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/rescale/megadl/internal/api"
	ihttp "github.com/rescale/megadl/internal/http"
	"github.com/rescale/megadl/internal/megalink"
)

// MetadataFetcher resolves a file id into its download URL and declared size.
// *api.Client implements it.
type MetadataFetcher interface {
	GetDownloadInfo(ctx context.Context, id megalink.FileID) (*api.DownloadInfo, error)
}

// Source opens the ciphertext body behind a signed download URL.
// Bytes must be delivered in server order.
type Source interface {
	Open(ctx context.Context, url string) (io.ReadCloser, error)
}

// StatusError is a non-2xx answer from the storage node.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %s", e.Status)
}

// RetryClass maps storage node statuses to restart behaviour. 403 and 509
// mean the signed URL expired or hit its bandwidth cap; a new session
// fetches a fresh one.
func (e *StatusError) RetryClass() ihttp.ErrorType {
	switch {
	case e.StatusCode == http.StatusForbidden, e.StatusCode == 509:
		return ihttp.ErrorTypeCredential
	case e.StatusCode == http.StatusTooManyRequests, e.StatusCode >= 500:
		return ihttp.ErrorTypeRetryable
	default:
		return ihttp.ErrorTypeFatal
	}
}

// HTTPSource downloads with a plain GET.
type HTTPSource struct {
	client *http.Client
}

// NewHTTPSource wraps client; nil uses http.DefaultClient.
func NewHTTPSource(client *http.Client) *HTTPSource {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSource{client: client}
}

// Open issues the GET and returns the body of a 2xx response.
// Cancelling ctx aborts an in-progress read.
func (s *HTTPSource) Open(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create download request: %w", err)
	}
	// Ciphertext does not compress; ask for the raw body.
	req.Header.Set("Accept-Encoding", "identity")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}
	return resp.Body, nil
}
