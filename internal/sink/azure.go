package sink

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
)

// UploadStreamAPI is the subset of *azblob.Client used by the Azure sink.
type UploadStreamAPI interface {
	UploadStream(ctx context.Context, containerName string, blobName string, body io.Reader, o *azblob.UploadStreamOptions) (azblob.UploadStreamResponse, error)
}

// AzureContainer is a parsed container SAS URL.
type AzureContainer struct {
	ServiceURL string // https://account.blob.core.windows.net/?<sas>
	Container  string
}

// ParseContainerURL splits https://account.blob.core.windows.net/container?sas
// into the service URL (keeping the SAS query) and the container name.
func ParseContainerURL(raw string) (AzureContainer, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return AzureContainer{}, fmt.Errorf("invalid azure container URL: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return AzureContainer{}, fmt.Errorf("invalid azure container URL scheme: %q", u.Scheme)
	}

	container := strings.Trim(u.Path, "/")
	if container == "" || strings.Contains(container, "/") {
		return AzureContainer{}, fmt.Errorf("azure container URL must name exactly one container: %s", u.Redacted())
	}
	if u.RawQuery == "" {
		return AzureContainer{}, fmt.Errorf("azure container URL has no SAS token")
	}

	service := url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/", RawQuery: u.RawQuery}
	return AzureContainer{ServiceURL: service.String(), Container: container}, nil
}

// NewAzureClient creates a blob client authorised by the SAS token in the service URL.
func NewAzureClient(c AzureContainer, httpClient *http.Client) (*azblob.Client, error) {
	var opts *azblob.ClientOptions
	if httpClient != nil {
		opts = &azblob.ClientOptions{
			ClientOptions: azcore.ClientOptions{
				Transport: httpClient,
			},
		}
	}
	client, err := azblob.NewClientWithNoCredential(c.ServiceURL, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure client: %w", err)
	}
	return client, nil
}

// Azure streams the plaintext into a block blob with UploadStream.
// Blocks are committed only when Close succeeds.
type Azure struct {
	container string
	blob      string
	up        *pipeUpload
}

// NewAzure starts the upload of container/blob.
func NewAzure(ctx context.Context, client UploadStreamAPI, container, blob string) *Azure {
	up := startPipeUpload(func(r io.Reader) error {
		if _, err := client.UploadStream(ctx, container, blob, r, nil); err != nil {
			return fmt.Errorf("failed to upload blob %s/%s: %w", container, blob, err)
		}
		return nil
	})
	return &Azure{container: container, blob: blob, up: up}
}

func (s *Azure) Write(p []byte) (int, error) {
	return s.up.Write(p)
}

// Close ends the stream and waits for the block list commit.
func (s *Azure) Close() error {
	return s.up.finish(nil)
}

// Abort fails the stream; staged blocks are never committed.
func (s *Azure) Abort() error {
	_ = s.up.finish(ErrAborted)
	return nil
}

func (s *Azure) Location() string {
	return "azure://" + s.container + "/" + s.blob
}
