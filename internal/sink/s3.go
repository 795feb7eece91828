package sink

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// PutObjectAPI is the subset of *s3.Client used by the S3 sink.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Options configures NewS3Client.
type S3Options struct {
	Region          string
	Endpoint        string // optional S3-compatible endpoint; enables path-style addressing
	AccessKeyID     string // static credentials; empty uses the default AWS chain
	SecretAccessKey string
	HTTPClient      *http.Client // shares proxy settings with the downloader
}

// NewS3Client builds an S3 client from the default AWS configuration
// with the region, endpoint and credentials overrides in opts.
func NewS3Client(ctx context.Context, opts S3Options) (*s3.Client, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.HTTPClient != nil {
		loadOpts = append(loadOpts, awsconfig.WithHTTPClient(opts.HTTPClient))
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// S3 streams the plaintext into a single PutObject call.
// The declared size is sent as Content-Length, so the object is only
// created when exactly that many bytes are written before Close.
type S3 struct {
	bucket string
	key    string
	up     *pipeUpload
}

// NewS3 starts the upload of bucket/key. Writes block until the SDK consumes them.
func NewS3(ctx context.Context, client PutObjectAPI, bucket, key string, size int64) *S3 {
	up := startPipeUpload(func(r io.Reader) error {
		_, err := client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(bucket),
			Key:           aws.String(key),
			Body:          r,
			ContentLength: aws.Int64(size),
			ContentType:   aws.String("application/octet-stream"),
		})
		if err != nil {
			return fmt.Errorf("failed to upload s3://%s/%s: %w", bucket, key, err)
		}
		return nil
	})
	return &S3{bucket: bucket, key: key, up: up}
}

func (s *S3) Write(p []byte) (int, error) {
	return s.up.Write(p)
}

// Close ends the body and waits for PutObject to return.
func (s *S3) Close() error {
	return s.up.finish(nil)
}

// Abort fails the request body so no object is created.
func (s *S3) Abort() error {
	_ = s.up.finish(ErrAborted)
	return nil
}

func (s *S3) Location() string {
	return "s3://" + s.bucket + "/" + s.key
}

// ObjectKey joins an optional prefix and a file name into an object key.
func ObjectKey(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}
