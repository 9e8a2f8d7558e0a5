package artifacts

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
)

// S3Store downloads artifacts from an S3 bucket mirror of the model repository.
type S3Store struct {
	downloader s3manageriface.DownloaderAPI
	bucket     string
	prefix     string
}

// NewS3Store creates a store backed by an AWS session for region.
//
// Arguments:
//   - region: The bucket region. Empty uses the SDK's default resolution.
//   - bucket: The bucket name.
//   - prefix: An optional key prefix the artifacts live under.
//
// Returns:
//   - *S3Store: The store.
//   - error: An error if the AWS session cannot be created.
func NewS3Store(region, bucket, prefix string) (*S3Store, error) {
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	cfg := aws.NewConfig()
	if region != "" {
		cfg = cfg.WithRegion(region)
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("create aws session: %w", err)
	}
	return NewS3StoreWithDownloader(s3manager.NewDownloader(sess), bucket, prefix), nil
}

// NewS3StoreWithDownloader creates a store around an existing downloader.
func NewS3StoreWithDownloader(d s3manageriface.DownloaderAPI, bucket, prefix string) *S3Store {
	return &S3Store{downloader: d, bucket: bucket, prefix: prefix}
}

// Location implements Store.
func (s *S3Store) Location() string {
	return "s3://" + path.Join(s.bucket, s.prefix)
}

// Key returns the object key for an artifact name.
func (s *S3Store) Key(name string) string {
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

// Fetch implements Store.
func (s *S3Store) Fetch(ctx context.Context, name string, dst io.WriterAt) (int64, error) {
	n, err := s.downloader.DownloadWithContext(ctx, dst, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.Key(name)),
	})
	if err != nil {
		return n, fmt.Errorf("download s3://%s/%s: %w", s.bucket, s.Key(name), err)
	}
	return n, nil
}
