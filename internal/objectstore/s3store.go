package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/cockroachdb/errors"
)

// S3Store adapts an S3-compatible backend (AWS S3 or MinIO, pointed at
// via a custom endpoint) to Store.
type S3Store struct {
	client *s3.S3
	bucket string
}

// S3Config configures NewS3Store. Endpoint is optional; set it for
// MinIO or any other S3-compatible backend.
type S3Config struct {
	Bucket         string
	Region         string
	Endpoint       string
	ForcePathStyle bool
}

// NewS3Store creates an S3-backed Store from an existing AWS session.
func NewS3Store(sess *session.Session, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("objectstore: S3Config.Bucket is required")
	}

	awsCfg := aws.NewConfig()
	if cfg.Region != "" {
		awsCfg = awsCfg.WithRegion(cfg.Region)
	}
	if cfg.Endpoint != "" {
		awsCfg = awsCfg.WithEndpoint(cfg.Endpoint).WithS3ForcePathStyle(cfg.ForcePathStyle)
	}

	return &S3Store{
		client: s3.New(sess, awsCfg),
		bucket: cfg.Bucket,
	}, nil
}

func (s *S3Store) Put(ctx context.Context, path string, data []byte) error {
	_, err := s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return errors.Wrapf(err, "objectstore: put %q", path)
	}
	return nil
}

func (s *S3Store) Read(ctx context.Context, path string, r *Range) ([]byte, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	}
	if r != nil {
		input.Range = aws.String(fmt.Sprintf("bytes=%d-%d", r.Offset, r.Offset+r.Length-1))
	}

	out, err := s.client.GetObjectWithContext(ctx, input)
	if err != nil {
		if isS3NotFound(err) {
			return nil, errors.Wrapf(ErrNotFound, "path %q", path)
		}
		return nil, errors.Wrapf(err, "objectstore: get %q", path)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "objectstore: read body %q", path)
	}
	return data, nil
}

func (s *S3Store) Delete(ctx context.Context, path string) error {
	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return errors.Wrapf(err, "objectstore: delete %q", path)
	}
	return nil
}

func (s *S3Store) List(ctx context.Context, prefix string) ([]Metadata, error) {
	var out []Metadata
	err := s.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			out = append(out, Metadata{
				Path:         aws.StringValue(obj.Key),
				Size:         aws.Int64Value(obj.Size),
				LastModified: aws.TimeValue(obj.LastModified),
			})
		}
		return true
	})
	if err != nil {
		return nil, errors.Wrapf(err, "objectstore: list %q", prefix)
	}
	return out, nil
}

func isS3NotFound(err error) bool {
	type awsError interface {
		Code() string
	}
	var ae awsError
	if errors.As(err, &ae) {
		return ae.Code() == s3.ErrCodeNoSuchKey
	}
	return false
}
