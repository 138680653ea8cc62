package s3store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	"github.com/jwalitptl/clinic-records/internal/config"
	"github.com/jwalitptl/clinic-records/internal/model"
	"github.com/jwalitptl/clinic-records/internal/repository"
	"github.com/jwalitptl/clinic-records/pkg/circuitbreaker"
)

// ErrUnavailable wraps transport failures and an open breaker.
var ErrUnavailable = errors.New("object store unavailable")

type objectStore struct {
	client  s3iface.S3API
	bucket  string
	breaker *circuitbreaker.CircuitBreaker
}

// NewObjectStore builds an S3 client from cfg.
func NewObjectStore(cfg config.S3Config) (repository.ObjectStore, error) {
	awsCfg := aws.Config{
		Region: aws.String(cfg.Region),
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(cfg.ForcePathStyle)
	}
	if cfg.AccessKeyID != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	}

	sess, err := session.NewSessionWithOptions(session.Options{Config: awsCfg})
	if err != nil {
		return nil, fmt.Errorf("failed to create aws session: %w", err)
	}
	return NewObjectStoreWithClient(s3.New(sess), cfg.Bucket), nil
}

// NewObjectStoreWithClient wraps an existing client.
func NewObjectStoreWithClient(client s3iface.S3API, bucket string) repository.ObjectStore {
	return &objectStore{
		client: client,
		bucket: bucket,
		breaker: circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
			Name:        "s3",
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		}),
	}
}

func (s *objectStore) Put(ctx context.Context, key string, body []byte, opts repository.PutOptions) error {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
	}
	if opts.Encryption != "" {
		input.ServerSideEncryption = aws.String(opts.Encryption)
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}

	return s.call(func() error {
		_, err := s.client.PutObjectWithContext(ctx, input)
		if err != nil {
			return fmt.Errorf("failed to put %s: %w", key, err)
		}
		return nil
	})
}

func (s *objectStore) Get(ctx context.Context, key string) ([]byte, error) {
	var body []byte
	err := s.call(func() error {
		out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return fmt.Errorf("failed to get %s: %w", key, err)
		}
		defer out.Body.Close()

		body, err = io.ReadAll(out.Body)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", key, err)
		}
		return nil
	})
	return body, err
}

func (s *objectStore) List(ctx context.Context, prefix string) ([]model.BackupArtifact, error) {
	var artifacts []model.BackupArtifact
	err := s.call(func() error {
		input := &s3.ListObjectsV2Input{
			Bucket: aws.String(s.bucket),
		}
		if prefix != "" {
			input.Prefix = aws.String(prefix)
		}
		return s.client.ListObjectsV2PagesWithContext(ctx, input, func(page *s3.ListObjectsV2Output, _ bool) bool {
			for _, obj := range page.Contents {
				artifacts = append(artifacts, model.BackupArtifact{
					Key:          aws.StringValue(obj.Key),
					LastModified: aws.TimeValue(obj.LastModified),
					Size:         aws.Int64Value(obj.Size),
				})
			}
			return true
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %q: %w", prefix, err)
	}

	sort.SliceStable(artifacts, func(i, j int) bool {
		return artifacts[i].LastModified.After(artifacts[j].LastModified)
	})
	return artifacts, nil
}

func (s *objectStore) Delete(ctx context.Context, key string) error {
	return s.call(func() error {
		_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return fmt.Errorf("failed to delete %s: %w", key, err)
		}
		return nil
	})
}

// call runs fn behind the breaker. Missing keys are passed through as
// repository.ErrNotFound and do not count as failures.
func (s *objectStore) call(fn func() error) error {
	var notFound error
	err := s.breaker.Execute(func() error {
		err := fn()
		if isNotFound(err) {
			notFound = err
			return nil
		}
		return err
	})
	switch {
	case notFound != nil:
		return fmt.Errorf("%w: %v", repository.ErrNotFound, notFound)
	case err != nil:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var aerr awserr.Error
	if !errors.As(err, &aerr) {
		return false
	}
	switch aerr.Code() {
	case s3.ErrCodeNoSuchKey, "NotFound":
		return true
	}
	return false
}
