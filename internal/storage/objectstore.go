package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ObjectStore persists opaque blobs: durable change request archives and
// document content snapshots.
type ObjectStore interface {
	PutObject(ctx context.Context, key string, body []byte) error
	GetObject(ctx context.Context, key string) ([]byte, error)
	DeleteObject(ctx context.Context, key string) error
}

func putJSON(ctx context.Context, store ObjectStore, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return store.PutObject(ctx, key, raw)
}

func getJSON[T any](ctx context.Context, store ObjectStore, key string, target *T) error {
	raw, err := store.GetObject(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// InMemoryObjectStore keeps blobs in process memory. It is safe for concurrent use.
type InMemoryObjectStore struct {
	mu    sync.RWMutex
	store map[string][]byte
}

// NewInMemoryObjectStore constructs an in-memory object store.
func NewInMemoryObjectStore() *InMemoryObjectStore {
	return &InMemoryObjectStore{store: make(map[string][]byte)}
}

// PutObject saves a copy of body under key.
func (s *InMemoryObjectStore) PutObject(ctx context.Context, key string, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.store[key] = append([]byte(nil), body...)
	return nil
}

// GetObject returns a copy of the blob stored under key.
func (s *InMemoryObjectStore) GetObject(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.store[key]
	if !ok {
		return nil, ErrEntryNotFound
	}
	return append([]byte(nil), data...), nil
}

// DeleteObject removes the blob stored under key.
func (s *InMemoryObjectStore) DeleteObject(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.store, key)
	return nil
}

// Len reports the number of stored blobs.
func (s *InMemoryObjectStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.store)
}

// S3Client captures the subset of the AWS SDK client used by S3ObjectStore.
type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3ObjectStore stores blobs in an S3-compatible bucket under an optional prefix.
type S3ObjectStore struct {
	client S3Client
	bucket string
	prefix string
}

// NewS3ObjectStore creates an object store backed by S3.
func NewS3ObjectStore(client S3Client, bucket, prefix string) *S3ObjectStore {
	return &S3ObjectStore{client: client, bucket: bucket, prefix: prefix}
}

// NewS3Client builds an S3 client for a static-credential, optionally
// self-hosted endpoint such as MinIO.
func NewS3Client(region, endpoint, accessKey, secretKey string) *s3.Client {
	opts := s3.Options{
		Region:       region,
		UsePathStyle: endpoint != "",
	}
	if endpoint != "" {
		opts.BaseEndpoint = aws.String(endpoint)
	}
	if accessKey != "" {
		opts.Credentials = aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
			return aws.Credentials{AccessKeyID: accessKey, SecretAccessKey: secretKey, Source: "changerequest-config"}, nil
		})
	}
	return s3.New(opts)
}

func (s *S3ObjectStore) objectKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return path.Join(s.prefix, key)
}

// PutObject uploads the payload to S3.
func (s *S3ObjectStore) PutObject(ctx context.Context, key string, body []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.objectKey(key)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("s3 put %s: %w", key, err)
	}
	return nil
}

// GetObject downloads an object from S3.
func (s *S3ObjectStore) GetObject(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		var notFound *types.NoSuchKey
		if errors.As(err, &notFound) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("s3 get %s: %w", key, err)
	}
	defer out.Body.Close()

	return io.ReadAll(out.Body)
}

// DeleteObject removes an object from S3. Deleting a missing key is not an error.
func (s *S3ObjectStore) DeleteObject(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	var notFound *types.NoSuchKey
	if err != nil && !errors.As(err, &notFound) {
		return fmt.Errorf("s3 delete %s: %w", key, err)
	}
	return nil
}
