// Package objectstore wraps the S3 operations the ingest pipeline needs:
// streaming reads, writes, and the copy/delete primitives the mover is
// built from.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// API is the slice of the S3 client the store depends on.
type API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Store binds an API to one bucket.
type Store struct {
	client API

	bucket    string
	bucketPtr *string
}

func New(client API, bucket string) *Store {
	if client == nil {
		panic("s3 client is required")
	}
	if strings.TrimSpace(bucket) == "" {
		panic("bucket is required")
	}

	s := &Store{
		client: client,
		bucket: bucket,
	}
	s.bucketPtr = &s.bucket
	return s
}

func (s *Store) Bucket() string { return s.bucket }

// Open returns the object body as a stream. The caller owns the closer.
func (s *Store) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	keyVar := key
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: s.bucketPtr,
		Key:    &keyVar,
	})
	if err != nil {
		return nil, fmt.Errorf("get s3 object key=%q: %w", key, err)
	}
	return out.Body, nil
}

func (s *Store) Put(ctx context.Context, key, contentType string, data []byte) error {
	if key == "" {
		return fmt.Errorf("empty key")
	}

	keyVar := key
	cl := int64(len(data))

	var body bytes.Reader
	body.Reset(data)

	input := s3.PutObjectInput{
		Bucket:        s.bucketPtr,
		Key:           &keyVar,
		Body:          &body,
		ContentLength: &cl,
	}
	if contentType != "" {
		input.ContentType = &contentType
	}

	if _, err := s.client.PutObject(ctx, &input); err != nil {
		return fmt.Errorf("put s3 object key=%q: %w", key, err)
	}
	return nil
}

// Copy duplicates srcKey at dstKey within the bucket.
func (s *Store) Copy(ctx context.Context, srcKey, dstKey string) error {
	src := s.bucket + "/" + srcKey
	dst := dstKey
	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     s.bucketPtr,
		CopySource: &src,
		Key:        &dst,
	})
	if err != nil {
		return fmt.Errorf("copy s3 object %q -> %q: %w", srcKey, dstKey, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	keyVar := key
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: s.bucketPtr,
		Key:    &keyVar,
	})
	if err != nil {
		return fmt.Errorf("delete s3 object key=%q: %w", key, err)
	}
	return nil
}
