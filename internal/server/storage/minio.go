package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioOptions configures an S3-compatible storage backend.
type MinioOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	Region    string
}

// MinioStore keeps artifacts as objects in a single bucket. Object keys are
// the prefix followed by the sanitized filename, so the bucket mirrors the
// flat directory layout of FileSystemStore.
type MinioStore struct {
	client *minio.Client
	bucket string
	prefix string
	region string
}

// NewMinioStore connects to the endpoint and creates the bucket when it
// does not exist yet.
func NewMinioStore(ctx context.Context, opts MinioOptions) (*MinioStore, error) {
	if opts.AccessKey == "" || opts.SecretKey == "" || opts.Bucket == "" {
		return nil, fmt.Errorf("minio configuration incomplete")
	}

	endpoint, secure, err := normaliseEndpoint(opts.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid minio endpoint: %w", err)
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: secure,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	prefix := strings.Trim(opts.Prefix, "/")
	if prefix != "" {
		prefix += "/"
	}

	s := &MinioStore{client: client, bucket: opts.Bucket, prefix: prefix, region: opts.Region}
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// normaliseEndpoint accepts either "minio:9000" or a URL with an http or
// https scheme and no path.
func normaliseEndpoint(raw string) (endpoint string, secure bool, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, fmt.Errorf("empty endpoint")
	}

	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", false, err
		}
		if u.Host == "" {
			return "", false, fmt.Errorf("invalid endpoint")
		}
		if u.Path != "" && u.Path != "/" {
			return "", false, fmt.Errorf("endpoint must not contain a path")
		}
		return u.Host, u.Scheme == "https", nil
	}

	return raw, false, nil
}

func (s *MinioStore) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		// Another instance may have created it in the meantime.
		if code := minio.ToErrorResponse(err).Code; code == "BucketAlreadyOwnedByYou" || code == "BucketAlreadyExists" {
			return nil
		}
		return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Save uploads data as a single object. S3 only exposes an object once the
// upload completed, which gives the same all-or-nothing visibility as the
// rename in FileSystemStore.
func (s *MinioStore) Save(ctx context.Context, name string, data io.Reader) (Object, error) {
	name = SanitizeFilename(name)

	src := newChecksumReader(data)
	info, err := s.client.PutObject(ctx, s.bucket, s.key(name), src, -1, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return Object{}, fmt.Errorf("failed to upload object %s: %w", name, err)
	}

	modTime := info.LastModified
	if modTime.IsZero() {
		modTime = time.Now()
	}
	return Object{
		Name:     name,
		Size:     info.Size,
		Checksum: src.Sum(),
		ModTime:  modTime,
	}, nil
}

// Open returns a reader for an object.
func (s *MinioStore) Open(ctx context.Context, name string) (io.ReadCloser, Object, error) {
	if !validName(name) {
		return nil, Object{}, ErrNotFound
	}

	obj, err := s.client.GetObject(ctx, s.bucket, s.key(name), minio.GetObjectOptions{})
	if err != nil {
		return nil, Object{}, s.wrap(name, err)
	}
	// GetObject is lazy; Stat forces the request so a missing key surfaces here.
	info, err := obj.Stat()
	if err != nil {
		obj.Close()
		return nil, Object{}, s.wrap(name, err)
	}
	return obj, Object{Name: name, Size: info.Size, ModTime: info.LastModified}, nil
}

// Stat returns metadata for an object.
func (s *MinioStore) Stat(ctx context.Context, name string) (Object, error) {
	if !validName(name) {
		return Object{}, ErrNotFound
	}
	info, err := s.client.StatObject(ctx, s.bucket, s.key(name), minio.StatObjectOptions{})
	if err != nil {
		return Object{}, s.wrap(name, err)
	}
	return Object{Name: name, Size: info.Size, ModTime: info.LastModified}, nil
}

// Remove deletes an object. S3 treats deleting a missing key as success.
func (s *MinioStore) Remove(ctx context.Context, name string) error {
	if !validName(name) {
		return nil
	}
	if err := s.client.RemoveObject(ctx, s.bucket, s.key(name), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete object %s: %w", name, err)
	}
	return nil
}

// Reset deletes every object under the prefix and makes sure the bucket
// exists.
func (s *MinioStore) Reset(ctx context.Context) error {
	if err := s.ensureBucket(ctx); err != nil {
		return err
	}

	var errs []error
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: s.prefix, Recursive: true}) {
		if obj.Err != nil {
			return fmt.Errorf("failed to list bucket %s: %w", s.bucket, obj.Err)
		}
		if err := s.client.RemoveObject(ctx, s.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			errs = append(errs, fmt.Errorf("failed to delete object %s: %w", obj.Key, err))
		}
	}
	return errors.Join(errs...)
}

// Usage counts the objects under the prefix.
func (s *MinioStore) Usage(ctx context.Context) (Usage, error) {
	var u Usage
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: s.prefix, Recursive: true}) {
		if obj.Err != nil {
			return Usage{}, fmt.Errorf("failed to list bucket %s: %w", s.bucket, obj.Err)
		}
		u.Files++
		u.Bytes += obj.Size
	}
	return u, nil
}

// Ping checks that the bucket is reachable.
func (s *MinioStore) Ping(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("minio unreachable: %w", err)
	}
	if !exists {
		return fmt.Errorf("minio bucket does not exist: %s", s.bucket)
	}
	return nil
}

func (s *MinioStore) key(name string) string {
	return s.prefix + name
}

func (s *MinioStore) wrap(name string, err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchObject":
		return ErrNotFound
	}
	return fmt.Errorf("failed to read object %s: %w", name, err)
}
