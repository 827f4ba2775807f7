package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSStore stores blobs in a Google Cloud Storage bucket.
type GCSStore struct {
	client    *gcs.Client
	bucket    string
	cdnDomain string
}

func NewGCSStore(ctx context.Context, bucket, cdnDomain string) (*GCSStore, error) {
	if bucket == "" {
		return nil, errors.New("storage: bucket name is required")
	}
	client, err := gcs.NewClient(ctx, option.WithScopes(gcs.ScopeReadWrite))
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket, cdnDomain: cdnDomain}, nil
}

func (s *GCSStore) Put(ctx context.Context, path string, data []byte, contentType string) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(path).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return fmt.Errorf("write object %q: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close writer for %q: %w", path, err)
	}
	return nil
}

func (s *GCSStore) Get(ctx context.Context, path string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	r, err := s.client.Bucket(s.bucket).Object(path).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open reader for %q: %w", path, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read object %q: %w", path, err)
	}
	return data, nil
}

func (s *GCSStore) Delete(ctx context.Context, paths []string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var firstErr error
	for _, p := range paths {
		if err := s.client.Bucket(s.bucket).Object(p).Delete(ctx); err != nil {
			if errors.Is(err, gcs.ErrObjectNotExist) {
				continue
			}
			if firstErr == nil {
				firstErr = fmt.Errorf("delete object %q: %w", p, err)
			}
		}
	}
	return firstErr
}

func (s *GCSStore) List(ctx context.Context, prefix string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	it := s.client.Bucket(s.bucket).Objects(ctx, &gcs.Query{Prefix: prefix})
	var keys []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list prefix %q: %w", prefix, err)
		}
		keys = append(keys, attrs.Name)
	}
	return keys, nil
}

func (s *GCSStore) PublicURL(path string) string {
	if s.cdnDomain != "" {
		return fmt.Sprintf("https://%s/%s", s.cdnDomain, path)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.bucket, path)
}

func (s *GCSStore) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err := s.client.Bucket(s.bucket).Attrs(ctx)
	return err
}
