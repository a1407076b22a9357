package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
)

// ErrObjectNotFound is returned by Read when the object does not exist.
var ErrObjectNotFound = errors.New("storage: object not found")

// BlobStore persists immutable asset bytes in a Cloud Storage bucket.
type BlobStore struct {
	client *storage.Client
	bucket string
}

// NewBlobStore constructs a BlobStore bound to the given bucket.
func NewBlobStore(client *storage.Client, bucket string) (*BlobStore, error) {
	if client == nil {
		return nil, errors.New("storage: client is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("storage: bucket name is required")
	}
	return &BlobStore{client: client, bucket: bucket}, nil
}

// Write stores the payload under the object path. The write is atomic: a
// failed or cancelled write leaves no partial object behind.
func (s *BlobStore) Write(ctx context.Context, path string, data []byte, contentType string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return errors.New("storage: object path is required")
	}

	w := s.client.Bucket(s.bucket).Object(path).NewWriter(ctx)
	if ct := strings.TrimSpace(contentType); ct != "" {
		w.ContentType = ct
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("storage: write %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("storage: commit %s: %w", path, err)
	}
	return nil
}

// Read fetches the full object payload.
func (s *BlobStore) Read(ctx context.Context, path string) ([]byte, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("storage: object path is required")
	}

	r, err := s.client.Bucket(s.bucket).Object(path).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, ErrObjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", path, err)
	}
	return data, nil
}

// Delete removes the object. Deleting a missing object is not an error.
func (s *BlobStore) Delete(ctx context.Context, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}

	err := s.client.Bucket(s.bucket).Object(path).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("storage: delete %s: %w", path, err)
	}
	return nil
}
