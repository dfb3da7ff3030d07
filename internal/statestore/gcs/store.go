// Package gcs persists the event state table as a single JSON object in
// Google Cloud Storage.
package gcs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"cloud.google.com/go/storage"

	"github.com/beaconaudit/beacon/internal/audit"
)

// Store reads and writes the whole table as one GCS object.
type Store struct {
	client *storage.Client
	bucket string
	object string
}

// New initializes a GCS client and verifies the bucket is reachable.
// Authentication uses Application Default Credentials.
func New(ctx context.Context, bucket, object string) (*Store, error) {
	if bucket == "" || object == "" {
		return nil, fmt.Errorf("bucket and object are required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	if _, err := client.Bucket(bucket).Attrs(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("get gcs bucket %q attributes: %w", bucket, err)
	}
	return &Store{
		client: client,
		bucket: bucket,
		object: object,
	}, nil
}

// LoadTable downloads and decodes the state object. Missing objects and
// decode failures are returned as errors; the gate fails open on them.
func (s *Store) LoadTable(ctx context.Context) (audit.EventStateTable, error) {
	rc, err := s.client.Bucket(s.bucket).Object(s.object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("open state object %s: %w", s.object, err)
	}
	defer func() {
		_ = rc.Close()
	}()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read state object %s: %w", s.object, err)
	}
	var table audit.EventStateTable
	if err := json.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("decode state object %s: %w", s.object, err)
	}
	return table, nil
}

// SaveTable encodes and uploads the whole table, replacing the object.
func (s *Store) SaveTable(ctx context.Context, table audit.EventStateTable) error {
	data, err := json.Marshal(table)
	if err != nil {
		return fmt.Errorf("encode state table: %w", err)
	}

	wc := s.client.Bucket(s.bucket).Object(s.object).NewWriter(ctx)
	wc.ContentType = "application/json"
	if _, err := wc.Write(data); err != nil {
		_ = wc.Close()
		return fmt.Errorf("write state object %s: %w", s.object, err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("close state object writer %s: %w", s.object, err)
	}
	return nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close gcs client: %w", err)
	}
	return nil
}
