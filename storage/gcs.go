// Copyright The ikstorage Contributors
// SPDX-License-Identifier: Apache-2.0

// Google Cloud Storage backend.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"cloud.google.com/go/storage"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
)

// API scope needed for reading and writing objects
const gcsScope = "https://www.googleapis.com/auth/devstorage.read_write"

type GCSBackend struct {
	bucket string
	handle *storage.BucketHandle
}

// Constructs a new GCS bucket backend. Credentials are read from the
// service account key in GOOGLE_APPLICATION_CREDENTIALS if it is
// set, otherwise the application default credentials are used.
func NewGCSBackend(ctx context.Context, bucket string) (*GCSBackend, error) {
	if bucket == "" {
		return nil, fmt.Errorf("GCS_BUCKET must be configured for GCS usage")
	}

	opts, err := clientOptsFromEnv(ctx)
	if err != nil {
		log.WithError(err).Error("failed to configure GCS credentials")
		return nil, err
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		log.WithError(err).Error("failed to set up Cloud Storage client")
		return nil, err
	}

	handle := client.Bucket(bucket)

	if _, err := handle.Attrs(ctx); err != nil {
		log.WithError(err).WithField("bucket", bucket).Error("could not access configured bucket")
		return nil, err
	}

	return &GCSBackend{
		bucket: bucket,
		handle: handle,
	}, nil
}

func clientOptsFromEnv(ctx context.Context) ([]option.ClientOption, error) {
	path := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")
	if path == "" {
		return nil, nil
	}

	key, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read service account key: %s", err)
	}

	creds, err := google.CredentialsFromJSON(ctx, key, gcsScope)
	if err != nil {
		return nil, fmt.Errorf("failed to parse service account key: %s", err)
	}

	log.WithField("project", creds.ProjectID).Info("using GCS service account credentials")

	return []option.ClientOption{option.WithCredentials(creds)}, nil
}

func (b *GCSBackend) Name() string {
	return "Google Cloud Storage (" + b.bucket + ")"
}

func (b *GCSBackend) Persist(ctx context.Context, path, contentType string, f Persister) (string, int64, error) {
	// cancelling the context aborts the upload instead of
	// committing a partially written object
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	obj := b.handle.Object(path)
	w := obj.NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}

	hash, size, err := f(w)
	if err != nil {
		cancel()
		w.Close()
		log.WithError(err).WithField("path", path).Error("failed to upload to GCS")
		return hash, size, err
	}

	return hash, size, w.Close()
}

func (b *GCSBackend) Fetch(ctx context.Context, path string) (io.ReadCloser, error) {
	r, err := b.handle.Object(path).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: gs://%s/%s", ErrNotFound, b.bucket, path)
	}
	if err != nil {
		return nil, err
	}

	return r, nil
}

func (b *GCSBackend) Exists(ctx context.Context, path string) (bool, error) {
	_, err := b.handle.Object(path).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}

	return err == nil, err
}

func (b *GCSBackend) Delete(ctx context.Context, path string) error {
	err := b.handle.Object(path).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil
	}

	return err
}
