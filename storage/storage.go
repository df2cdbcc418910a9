// Copyright The ikstorage Contributors
// SPDX-License-Identifier: Apache-2.0

// Package storage implements an interface that can be implemented by
// the backends keeping the staticfiles manifest, such as the local
// filesystem, Google Cloud Storage or AWS S3.
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by Fetch when the requested object does
// not exist.
var ErrNotFound = errors.New("object not found")

type Persister = func(io.Writer) (string, int64, error)

type Backend interface {
	// Name returns the name of the storage backend, for use in
	// log messages and such.
	Name() string

	// Persist provides a user-supplied function with a writer
	// that stores data in the storage backend.
	//
	// The function returns the hash of the data written as well
	// as the total number of bytes, which are passed through to
	// the caller.
	Persist(ctx context.Context, path, contentType string, f Persister) (string, int64, error)

	// Fetch retrieves data from the storage backend.
	Fetch(ctx context.Context, path string) (io.ReadCloser, error)

	// Exists reports whether path is present in the backend.
	Exists(ctx context.Context, path string) (bool, error)

	// Delete removes path. Deleting a missing path is not an
	// error.
	Delete(ctx context.Context, path string) error
}
