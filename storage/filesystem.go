// Copyright The ikstorage Contributors
// SPDX-License-Identifier: Apache-2.0

// Filesystem storage backend.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

type FSBackend struct {
	fs   afero.Fs
	path string
}

// NewFSBackend creates a backend rooted at the given directory of
// the local filesystem, creating it if necessary.
func NewFSBackend(p string) (*FSBackend, error) {
	return NewFSBackendWithFs(afero.NewOsFs(), p)
}

func NewFSBackendWithFs(fs afero.Fs, p string) (*FSBackend, error) {
	if p == "" {
		return nil, fmt.Errorf("a storage path must be set for filesystem storage")
	}

	p = path.Clean(p)
	err := fs.MkdirAll(p, 0755)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage dir: %s", err)
	}

	return &FSBackend{fs: fs, path: p}, nil
}

func (b *FSBackend) Name() string {
	return fmt.Sprintf("Filesystem (%s)", b.path)
}

func (b *FSBackend) Persist(ctx context.Context, key, contentType string, f Persister) (string, int64, error) {
	full := path.Join(b.path, key)
	dir := path.Dir(full)
	err := b.fs.MkdirAll(dir, 0755)
	if err != nil {
		log.WithError(err).WithField("path", dir).Error("failed to create storage directory")
		return "", 0, err
	}

	file, err := b.fs.OpenFile(full, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		log.WithError(err).WithField("file", full).Error("failed to write file")
		return "", 0, err
	}
	defer file.Close()

	return f(file)
}

func (b *FSBackend) Fetch(ctx context.Context, key string) (io.ReadCloser, error) {
	full := path.Join(b.path, key)
	f, err := b.fs.Open(full)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, full)
	}
	if err != nil {
		return nil, err
	}

	return f, nil
}

func (b *FSBackend) Exists(ctx context.Context, key string) (bool, error) {
	return afero.Exists(b.fs, path.Join(b.path, key))
}

func (b *FSBackend) Delete(ctx context.Context, key string) error {
	err := b.fs.Remove(path.Join(b.path, key))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}

	return err
}
