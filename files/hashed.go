// Copyright The ikstorage Contributors
// SPDX-License-Identifier: Apache-2.0

package files

import (
	"context"
	"fmt"
	"io"
	"maps"
	"path"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ikstorage/ikstorage/config"
	"github.com/ikstorage/ikstorage/manifest"
)

// Sources gives access to the local copies of static files.
type Sources interface {
	Open(name string) (io.ReadCloser, error)
}

// hasher is implemented by sources that can hash files themselves,
// for example to use a cache.
type hasher interface {
	FileHash(name string) (string, error)
}

// HashedStaticStorage is a static storage that stores files under
// names containing a hash of their content. The mapping from names to
// hashed names is kept in a manifest.
type HashedStaticStorage struct {
	*StaticStorage

	sources  Sources
	manifest *manifest.Store
	strict   bool

	mu     sync.RWMutex
	hashed map[string]string
	loaded bool

	// set while post-processing, when every file is uploaded
	skipExists atomic.Bool
}

var _ Storage = (*HashedStaticStorage)(nil)

func NewHashedStaticStorage(api API, cfg config.Config, sources Sources, store *manifest.Store, opts ...Option) *HashedStaticStorage {
	return &HashedStaticStorage{
		StaticStorage: NewStaticStorage(api, cfg, opts...),
		sources:       sources,
		manifest:      store,
		strict:        cfg.ManifestStrict,
	}
}

func (s *HashedStaticStorage) Name() string {
	return fmt.Sprintf("ImageKit hashed static storage (%s)", s.api.URLEndpoint())
}

// sourceHash hashes the local copy of name.
func (s *HashedStaticStorage) sourceHash(name string) (string, error) {
	if h, ok := s.sources.(hasher); ok {
		hash, err := h.FileHash(name)
		if err != nil {
			return "", fmt.Errorf("the file '%s' could not be found with %s: %w", name, s.Name(), err)
		}
		return hash, nil
	}

	r, err := s.sources.Open(name)
	if err != nil {
		return "", fmt.Errorf("the file '%s' could not be found with %s: %w", name, s.Name(), err)
	}
	defer r.Close()

	content, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}

	return FileHash(content), nil
}

// HashedName returns name with the hash of content inserted before
// the extension. A nil content hashes the local copy of the file
// instead. Query and fragment of name are kept.
func (s *HashedStaticStorage) HashedName(name string, content []byte) (string, error) {
	p, query, fragment := splitName(name)
	clean := strings.TrimSpace(p)

	var hash string
	if content == nil {
		h, err := s.sourceHash(clean)
		if err != nil {
			return "", err
		}
		hash = h
	} else {
		hash = FileHash(content)
	}

	dir, file := path.Split(clean)
	ext := path.Ext(file)
	root := strings.TrimSuffix(file, ext)
	if root == "" {
		root, ext = file, ""
	}

	hashed := dir + root + "." + hash + ext
	return joinName(hashed, query, fragment, strings.Contains(name, "?#")), nil
}

// LoadManifest reads the manifest, replacing the known hashed names.
func (s *HashedStaticStorage) LoadManifest(ctx context.Context) error {
	paths, err := s.manifest.Load(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.hashed = paths
	s.loaded = true
	s.mu.Unlock()

	return nil
}

func (s *HashedStaticStorage) ensureLoaded(ctx context.Context) error {
	s.mu.RLock()
	loaded := s.loaded
	s.mu.RUnlock()

	if loaded {
		return nil
	}
	return s.LoadManifest(ctx)
}

// ReadManifest returns the raw manifest, or nil if there is none.
func (s *HashedStaticStorage) ReadManifest(ctx context.Context) ([]byte, error) {
	return s.manifest.Read(ctx)
}

// SaveManifest writes the known hashed names to the manifest.
func (s *HashedStaticStorage) SaveManifest(ctx context.Context) error {
	s.mu.RLock()
	paths := maps.Clone(s.hashed)
	s.mu.RUnlock()

	if paths == nil {
		paths = map[string]string{}
	}

	return s.manifest.Save(ctx, paths)
}

// HashedFiles returns a copy of the known hashed names.
func (s *HashedStaticStorage) HashedFiles() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return maps.Clone(s.hashed)
}

// StoredName returns the hashed name of name as recorded in the
// manifest. Unknown names are an error in strict mode and hashed from
// their local copy otherwise.
func (s *HashedStaticStorage) StoredName(ctx context.Context, name string) (string, error) {
	if err := s.ensureLoaded(ctx); err != nil {
		return "", err
	}

	p, query, fragment := splitName(name)
	clean := CleanName(strings.TrimSpace(p))

	s.mu.RLock()
	stored, ok := s.hashed[clean]
	s.mu.RUnlock()

	if !ok {
		if s.strict {
			return "", fmt.Errorf("%w for '%s'", ErrMissingManifestEntry, clean)
		}

		h, err := s.HashedName(clean, nil)
		if err != nil {
			return "", err
		}
		stored = CleanName(h)
	}

	return joinName(stored, query, fragment, strings.Contains(name, "?#")), nil
}

// URL returns the delivery URL of the hashed copy of name. Directory
// names ending in a slash are not hashed. In debug mode the unhashed
// static URL is returned.
func (s *HashedStaticStorage) URL(ctx context.Context, name string) (string, error) {
	if s.debug {
		return s.StaticStorage.URL(ctx, name)
	}

	p, _, _ := splitName(name)
	if strings.HasSuffix(p, "/") {
		return s.StaticStorage.URL(ctx, name)
	}

	stored, err := s.StoredName(ctx, name)
	if err != nil {
		return "", err
	}

	return s.StaticStorage.URL(ctx, stored)
}

// Exists always reports false while post-processing.
func (s *HashedStaticStorage) Exists(ctx context.Context, name string) (bool, error) {
	if s.skipExists.Load() {
		return false, nil
	}
	return s.StaticStorage.Exists(ctx, name)
}
