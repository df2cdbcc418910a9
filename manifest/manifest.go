// Copyright The ikstorage Contributors
// SPDX-License-Identifier: Apache-2.0

// Package manifest implements the staticfiles manifest, a JSON
// document mapping the original names of static files to their
// content-hashed names, and its persistence in a storage backend.
package manifest

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sort"
	"strings"

	"github.com/ikstorage/ikstorage/storage"
	log "github.com/sirupsen/logrus"
)

const (
	// Version written into new manifests.
	Version = "1.1"

	contentType = "application/json"
)

// ErrUnsupportedVersion is returned when a manifest was written by
// an incompatible version.
var ErrUnsupportedVersion = errors.New("unsupported manifest version")

// Manifest is the serialised form of the manifest.
type Manifest struct {
	Paths   map[string]string `json:"paths"`
	Version string            `json:"version"`
	Hash    string            `json:"hash"`
}

// New creates a manifest for the given paths.
func New(paths map[string]string) Manifest {
	if paths == nil {
		paths = map[string]string{}
	}

	return Manifest{
		Paths:   paths,
		Version: Version,
		Hash:    Hash(paths),
	}
}

// Hash identifies the full set of hashed paths. It changes whenever
// any file changes, which makes it usable as a cache key for the
// whole static file set.
func Hash(paths map[string]string) string {
	keys := make([]string, 0, len(paths))
	for k := range paths {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([][2]string, len(keys))
	for i, k := range keys {
		pairs[i] = [2]string{k, paths[k]}
	}

	j, _ := json.Marshal(pairs)
	return fmt.Sprintf("%x", md5.Sum(j))[:12]
}

// Parse decodes a manifest and returns its paths. Empty input yields
// an empty map.
func Parse(data []byte) (map[string]string, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return map[string]string{}, nil
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("couldn't load manifest: %w", err)
	}

	switch m.Version {
	case "1.0", "1.1":
	default:
		return nil, fmt.Errorf("%w: couldn't load manifest (version %s)", ErrUnsupportedVersion, m.Version)
	}

	if m.Paths == nil {
		m.Paths = map[string]string{}
	}

	return m.Paths, nil
}

// AddUnixPathKeys adds a forward-slash variant for every key that
// uses Windows path separators, so lookups work with either form.
func AddUnixPathKeys(paths map[string]string) {
	for k, v := range paths {
		if strings.Contains(k, `\`) {
			paths[strings.ReplaceAll(k, `\`, "/")] = v
		}
	}
}

// Store reads and writes one manifest file in a storage backend.
type Store struct {
	backend storage.Backend
	name    string
}

func NewStore(backend storage.Backend, name string) *Store {
	return &Store{backend: backend, name: name}
}

func (s *Store) Name() string {
	return s.name
}

// Read returns the raw manifest, or nil if none has been saved yet.
func (s *Store) Read(ctx context.Context) ([]byte, error) {
	r, err := s.backend.Fetch(ctx, s.name)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer r.Close()

	return io.ReadAll(r)
}

// Load reads and parses the manifest.
func (s *Store) Load(ctx context.Context) (map[string]string, error) {
	data, err := s.Read(ctx)
	if err != nil {
		return nil, err
	}

	paths, err := Parse(data)
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"manifest": s.name,
			"backend":  s.backend.Name(),
		}).Error("failed to parse staticfiles manifest")

		return nil, err
	}

	return paths, nil
}

// Save replaces the manifest with one containing paths.
func (s *Store) Save(ctx context.Context, paths map[string]string) error {
	if runtime.GOOS == "windows" {
		AddUnixPathKeys(paths)
	}

	j, err := json.Marshal(New(paths))
	if err != nil {
		return err
	}

	exists, err := s.backend.Exists(ctx, s.name)
	if err != nil {
		return err
	}
	if exists {
		if err := s.backend.Delete(ctx, s.name); err != nil {
			return err
		}
	}

	_, size, err := s.backend.Persist(ctx, s.name, contentType, func(w io.Writer) (string, int64, error) {
		n, err := w.Write(j)
		return "", int64(n), err
	})
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"manifest": s.name,
			"backend":  s.backend.Name(),
		}).Error("failed to save staticfiles manifest")

		return err
	}

	log.WithFields(log.Fields{
		"manifest": s.name,
		"entries":  len(paths),
		"size":     size,
		"backend":  s.backend.Name(),
	}).Info("saved staticfiles manifest")

	return nil
}
