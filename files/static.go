// Copyright The ikstorage Contributors
// SPDX-License-Identifier: Apache-2.0

package files

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/ikstorage/ikstorage/config"
	"github.com/ikstorage/ikstorage/imagekit"
	"github.com/im7mortal/kmutex"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
)

// StaticStorage stores static files in ImageKit. Files are addressed
// by name and their URLs are derived from the name without an API
// call. Unchanged files are not uploaded again.
type StaticStorage struct {
	*MediaStorage

	staticURL string
	debug     bool
	images    []string
	videos    []string
	stripExts bool

	// serialises uploads of the same name
	locks *kmutex.Kmutex
}

var _ Storage = (*StaticStorage)(nil)

func NewStaticStorage(api API, cfg config.Config, opts ...Option) *StaticStorage {
	opts = append([]Option{
		WithResourceType(Raw),
		WithTag(cfg.StaticTag),
		WithPrefix(cfg.StaticURL),
	}, opts...)

	return &StaticStorage{
		MediaStorage: NewMediaStorage(api, cfg, opts...),
		staticURL:    cfg.StaticURL,
		debug:        cfg.Debug,
		images:       lo.Map(cfg.ImageExtensions, func(e string, _ int) string { return strings.ToLower(e) }),
		videos:       lo.Map(cfg.VideoExtensions, func(e string, _ int) string { return strings.ToLower(e) }),
		stripExts:    cfg.StripStaticExtensions,
		locks:        kmutex.New(),
	}
}

func (s *StaticStorage) Name() string {
	return fmt.Sprintf("ImageKit static storage (%s)", s.api.URLEndpoint())
}

// ResourceTypeOf returns the resource type of a static file, judged by
// its extension.
func (s *StaticStorage) ResourceTypeOf(name string) ResourceType {
	ext := extension(name)
	switch {
	case ext == "":
		return s.resourceType
	case lo.Contains(s.images, ext):
		return Image
	case lo.Contains(s.videos, ext):
		return Video
	default:
		return s.resourceType
	}
}

// uploadName is the ImageKit file name of a static file. Images and
// videos lose their extension unless extension stripping is disabled.
func (s *StaticStorage) uploadName(name string) string {
	base := path.Base(name)
	if !s.stripExts || s.ResourceTypeOf(name) == s.resourceType {
		return base
	}

	if ext := path.Ext(base); ext != base {
		return strings.TrimSuffix(base, ext)
	}
	return base
}

// stripPrefix removes a leading slash and the static prefix from name.
func (s *StaticStorage) stripPrefix(name string) string {
	name = strings.TrimLeft(CleanName(name), "/")
	if p := normalizePath(strings.TrimLeft(s.prefix, "/")); p != "" {
		name = strings.TrimPrefix(name, p)
	}
	return name
}

// remotePath returns the ImageKit file path of name, without leading
// slash.
func (s *StaticStorage) remotePath(name string) string {
	name = s.stripPrefix(name)
	return joinFolder(s.uploadPath(name), s.uploadName(name))
}

func (s *StaticStorage) remoteURL(name string) string {
	return strings.TrimRight(s.api.URLEndpoint(), "/") + "/" + escapePath(s.remotePath(name))
}

// URL returns the delivery URL of the static file name. Query and
// fragment of name are kept. In debug mode files are served from the
// static URL instead.
func (s *StaticStorage) URL(_ context.Context, name string) (string, error) {
	if s.debug {
		return s.staticURL + name, nil
	}

	p, query, fragment := splitName(name)

	var u string
	if strings.HasSuffix(p, "/") {
		folder := joinFolder(s.rootFolder(), s.tag, s.stripPrefix(p))
		u = strings.TrimRight(s.api.URLEndpoint(), "/") + "/" + escapePath(normalizePath(folder))
	} else {
		u = s.remoteURL(p)
	}

	return joinName(u, query, fragment, strings.Contains(name, "?#")), nil
}

func (s *StaticStorage) Exists(ctx context.Context, name string) (bool, error) {
	return exists(ctx, s.api, s.remoteURL(name))
}

func (s *StaticStorage) Size(ctx context.Context, name string) (int64, error) {
	return size(ctx, s.api, s.remoteURL(name))
}

func (s *StaticStorage) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	return open(ctx, s.api, name, s.remoteURL(name))
}

// existsWithETag reports whether the remote copy of name has the same
// content hash as content.
func (s *StaticStorage) existsWithETag(ctx context.Context, name string, content []byte) (bool, error) {
	u := s.remoteURL(name)

	status, h, err := head(ctx, s.api, u)
	if err != nil {
		return false, err
	}

	if status < 200 || status >= 300 {
		return false, nil
	}

	etag := strings.Trim(strings.TrimPrefix(h.Get("ETag"), "W/"), `"`)
	if etag == "" {
		return false, nil
	}

	return strings.HasPrefix(etag, FileHash(content)), nil
}

// Save uploads content unless an identical copy is stored already
// and returns the prefixed name.
func (s *StaticStorage) Save(ctx context.Context, name string, content io.Reader) (string, error) {
	name = s.stripPrefix(name)

	data, err := io.ReadAll(content)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", name, err)
	}

	s.locks.Lock(name)
	defer s.locks.Unlock(name)

	same, err := s.existsWithETag(ctx, name, data)
	if err != nil {
		return "", err
	}

	if same {
		log.WithField("name", name).Debug("static file unchanged, skipping upload")
	} else if _, err := s.uploadFile(ctx, name, s.uploadName(name), bytes.NewReader(data)); err != nil {
		return "", err
	}

	return prependPrefix(s.prefix, name), nil
}

// Delete removes the remote copy of name. Missing files are ignored.
func (s *StaticStorage) Delete(ctx context.Context, name string) error {
	target := "/" + s.remotePath(name)

	entries, err := s.api.ListFiles(ctx, imagekit.ListOptions{
		Type: "file",
		Path: path.Dir(target),
	})
	if err != nil {
		return fmt.Errorf("failed to look up %s: %w", name, err)
	}

	for _, e := range entries {
		if e.FilePath != target {
			continue
		}

		if err := s.api.DeleteFile(ctx, e.FileID); err != nil {
			return fmt.Errorf("failed to delete %s: %w", name, err)
		}
	}

	return nil
}

func (s *StaticStorage) ListDir(context.Context, string) ([]string, []string, error) {
	return nil, nil, ErrNotImplemented
}

// StoredName returns the name under which name is stored.
func (s *StaticStorage) StoredName(_ context.Context, name string) (string, error) {
	return prependPrefix(s.prefix, CleanName(name)), nil
}
