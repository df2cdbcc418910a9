// Copyright The ikstorage Contributors
// SPDX-License-Identifier: Apache-2.0

package files

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/ikstorage/ikstorage/config"
	"github.com/ikstorage/ikstorage/imagekit"
	"github.com/samber/lo"
)

// Option customises a storage at construction time.
type Option func(*MediaStorage)

// WithTag sets the folder below the root folder that files are
// uploaded to.
func WithTag(tag string) Option {
	return func(m *MediaStorage) { m.tag = strings.Trim(tag, "/") }
}

func WithResourceType(rt ResourceType) Option {
	return func(m *MediaStorage) { m.resourceType = rt }
}

// WithRootFolder overrides the folder of the configured upload
// options.
func WithRootFolder(folder string) Option {
	return func(m *MediaStorage) { m.upload.Folder = folder }
}

// WithPrefix sets the prefix of the names returned by the storage.
func WithPrefix(prefix string) Option {
	return func(m *MediaStorage) { m.prefix = prefix }
}

// MediaStorage stores user uploaded files in ImageKit. Saved files are
// identified by their ImageKit file ID.
type MediaStorage struct {
	api          API
	resourceType ResourceType
	tag          string
	prefix       string
	upload       imagekit.UploadOptions
	details      *detailsCache
}

var _ Storage = (*MediaStorage)(nil)

func NewMediaStorage(api API, cfg config.Config, opts ...Option) *MediaStorage {
	m := &MediaStorage{
		api:          api,
		resourceType: Image,
		tag:          cfg.MediaTag,
		prefix:       cfg.Prefix,
		upload:       cfg.UploadOptions,
		details:      newDetailsCache(api),
	}

	for _, o := range opts {
		o(m)
	}

	return m
}

func NewRawMediaStorage(api API, cfg config.Config, opts ...Option) *MediaStorage {
	return NewMediaStorage(api, cfg, append([]Option{WithResourceType(Raw)}, opts...)...)
}

func NewVideoMediaStorage(api API, cfg config.Config, opts ...Option) *MediaStorage {
	return NewMediaStorage(api, cfg, append([]Option{WithResourceType(Video)}, opts...)...)
}

// StorageForType returns a media storage for the given resource type.
func StorageForType(api API, cfg config.Config, rt ResourceType) (*MediaStorage, error) {
	switch rt {
	case Image:
		return NewMediaStorage(api, cfg), nil
	case Raw:
		return NewRawMediaStorage(api, cfg), nil
	case Video:
		return NewVideoMediaStorage(api, cfg), nil
	default:
		return nil, fmt.Errorf("unknown resource type %q", rt)
	}
}

func (m *MediaStorage) Name() string {
	return fmt.Sprintf("ImageKit %s storage (%s)", m.resourceType, m.api.URLEndpoint())
}

func (m *MediaStorage) ResourceType() ResourceType {
	return m.resourceType
}

func (m *MediaStorage) rootFolder() string {
	return strings.Trim(m.upload.Folder, "/")
}

// uploadPath returns the ImageKit folder, without leading slash, that
// a file called name is uploaded to.
func (m *MediaStorage) uploadPath(name string) string {
	return UploadPath(m.rootFolder(), name, m.tag)
}

// uploadFile uploads r into the folder for name as fileName. The
// configured upload options are copied, never modified.
func (m *MediaStorage) uploadFile(ctx context.Context, name, fileName string, r io.Reader) (*imagekit.File, error) {
	opts := m.upload
	opts.Folder = "/" + m.uploadPath(name)

	f, err := m.api.Upload(ctx, r, fileName, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to upload %s: %w", name, err)
	}

	return f, nil
}

// Save uploads content under the prefixed name and returns the
// ImageKit file ID of the new file, or the prefixed name if ImageKit
// did not return an ID.
func (m *MediaStorage) Save(ctx context.Context, name string, content io.Reader) (string, error) {
	name = CleanName(name)
	fileName := prependPrefix(m.prefix, name)

	f, err := m.uploadFile(ctx, name, fileName, content)
	if err != nil {
		return "", err
	}

	if f.FileID == "" {
		return fileName, nil
	}

	m.details.set(f.FileID, f.URL)
	return f.FileID, nil
}

// Delete removes the file with the given ID.
func (m *MediaStorage) Delete(ctx context.Context, name string) error {
	m.details.forget(name)
	return m.api.DeleteFile(ctx, name)
}

// URL returns the delivery URL of the file with the given ID. Names
// that ImageKit does not know as file IDs are returned as URLs, joined
// to the URL endpoint unless they are absolute already.
func (m *MediaStorage) URL(ctx context.Context, name string) (string, error) {
	u, err := m.details.url(ctx, name)
	if err == nil {
		return u, nil
	}

	if !imagekit.IsBadRequest(err) && !imagekit.IsNotFound(err) {
		return "", err
	}

	if hasScheme(name) || strings.HasPrefix(name, "//") {
		return name, nil
	}

	return strings.TrimRight(m.api.URLEndpoint(), "/") + "/" + strings.TrimLeft(name, "/"), nil
}

func (m *MediaStorage) Exists(ctx context.Context, name string) (bool, error) {
	u, err := m.URL(ctx, name)
	if err != nil {
		return false, err
	}
	return exists(ctx, m.api, u)
}

func (m *MediaStorage) Size(ctx context.Context, name string) (int64, error) {
	u, err := m.URL(ctx, name)
	if err != nil {
		return -1, err
	}
	return size(ctx, m.api, u)
}

func (m *MediaStorage) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	u, err := m.URL(ctx, name)
	if err != nil {
		return nil, err
	}
	return open(ctx, m.api, name, u)
}

func (m *MediaStorage) GetAvailableName(name string, maxLength int) string {
	return getAvailableName(name, maxLength)
}

// ListDir lists the folders and files directly below p in the upload
// folder of the storage.
func (m *MediaStorage) ListDir(ctx context.Context, p string) ([]string, []string, error) {
	folder := joinFolder(m.rootFolder(), m.tag, CleanName(p))

	entries, err := m.api.ListFiles(ctx, imagekit.ListOptions{
		Type:     "all",
		Sort:     "ASC_CREATED",
		Path:     "/" + folder,
		FileType: "all",
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list %s: %w", p, err)
	}

	var dirs, names []string
	base := normalizePath("/" + folder)
	for _, e := range entries {
		entryPath := e.FilePath
		if e.IsFolder() {
			entryPath = normalizePath(e.FolderPath)
		}

		rel, ok := strings.CutPrefix(entryPath, base)
		if !ok || rel == "" {
			continue
		}

		if dir, _, nested := strings.Cut(rel, "/"); nested {
			dirs = append(dirs, dir)
		} else {
			names = append(names, rel)
		}
	}

	dirs = lo.Uniq(dirs)
	sort.Strings(dirs)
	sort.Strings(names)

	return dirs, names, nil
}
