// Copyright The ikstorage Contributors
// SPDX-License-Identifier: Apache-2.0

// Package files implements file storages on top of ImageKit: a media
// storage addressing files by their ImageKit file ID, a static storage
// addressing files by name, and a hashed static storage that
// fingerprints file names and records them in a manifest.
package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/ikstorage/ikstorage/imagekit"
)

var (
	ErrNotExist             = errors.New("file does not exist")
	ErrNotImplemented       = errors.New("operation not supported by this storage")
	ErrMissingManifestEntry = errors.New("missing staticfiles manifest entry")
)

// ResourceType is the kind of asset a storage uploads.
type ResourceType string

const (
	Image ResourceType = "image"
	Raw   ResourceType = "raw"
	Video ResourceType = "video"
)

// Storage is the file storage contract shared by all ImageKit
// storages.
type Storage interface {
	Name() string
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	// Save stores content under name and returns the name that
	// identifies the stored file from then on.
	Save(ctx context.Context, name string, content io.Reader) (string, error)
	Delete(ctx context.Context, name string) error
	Exists(ctx context.Context, name string) (bool, error)
	// Size returns the size in bytes, or -1 if it is unknown.
	Size(ctx context.Context, name string) (int64, error)
	URL(ctx context.Context, name string) (string, error)
	ListDir(ctx context.Context, path string) (dirs, files []string, err error)
	GetAvailableName(name string, maxLength int) string
}

// API is the part of the ImageKit client used by the storages.
type API interface {
	Upload(ctx context.Context, r io.Reader, fileName string, opts imagekit.UploadOptions) (*imagekit.File, error)
	DeleteFile(ctx context.Context, fileID string) error
	FileDetails(ctx context.Context, fileID string) (*imagekit.File, error)
	ListFiles(ctx context.Context, opts imagekit.ListOptions) ([]imagekit.File, error)
	Head(ctx context.Context, url string) (*http.Response, error)
	Get(ctx context.Context, url string) (io.ReadCloser, error)
	URLEndpoint() string
}

var _ API = (*imagekit.Client)(nil)

// head issues a HEAD request and returns the status code and headers.
func head(ctx context.Context, api API, u string) (int, http.Header, error) {
	resp, err := api.Head(ctx, u)
	if err != nil {
		return 0, nil, err
	}
	resp.Body.Close()

	return resp.StatusCode, resp.Header, nil
}

func exists(ctx context.Context, api API, u string) (bool, error) {
	status, _, err := head(ctx, api, u)
	if err != nil {
		return false, err
	}

	switch {
	case status == http.StatusNotFound:
		return false, nil
	case status >= 200 && status < 300:
		return true, nil
	default:
		return false, fmt.Errorf("unexpected status %d for %s", status, u)
	}
}

func size(ctx context.Context, api API, u string) (int64, error) {
	status, h, err := head(ctx, api, u)
	if err != nil {
		return -1, err
	}

	if status != http.StatusOK {
		return -1, nil
	}

	n, err := strconv.ParseInt(h.Get("Content-Length"), 10, 64)
	if err != nil {
		return -1, nil
	}

	return n, nil
}

func open(ctx context.Context, api API, name, u string) (io.ReadCloser, error) {
	r, err := api.Get(ctx, u)
	if imagekit.IsNotFound(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotExist, name)
	}

	return r, err
}

// getAvailableName returns name, truncated to maxLength if that is
// positive. ImageKit overwrites existing files, so names never need
// to be made unique.
func getAvailableName(name string, maxLength int) string {
	if maxLength > 0 && len(name) > maxLength {
		return name[:maxLength]
	}
	return name
}
