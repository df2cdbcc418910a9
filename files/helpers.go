// Copyright The ikstorage Contributors
// SPDX-License-Identifier: Apache-2.0

package files

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/ikstorage/ikstorage/imagekit"
	"github.com/samber/lo"
)

// UploadPath returns the ImageKit folder for a file called name:
// the root folder, the tag and the directory of name, joined.
func UploadPath(rootFolder, name, tag string) string {
	return joinFolder(rootFolder, tag, path.Dir(CleanName(name)))
}

// ResourcesQuery lists files matching opts. Type, sort order and file
// type default to all files in creation order.
func ResourcesQuery(ctx context.Context, api API, opts imagekit.ListOptions) ([]imagekit.File, error) {
	opts.Type = lo.CoalesceOrEmpty(opts.Type, "file")
	opts.Sort = lo.CoalesceOrEmpty(opts.Sort, "ASC_CREATED")
	opts.FileType = lo.CoalesceOrEmpty(opts.FileType, "all")

	return api.ListFiles(ctx, opts)
}

// Resources returns the URLs of all files below folder.
func Resources(ctx context.Context, api API, folder string) ([]string, error) {
	files, err := ResourcesQuery(ctx, api, imagekit.ListOptions{Path: folder})
	if err != nil {
		return nil, err
	}

	return lo.Map(files, func(f imagekit.File, _ int) string { return f.URL }), nil
}

// FileNameFromURL returns the path segment at index of the part of u
// following the URL endpoint. Negative indices count from the end.
func FileNameFromURL(endpoint, u string, index int) (string, error) {
	_, rest, ok := strings.Cut(u, endpoint)
	if !ok {
		return "", fmt.Errorf("%s is not below the URL endpoint %s", u, endpoint)
	}

	parts := strings.Split(rest, "/")
	if index < 0 {
		index += len(parts)
	}
	if index < 0 || index >= len(parts) {
		return "", fmt.Errorf("no path segment %d in %s", index, u)
	}

	return parts[index], nil
}

// PathFromURL returns the folder of a file URL relative to the URL
// endpoint.
func PathFromURL(endpoint, u string) (string, error) {
	name, err := FileNameFromURL(endpoint, u, -1)
	if err != nil {
		return "", err
	}

	_, rest, _ := strings.Cut(u, endpoint)
	return strings.Trim(strings.TrimSuffix(rest, name), "/"), nil
}
