// Copyright The ikstorage Contributors
// SPDX-License-Identifier: Apache-2.0

package files

import (
	"context"
	"time"

	"github.com/maypok86/otter"
	"golang.org/x/sync/singleflight"
)

const (
	detailsCacheSize = 10_000
	detailsCacheTTL  = 5 * time.Minute
)

// detailsCache caches the delivery URLs of media files by file ID.
// Concurrent lookups of the same ID share one API request.
type detailsCache struct {
	api   API
	urls  otter.Cache[string, string]
	group singleflight.Group
}

func newDetailsCache(api API) *detailsCache {
	urls, err := otter.MustBuilder[string, string](detailsCacheSize).
		WithTTL(detailsCacheTTL).
		Build()
	if err != nil {
		panic(err)
	}

	return &detailsCache{api: api, urls: urls}
}

func (c *detailsCache) url(ctx context.Context, fileID string) (string, error) {
	if u, ok := c.urls.Get(fileID); ok {
		return u, nil
	}

	// The shared request outlives callers that give up waiting.
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(fileID, func() (any, error) {
		f, err := c.api.FileDetails(shared, fileID)
		if err != nil {
			return "", err
		}

		c.urls.Set(fileID, f.URL)
		return f.URL, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (c *detailsCache) set(fileID, url string) {
	if fileID != "" && url != "" {
		c.urls.Set(fileID, url)
	}
}

func (c *detailsCache) forget(fileID string) {
	c.urls.Delete(fileID)
}
