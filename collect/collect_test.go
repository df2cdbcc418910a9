// Copyright The ikstorage Contributors
// SPDX-License-Identifier: Apache-2.0

package collect

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/ikstorage/ikstorage/files"
	"github.com/ikstorage/ikstorage/finder"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStorage struct {
	mu    sync.Mutex
	saved map[string]string
}

func (m *memStorage) Name() string { return "memory" }

func (m *memStorage) Save(_ context.Context, name string, r io.Reader) (string, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saved == nil {
		m.saved = map[string]string{}
	}
	m.saved[name] = string(content)

	return name, nil
}

type processingStorage struct {
	memStorage
	names []string
	opts  files.PostProcessOptions
	err   error
}

func (p *processingStorage) PostProcess(_ context.Context, names []string, opts files.PostProcessOptions) ([]files.Processed, error) {
	p.names, p.opts = names, opts
	if p.err != nil || opts.DryRun {
		return nil, p.err
	}

	var out []files.Processed
	for _, n := range names {
		out = append(out, files.Processed{Name: n, HashedName: n, Processed: true})
	}
	return out, nil
}

func newTestSource(t *testing.T) *finder.Finder {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/static/css/site.css", []byte("css"), 0o644))
	require.NoError(t, afero.WriteFile(fsys, "/static/js/app.js", []byte("js"), 0o644))
	require.NoError(t, afero.WriteFile(fsys, "/static/.DS_Store", []byte("x"), 0o644))

	return finder.New(fsys, []string{"/static"})
}

func TestCollectCopiesToPlainStorage(t *testing.T) {
	s := &memStorage{}
	stats, err := New(newTestSource(t), s, Options{Workers: 2}).Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"css/site.css": "css", "js/app.js": "js"}, s.saved)
	assert.Equal(t, []string{"css/site.css", "js/app.js"}, stats.Copied)
	assert.Equal(t, "2 static files copied.", stats.String())
}

func TestCollectOnlyPostProcessesHashedStorage(t *testing.T) {
	s := &processingStorage{}
	stats, err := New(newTestSource(t), s, Options{Workers: 3}).Collect(context.Background())
	require.NoError(t, err)

	assert.Empty(t, s.saved)
	assert.Equal(t, []string{"css/site.css", "js/app.js"}, s.names)
	assert.Equal(t, 3, s.opts.Workers)
	assert.Equal(t, "0 static files copied, 2 post-processed.", stats.String())
}

func TestCollectUploadUnhashed(t *testing.T) {
	s := &processingStorage{}
	stats, err := New(newTestSource(t), s, Options{UploadUnhashed: true}).Collect(context.Background())
	require.NoError(t, err)

	assert.Len(t, s.saved, 2)
	assert.Equal(t, "2 static files copied, 2 post-processed.", stats.String())
}

func TestCollectDryRun(t *testing.T) {
	s := &processingStorage{}
	stats, err := New(newTestSource(t), s, Options{UploadUnhashed: true, DryRun: true}).Collect(context.Background())
	require.NoError(t, err)

	assert.Empty(t, s.saved)
	assert.True(t, s.opts.DryRun)
	assert.Equal(t, "2 static files copied.", stats.String())
}

func TestCollectPostProcessError(t *testing.T) {
	s := &processingStorage{err: files.ErrMaxPassesExceeded}
	_, err := New(newTestSource(t), s, Options{}).Collect(context.Background())
	assert.True(t, errors.Is(err, files.ErrMaxPassesExceeded))
}

func TestStatsString(t *testing.T) {
	s := &Stats{Copied: []string{"a"}}
	assert.Equal(t, "1 static file copied.", s.String())
}
