// Copyright The ikstorage Contributors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ikstorage/ikstorage/files"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setTestEnv(t *testing.T, staticDir string) {
	t.Setenv("IMAGEKIT_URL", "public_key:https://ik.imagekit.io/demo@private_key")
	t.Setenv("STATICFILES_DIRS", staticDir)
	t.Setenv("STATICFILES_STORAGE", "plain")
	t.Setenv("IMAGEKIT_STORAGE_CONFIG", "")
}

func TestFindStatic(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "css"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "css", "site.css"), []byte("a{}"), 0o644))
	setTestEnv(t, dir)

	var out bytes.Buffer
	cmd := findStaticCommand()
	cmd.Writer = &out

	require.NoError(t, cmd.Run(context.Background(), []string{"findstatic", "css/site.css", "css/missing.css"}))
	assert.Contains(t, out.String(), "Found 'css/site.css' here:\n  "+filepath.Join(dir, "css", "site.css"))
	assert.Contains(t, out.String(), "No matching file found for 'css/missing.css'.")
}

func TestFindStaticRequiresName(t *testing.T) {
	setTestEnv(t, t.TempDir())

	cmd := findStaticCommand()
	cmd.Writer = &bytes.Buffer{}
	assert.Error(t, cmd.Run(context.Background(), []string{"findstatic"}))
}

func TestNewStateSelectsStaticStorage(t *testing.T) {
	ctx := context.Background()
	setTestEnv(t, t.TempDir())

	s, err := newState(ctx)
	require.NoError(t, err)
	assert.IsType(t, &files.StaticStorage{}, s.static)

	t.Setenv("STATICFILES_STORAGE", "hashed")
	t.Setenv("IMAGEKIT_MANIFEST_BACKEND", "filesystem")
	t.Chdir(t.TempDir())

	s, err = newState(ctx)
	require.NoError(t, err)
	assert.IsType(t, &files.HashedStaticStorage{}, s.static)

	m, err := s.media(files.Video)
	require.NoError(t, err)
	assert.Equal(t, files.Video, m.ResourceType())
}

func TestNewStateRequiresCredentials(t *testing.T) {
	for _, k := range []string{"IMAGEKIT_URL", "IMAGEKIT_PRIVATE_KEY", "IMAGEKIT_PUBLIC_KEY", "IMAGEKIT_URL_ENDPOINT", "IMAGEKIT_STORAGE_CONFIG"} {
		t.Setenv(k, "")
	}

	_, err := newState(context.Background())
	assert.Error(t, err)
}

func TestAppRunsSubcommands(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.js"), []byte("var a;"), 0o644))
	setTestEnv(t, dir)

	var out, errOut bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &errOut

	err := app.Run(context.Background(), []string{"ikstorage", "--log-format", "text", "findstatic", "app.js"})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Found 'app.js' here:\n  "+filepath.Join(dir, "app.js"))

	err = newApp().Run(context.Background(), []string{"ikstorage", "url"})
	assert.ErrorContains(t, err, "accepts 1 arg(s), received 0")
}
