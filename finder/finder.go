// Copyright The ikstorage Contributors
// SPDX-License-Identifier: Apache-2.0

// Package finder locates static files in the configured static
// directories.
package finder

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ikstorage/ikstorage/files"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// IgnorePatterns are matched against file and directory names; matches
// are never collected.
var IgnorePatterns = []string{"CVS", ".*", "*~"}

// File is a static file found in one of the static directories.
type File struct {
	Name string // Slash-separated name relative to the static directory
	Path string // Location on the filesystem
}

// Finder looks up static files in a list of directories. Earlier
// directories take precedence.
type Finder struct {
	fs    afero.Fs
	dirs  []string
	cache *HashCache
}

func New(fsys afero.Fs, dirs []string) *Finder {
	f := &Finder{fs: fsys, dirs: dirs}
	if _, ok := fsys.(*afero.OsFs); ok {
		f.cache = &HashCache{}
	}
	return f
}

// Dirs returns the static directories searched by the finder.
func (f *Finder) Dirs() []string {
	return f.dirs
}

func ignored(name string) bool {
	for _, p := range IgnorePatterns {
		if ok, _ := path.Match(p, name); ok {
			return true
		}
	}
	return false
}

// Find returns the location of the first file called name.
func (f *Finder) Find(name string) (string, error) {
	clean := path.Clean(files.CleanName(name))
	if clean == "." || path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("invalid static file name %q: %w", name, fs.ErrInvalid)
	}

	for _, dir := range f.dirs {
		p := filepath.Join(dir, filepath.FromSlash(clean))

		info, err := f.fs.Stat(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", err
		}
		if !info.IsDir() {
			return p, nil
		}
	}

	return "", fmt.Errorf("static file %s: %w", name, fs.ErrNotExist)
}

// Open opens the first file called name.
func (f *Finder) Open(name string) (io.ReadCloser, error) {
	p, err := f.Find(name)
	if err != nil {
		return nil, err
	}

	return f.fs.Open(p)
}

// List returns every static file, sorted by name. Files shadowed by
// a file of the same name in an earlier directory are left out.
func (f *Finder) List() ([]File, error) {
	seen := map[string]bool{}
	var found []File

	for _, dir := range f.dirs {
		err := afero.Walk(f.fs, dir, func(p string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}

			if p != dir && ignored(info.Name()) {
				if info.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if info.IsDir() {
				return nil
			}

			rel, err := filepath.Rel(dir, p)
			if err != nil {
				return err
			}

			name := filepath.ToSlash(rel)
			if seen[name] {
				log.WithFields(log.Fields{
					"name": name,
					"path": p,
				}).Debug("static file shadowed by earlier directory")
				return nil
			}

			seen[name] = true
			found = append(found, File{Name: name, Path: p})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list static files in %s: %w", dir, err)
		}
	}

	sort.Slice(found, func(i, j int) bool { return found[i].Name < found[j].Name })
	return found, nil
}

// FileHash returns the content hash of the first file called name.
// On the OS filesystem hashes are cached in extended attributes.
func (f *Finder) FileHash(name string) (string, error) {
	p, err := f.Find(name)
	if err != nil {
		return "", err
	}

	var info os.FileInfo
	if f.cache != nil {
		if info, err = f.fs.Stat(p); err == nil {
			if h, ok := f.cache.Get(p, info); ok {
				return h, nil
			}
		}
	}

	content, err := afero.ReadFile(f.fs, p)
	if err != nil {
		return "", err
	}

	h := files.FileHash(content)
	if f.cache != nil && info != nil {
		f.cache.Set(p, info, h)
	}

	return h, nil
}
