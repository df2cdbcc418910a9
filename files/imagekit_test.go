// Copyright The ikstorage Contributors
// SPDX-License-Identifier: Apache-2.0

package files

import (
	"crypto/md5"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/ikstorage/ikstorage/config"
	"github.com/ikstorage/ikstorage/imagekit"
)

// fakeImageKit is an in-memory stand-in for the ImageKit upload,
// management and delivery APIs.
type fakeImageKit struct {
	srv *httptest.Server

	mu      sync.Mutex
	files   map[string]*fakeFile // by file path
	nextID  int
	uploads []string // file paths, in upload order
	names   []string // requested file names, in upload order
}

type fakeFile struct {
	file    imagekit.File
	content []byte
}

func newFakeImageKit(t *testing.T) (*fakeImageKit, *imagekit.Client) {
	t.Helper()

	f := &fakeImageKit{files: map[string]*fakeFile{}}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/files/upload", f.handleUpload)
	mux.HandleFunc("/v1/files", f.handleList)
	mux.HandleFunc("/v1/files/", f.handleFile)
	mux.HandleFunc("/cdn/", f.handleDelivery)

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)

	c := imagekit.New("private_key", "public_key", f.srv.URL+"/cdn",
		imagekit.WithAPIEndpoint(f.srv.URL+"/v1"),
		imagekit.WithUploadEndpoint(f.srv.URL+"/api/v1"),
	)

	return f, c
}

func (f *fakeImageKit) endpoint() string {
	return f.srv.URL + "/cdn"
}

// put stores a file directly, bypassing the upload API.
func (f *fakeImageKit) put(filePath string, content []byte) imagekit.File {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.store(filePath, content)
}

func (f *fakeImageKit) store(filePath string, content []byte) imagekit.File {
	f.nextID++
	file := imagekit.File{
		Type:     "file",
		FileID:   fmt.Sprintf("file_%d", f.nextID),
		Name:     path.Base(filePath),
		FilePath: filePath,
		URL:      f.endpoint() + filePath,
		FileType: "non-image",
		Size:     int64(len(content)),
	}
	f.files[filePath] = &fakeFile{file: file, content: content}

	return file
}

func (f *fakeImageKit) uploaded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.uploads...)
}

func (f *fakeImageKit) uploadedNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.names...)
}

func (f *fakeImageKit) content(filePath string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ff, ok := f.files[filePath]
	if !ok {
		return "", false
	}
	return string(ff.content), true
}

func (f *fakeImageKit) byID(id string) (*fakeFile, bool) {
	for _, ff := range f.files {
		if ff.file.FileID == id {
			return ff, true
		}
	}
	return nil, false
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"message": message, "help": ""})
}

func (f *fakeImageKit) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing file parameter for upload")
		return
	}
	content, _ := io.ReadAll(file)

	// ImageKit replaces characters it does not allow in file names
	fileName := r.FormValue("fileName")
	folder := strings.Trim(r.FormValue("folder"), "/")
	filePath := "/" + strings.ReplaceAll(fileName, "/", "_")
	if folder != "" {
		filePath = "/" + folder + filePath
	}

	f.mu.Lock()
	stored := f.store(filePath, content)
	f.uploads = append(f.uploads, filePath)
	f.names = append(f.names, fileName)
	f.mu.Unlock()

	json.NewEncoder(w).Encode(stored)
}

func (f *fakeImageKit) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	prefix := strings.TrimRight(q.Get("path"), "/") + "/"

	f.mu.Lock()
	defer f.mu.Unlock()

	var out []imagekit.File
	folders := map[string]bool{}
	for p, ff := range f.files {
		rel, ok := strings.CutPrefix(p, prefix)
		if !ok {
			continue
		}
		out = append(out, ff.file)

		if dir, _, nested := strings.Cut(rel, "/"); nested && q.Get("type") == "all" {
			folders[dir] = true
		}
	}

	for dir := range folders {
		out = append(out, imagekit.File{Type: "folder", Name: dir, FolderPath: prefix + dir})
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].FilePath+out[i].FolderPath < out[j].FilePath+out[j].FolderPath
	})

	json.NewEncoder(w).Encode(out)
}

func (f *fakeImageKit) handleFile(w http.ResponseWriter, r *http.Request) {
	id, details := strings.CutSuffix(strings.TrimPrefix(r.URL.Path, "/v1/files/"), "/details")

	f.mu.Lock()
	defer f.mu.Unlock()

	ff, ok := f.byID(id)
	if !ok {
		if strings.HasPrefix(id, "file_") {
			writeError(w, http.StatusNotFound, "The requested file does not exist.")
		} else {
			writeError(w, http.StatusBadRequest, "Your request contains invalid fileId parameter.")
		}
		return
	}

	switch {
	case r.Method == http.MethodDelete && !details:
		delete(f.files, ff.file.FilePath)
		w.WriteHeader(http.StatusNoContent)
	case r.Method == http.MethodGet && details:
		json.NewEncoder(w).Encode(ff.file)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeImageKit) handleDelivery(w http.ResponseWriter, r *http.Request) {
	filePath := strings.TrimPrefix(r.URL.Path, "/cdn")

	f.mu.Lock()
	ff, ok := f.files[filePath]
	f.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("ETag", fmt.Sprintf(`"%x"`, md5.Sum(ff.content)))
	w.Header().Set("Content-Length", strconv.Itoa(len(ff.content)))
	if r.Method == http.MethodHead {
		return
	}
	w.Write(ff.content)
}

func testConfig() config.Config {
	opts := imagekit.DefaultUploadOptions()
	opts.Folder = "/root/"

	return config.Config{
		Prefix:                "/media/",
		UploadOptions:         opts,
		ImageExtensions:       []string{"png", "jpg", "svg"},
		VideoExtensions:       []string{"mp4", "webm"},
		StripStaticExtensions: true,
		InvalidVideoMessage:   "Please upload a valid video file.",
		StaticURL:             "/static/",
		MediaURL:              "/media/",
		ManifestName:          "staticfiles.json",
		ManifestStrict:        true,
		Workers:               2,
	}
}
