// Copyright The ikstorage Contributors
// SPDX-License-Identifier: Apache-2.0

package imagekit

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	return New("private_key", "public_key", srv.URL,
		WithAPIEndpoint(srv.URL+"/v1"),
		WithUploadEndpoint(srv.URL+"/api/v1"),
	)
}

func TestUploadSendsMultipartForm(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "private_key", user)
		assert.Equal(t, "", pass)
		assert.Equal(t, "/api/v1/files/upload", r.URL.Path)

		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "style.css", r.FormValue("fileName"))
		assert.Equal(t, "/root/static/css", r.FormValue("folder"))
		assert.Equal(t, "a,b", r.FormValue("tags"))
		assert.Equal(t, "true", r.FormValue("overwriteFile"))
		assert.Equal(t, "false", r.FormValue("useUniqueFileName"))
		assert.Equal(t, `{"k":"v"}`, r.FormValue("customMetadata"))

		f, _, err := r.FormFile("file")
		require.NoError(t, err)
		content, _ := io.ReadAll(f)
		assert.Equal(t, "body { color: red }", string(content))

		json.NewEncoder(w).Encode(map[string]any{
			"fileId":   "file_1",
			"name":     "style.css",
			"filePath": "/root/static/css/style.css",
			"url":      "https://ik.imagekit.io/demo/root/static/css/style.css",
			"size":     19,
			"fileType": "non-image",
		})
	})

	opts := DefaultUploadOptions()
	opts.Folder = "/root/static/css"
	opts.Tags = []string{"a", "b"}
	opts.CustomMetadata = map[string]any{"k": "v"}

	file, err := c.Upload(context.Background(), strings.NewReader("body { color: red }"), "style.css", opts)
	require.NoError(t, err)

	expected := &File{
		FileID:   "file_1",
		Name:     "style.css",
		FilePath: "/root/static/css/style.css",
		URL:      "https://ik.imagekit.io/demo/root/static/css/style.css",
		Size:     19,
		FileType: "non-image",
	}
	if diff := cmp.Diff(expected, file, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("uploaded file mismatch:\n%s", diff)
	}
}

func TestDefaultUploadOptions(t *testing.T) {
	expected := UploadOptions{
		Folder:                  "/django-imagekitio-storage/",
		OverwriteFile:           true,
		OverwriteCustomMetadata: true,
	}
	if diff := cmp.Diff(expected, DefaultUploadOptions()); diff != "" {
		t.Fatalf("default upload options mismatch:\n%s", diff)
	}
}

func TestFileDetailsErrors(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/files/missing/details":
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"message":"The requested file does not exist.","help":"For support..."}`))
		default:
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"message":"Your request contains invalid fileId parameter."}`))
		}
	})

	_, err := c.FileDetails(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "does not exist")

	_, err = c.FileDetails(context.Background(), "css/style.css")
	require.Error(t, err)
	assert.True(t, IsBadRequest(err))
	assert.False(t, IsNotFound(err))
}

func TestDeleteFile(t *testing.T) {
	var deleted string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		deleted = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, c.DeleteFile(context.Background(), "file_1"))
	assert.Equal(t, "/v1/files/file_1", deleted)
}

func TestListFilesQuery(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "file", q.Get("type"))
		assert.Equal(t, "ASC_CREATED", q.Get("sort"))
		assert.Equal(t, "/root/media/", q.Get("path"))
		assert.Equal(t, "all", q.Get("fileType"))
		assert.Equal(t, "10", q.Get("limit"))
		assert.Equal(t, "", q.Get("skip"))

		w.Write([]byte(`[{"type":"file","fileId":"a","name":"a.jpg","url":"https://x/a.jpg"},
			{"type":"folder","name":"sub","folderPath":"/root/media/sub"}]`))
	})

	files, err := c.ListFiles(context.Background(), ListOptions{
		Type:     "file",
		Sort:     "ASC_CREATED",
		Path:     "/root/media/",
		FileType: "all",
		Limit:    10,
	})
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.False(t, files[0].IsFolder())
	assert.True(t, files[1].IsFolder())
}

func TestGetMissingFile(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	_, err := c.Get(context.Background(), c.URLEndpoint()+"/nope.txt")
	assert.True(t, IsNotFound(err))
}

