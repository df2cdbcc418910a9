// Copyright The ikstorage Contributors
// SPDX-License-Identifier: Apache-2.0

package imagekit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// File is a file (or folder, when listing with type "all") as
// returned by the ImageKit API.
type File struct {
	Type              string         `json:"type"`
	FileID            string         `json:"fileId"`
	Name              string         `json:"name"`
	FilePath          string         `json:"filePath"`
	FolderID          string         `json:"folderId,omitempty"`
	FolderPath        string         `json:"folderPath,omitempty"`
	URL               string         `json:"url"`
	Thumbnail         string         `json:"thumbnail,omitempty"`
	ThumbnailURL      string         `json:"thumbnailUrl,omitempty"`
	FileType          string         `json:"fileType"`
	Mime              string         `json:"mime,omitempty"`
	Size              int64          `json:"size"`
	Height            int            `json:"height,omitempty"`
	Width             int            `json:"width,omitempty"`
	Tags              []string       `json:"tags"`
	IsPrivateFile     bool           `json:"isPrivateFile"`
	CustomCoordinates *string        `json:"customCoordinates"`
	CustomMetadata    map[string]any `json:"customMetadata,omitempty"`
	CreatedAt         time.Time      `json:"createdAt,omitempty"`
	UpdatedAt         time.Time      `json:"updatedAt,omitempty"`
}

// IsFolder reports whether a listing entry is a folder.
func (f *File) IsFolder() bool {
	return f.Type == "folder"
}

// UploadOptions mirror the optional parameters of the upload API.
type UploadOptions struct {
	UseUniqueFileName       bool             `yaml:"use_unique_file_name"`
	Tags                    []string         `yaml:"tags"`
	Folder                  string           `yaml:"folder"`
	IsPrivateFile           bool             `yaml:"is_private_file"`
	CustomCoordinates       string           `yaml:"custom_coordinates"`
	ResponseFields          []string         `yaml:"response_fields"`
	Extensions              []map[string]any `yaml:"extensions"`
	WebhookURL              string           `yaml:"webhook_url"`
	OverwriteFile           bool             `yaml:"overwrite_file"`
	OverwriteAITags         bool             `yaml:"overwrite_ai_tags"`
	OverwriteTags           bool             `yaml:"overwrite_tags"`
	OverwriteCustomMetadata bool             `yaml:"overwrite_custom_metadata"`
	CustomMetadata          map[string]any   `yaml:"custom_metadata"`
}

// DefaultUploadOptions returns the options used when none are
// configured.
func DefaultUploadOptions() UploadOptions {
	return UploadOptions{
		Folder:                  "/django-imagekitio-storage/",
		OverwriteFile:           true,
		OverwriteCustomMetadata: true,
	}
}

func (o *UploadOptions) fields() (map[string]string, error) {
	f := map[string]string{
		"useUniqueFileName":       strconv.FormatBool(o.UseUniqueFileName),
		"isPrivateFile":           strconv.FormatBool(o.IsPrivateFile),
		"overwriteFile":           strconv.FormatBool(o.OverwriteFile),
		"overwriteAITags":         strconv.FormatBool(o.OverwriteAITags),
		"overwriteTags":           strconv.FormatBool(o.OverwriteTags),
		"overwriteCustomMetadata": strconv.FormatBool(o.OverwriteCustomMetadata),
	}

	if o.Folder != "" {
		f["folder"] = o.Folder
	}
	if len(o.Tags) > 0 {
		f["tags"] = strings.Join(o.Tags, ",")
	}
	if o.CustomCoordinates != "" {
		f["customCoordinates"] = o.CustomCoordinates
	}
	if len(o.ResponseFields) > 0 {
		f["responseFields"] = strings.Join(o.ResponseFields, ",")
	}
	if o.WebhookURL != "" {
		f["webhookUrl"] = o.WebhookURL
	}
	if len(o.Extensions) > 0 {
		j, err := json.Marshal(o.Extensions)
		if err != nil {
			return nil, fmt.Errorf("invalid upload extensions: %w", err)
		}
		f["extensions"] = string(j)
	}
	if len(o.CustomMetadata) > 0 {
		j, err := json.Marshal(o.CustomMetadata)
		if err != nil {
			return nil, fmt.Errorf("invalid custom metadata: %w", err)
		}
		f["customMetadata"] = string(j)
	}

	return f, nil
}

// Upload streams the content of r to ImageKit under the given file
// name. The multipart body is written through a pipe so that large
// files are never buffered in memory.
func (c *Client) Upload(ctx context.Context, r io.Reader, fileName string, opts UploadOptions) (*File, error) {
	fields, err := opts.fields()
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		err := func() error {
			if err := mw.WriteField("fileName", fileName); err != nil {
				return err
			}
			for k, v := range fields {
				if err := mw.WriteField(k, v); err != nil {
					return err
				}
			}

			part, err := mw.CreateFormFile("file", fileName)
			if err != nil {
				return err
			}
			if _, err := io.Copy(part, r); err != nil {
				return err
			}

			return mw.Close()
		}()
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.uploadEndpoint+"/files/upload", pr)
	if err != nil {
		pr.Close()
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var file File
	if err := c.do(req, &file); err != nil {
		pr.CloseWithError(err)
		log.WithError(err).WithFields(log.Fields{
			"file":   fileName,
			"folder": opts.Folder,
		}).Error("failed to upload file to ImageKit")

		return nil, err
	}

	log.WithFields(log.Fields{
		"file":   file.FilePath,
		"fileId": file.FileID,
		"size":   file.Size,
	}).Debug("uploaded file to ImageKit")

	return &file, nil
}

// DeleteFile removes a file by its ID.
func (c *Client) DeleteFile(ctx context.Context, fileID string) error {
	u := c.apiEndpoint + "/files/" + url.PathEscape(fileID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return err
	}

	return c.do(req, nil, http.StatusNoContent)
}

// FileDetails retrieves the metadata of a single file.
func (c *Client) FileDetails(ctx context.Context, fileID string) (*File, error) {
	u := c.apiEndpoint + "/files/" + url.PathEscape(fileID) + "/details"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	var file File
	if err := c.do(req, &file); err != nil {
		return nil, err
	}

	return &file, nil
}

// ListOptions are the query parameters of the list & search API.
// Zero values are omitted from the request.
type ListOptions struct {
	Type        string
	Sort        string
	Path        string
	SearchQuery string
	FileType    string
	Tags        []string
	Limit       int
	Skip        int
}

func (o *ListOptions) query() url.Values {
	q := url.Values{}
	set := func(k, v string) {
		if v != "" {
			q.Set(k, v)
		}
	}

	set("type", o.Type)
	set("sort", o.Sort)
	set("path", o.Path)
	set("searchQuery", o.SearchQuery)
	set("fileType", o.FileType)
	set("tags", strings.Join(o.Tags, ","))
	if o.Limit > 0 {
		q.Set("limit", strconv.Itoa(o.Limit))
	}
	if o.Skip > 0 {
		q.Set("skip", strconv.Itoa(o.Skip))
	}

	return q
}

// ListFiles lists files (and optionally folders) matching opts.
func (c *Client) ListFiles(ctx context.Context, opts ListOptions) ([]File, error) {
	u := c.apiEndpoint + "/files"
	if q := opts.query().Encode(); q != "" {
		u += "?" + q
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	var files []File
	if err := c.do(req, &files); err != nil {
		return nil, err
	}

	return files, nil
}
