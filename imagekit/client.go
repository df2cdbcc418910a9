// Copyright The ikstorage Contributors
// SPDX-License-Identifier: Apache-2.0

// Package imagekit implements the subset of the ImageKit.io REST API
// that is required to use ImageKit as a file store: uploading,
// deleting, listing and inspecting files, and constructing delivery
// URLs for them.
package imagekit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultAPIEndpoint    = "https://api.imagekit.io/v1"
	DefaultUploadEndpoint = "https://upload.imagekit.io/api/v1"
)

// maxErrorBytes limits how much of an error response body is read
// when decoding API errors.
const maxErrorBytes int64 = 8 * 1024

// Client talks to the ImageKit management and upload APIs. It is
// safe for concurrent use.
type Client struct {
	privateKey  string
	publicKey   string
	urlEndpoint string

	apiEndpoint    string
	uploadEndpoint string
	http           *http.Client
}

type Option func(*Client)

// WithAPIEndpoint overrides the base URL of the management API.
func WithAPIEndpoint(u string) Option {
	return func(c *Client) { c.apiEndpoint = strings.TrimRight(u, "/") }
}

// WithUploadEndpoint overrides the base URL of the upload API.
func WithUploadEndpoint(u string) Option {
	return func(c *Client) { c.uploadEndpoint = strings.TrimRight(u, "/") }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func New(privateKey, publicKey, urlEndpoint string, opts ...Option) *Client {
	c := &Client{
		privateKey:     privateKey,
		publicKey:      publicKey,
		urlEndpoint:    strings.TrimRight(urlEndpoint, "/"),
		apiEndpoint:    DefaultAPIEndpoint,
		uploadEndpoint: DefaultUploadEndpoint,
		http:           &http.Client{},
	}

	for _, o := range opts {
		o(c)
	}

	return c
}

// URLEndpoint returns the delivery endpoint that file URLs are
// served from, without a trailing slash.
func (c *Client) URLEndpoint() string {
	return c.urlEndpoint
}

func (c *Client) PublicKey() string {
	return c.publicKey
}

// APIError is returned for any non-successful response of the
// ImageKit API.
type APIError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"message"`
	Help       string `json:"help"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("imagekit: unexpected status code %d", e.StatusCode)
	}
	return fmt.Sprintf("imagekit: %s (status %d)", e.Message, e.StatusCode)
}

func statusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// IsNotFound reports whether err is an API error caused by a missing
// file.
func IsNotFound(err error) bool {
	return statusOf(err) == http.StatusNotFound
}

// IsBadRequest reports whether err is an API error caused by an
// invalid request, which is what ImageKit returns for malformed file
// IDs.
func IsBadRequest(err error) bool {
	return statusOf(err) == http.StatusBadRequest
}

// checkResponse returns nil if the response status is one of the
// allowed codes (200 is always allowed) and an *APIError otherwise.
// The body is not closed.
func checkResponse(resp *http.Response, allowed ...int) error {
	allowed = lo.Uniq(append(allowed, http.StatusOK))
	if lo.Contains(allowed, resp.StatusCode) {
		return nil
	}

	apiErr := &APIError{StatusCode: resp.StatusCode}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBytes))
	if err == nil && len(body) > 0 {
		if jerr := json.Unmarshal(body, apiErr); jerr != nil {
			apiErr.Message = strings.TrimSpace(string(body))
		}
	}

	return apiErr
}

// do executes an authenticated API request and decodes a JSON
// response into out, if out is non-nil.
func (c *Client) do(req *http.Request, out any, allowed ...int) error {
	req.SetBasicAuth(c.privateKey, "")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkResponse(resp, allowed...); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"method": req.Method,
			"url":    req.URL.Redacted(),
		}).Debug("ImageKit API request failed")

		return err
	}

	if out == nil {
		return nil
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// Head issues an unauthenticated HEAD request against a delivery URL.
// The caller must close the response body.
func (c *Client) Head(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return nil, err
	}

	return c.http.Do(req)
}

// Get fetches the content behind a delivery URL. A missing file is
// reported as an *APIError with status 404.
func (c *Client) Get(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}

	if err := checkResponse(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}

	return resp.Body, nil
}
