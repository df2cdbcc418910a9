// Copyright The ikstorage Contributors
// SPDX-License-Identifier: Apache-2.0

package imagekit

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Transformation is a single transformation step, e.g.
// {"width": 300, "height": 200}. Steps are chained with ':'.
type Transformation map[string]any

// Position of the transformation string in generated URLs.
const (
	PositionPath  = "path"
	PositionQuery = "query"
)

// Abbreviations understood by the ImageKit URL API. Keys that are not
// listed here are passed through verbatim, which allows using the
// short forms (and new parameters) directly.
var transformKeys = map[string]string{
	"height":          "h",
	"width":           "w",
	"aspect_ratio":    "ar",
	"quality":         "q",
	"crop":            "c",
	"crop_mode":       "cm",
	"x":               "x",
	"y":               "y",
	"focus":           "fo",
	"format":          "f",
	"radius":          "r",
	"background":      "bg",
	"border":          "b",
	"rotation":        "rt",
	"blur":            "bl",
	"named":           "n",
	"overlay_image":   "oi",
	"overlay_text":    "ot",
	"overlay_x":       "ox",
	"overlay_y":       "oy",
	"progressive":     "pr",
	"lossless":        "lo",
	"trim":            "t",
	"metadata":        "md",
	"color_profile":   "cp",
	"default_image":   "di",
	"dpr":             "dpr",
	"effect_sharpen":  "e-sharpen",
	"effect_usm":      "e-usm",
	"effect_contrast": "e-contrast",
	"effect_gray":     "e-grayscale",
	"original":        "orig",
	"raw":             "raw",
}

// String serialises a transformation step. Parameters are sorted so
// the generated URLs are stable.
func (t Transformation) String() string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		key := k
		if short, ok := transformKeys[k]; ok {
			key = short
		}

		v := fmt.Sprint(t[k])
		switch {
		case k == "raw":
			parts = append(parts, v)
		case v == "" || v == "-":
			parts = append(parts, key)
		default:
			parts = append(parts, key+"-"+v)
		}
	}

	return strings.Join(parts, ",")
}

func chain(ts []Transformation) string {
	steps := make([]string, 0, len(ts))
	for _, t := range ts {
		if s := t.String(); s != "" {
			steps = append(steps, s)
		}
	}

	return strings.Join(steps, ":")
}

// URLOptions describe a delivery URL. Either Path (relative to the
// URL endpoint) or Src (an absolute URL) must be set.
type URLOptions struct {
	Path                   string
	Src                    string
	URLEndpoint            string
	Transformation         []Transformation
	TransformationPosition string
	QueryParameters        map[string]string
}

// URL builds a delivery URL. Transformations are placed in the path
// (`/tr:w-300/...`) unless the query position is requested or an
// absolute source URL is used.
func (c *Client) URL(o URLOptions) string {
	endpoint := o.URLEndpoint
	if endpoint == "" {
		endpoint = c.urlEndpoint
	}
	endpoint = strings.TrimRight(endpoint, "/")

	tr := chain(o.Transformation)
	inQuery := o.TransformationPosition == PositionQuery || o.Src != ""

	var base string
	if o.Src != "" {
		base = o.Src
	} else {
		p := strings.TrimLeft(o.Path, "/")
		if tr != "" && !inQuery {
			base = endpoint + "/tr:" + tr + "/" + p
		} else {
			base = endpoint + "/" + p
		}
	}

	if len(o.QueryParameters) > 0 {
		q := url.Values{}
		for k, v := range o.QueryParameters {
			q.Set(k, v)
		}
		base = appendQuery(base, q.Encode())
	}

	if tr != "" && inQuery {
		base = appendQuery(base, "tr="+tr)
	}

	return base
}

// WithTransformation appends transformations to an existing delivery
// URL as a `tr` query parameter.
func WithTransformation(rawURL string, ts ...Transformation) string {
	tr := chain(ts)
	if tr == "" {
		return rawURL
	}

	return appendQuery(rawURL, "tr="+tr)
}

func appendQuery(u, q string) string {
	frag := ""
	if i := strings.IndexByte(u, '#'); i >= 0 {
		u, frag = u[:i], u[i:]
	}

	switch {
	case strings.HasSuffix(u, "?"):
		u += q
	case strings.Contains(u, "?"):
		u += "&" + q
	default:
		u += "?" + q
	}

	return u + frag
}
