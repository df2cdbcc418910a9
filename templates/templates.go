// Copyright The ikstorage Contributors
// SPDX-License-Identifier: Apache-2.0

// Package templates provides html/template functions for static
// files stored in ImageKit.
package templates

import (
	"context"
	"fmt"
	"html/template"

	"github.com/ikstorage/ikstorage/imagekit"
)

// URLer resolves the delivery URL of a stored file.
type URLer interface {
	URL(ctx context.Context, name string) (string, error)
}

// FuncMap returns the template functions backed by storage:
//
//	{{ imagekit_static "img/logo.png" "width" 300 "height" 200 }}
//	{{ imagekit_static "img/logo.png" .Options "quality" 80 }}
func FuncMap(ctx context.Context, storage URLer) template.FuncMap {
	return template.FuncMap{
		"imagekit_static": func(name string, options ...any) (template.URL, error) {
			return Static(ctx, storage, name, options...)
		},
	}
}

// Static returns the URL of the static file name with the given
// transformation options applied. Options are maps of transformation
// parameters or key/value pairs; later values win.
func Static(ctx context.Context, storage URLer, name string, options ...any) (template.URL, error) {
	tr, err := parseOptions(options)
	if err != nil {
		return "", fmt.Errorf("imagekit_static %s: %w", name, err)
	}

	u, err := storage.URL(ctx, name)
	if err != nil {
		return "", err
	}

	return template.URL(imagekit.WithTransformation(u, tr)), nil
}

func parseOptions(options []any) (imagekit.Transformation, error) {
	tr := imagekit.Transformation{}

	for i := 0; i < len(options); i++ {
		switch o := options[i].(type) {
		case imagekit.Transformation:
			for k, v := range o {
				tr[k] = v
			}
		case map[string]any:
			for k, v := range o {
				tr[k] = v
			}
		case map[string]string:
			for k, v := range o {
				tr[k] = v
			}
		case string:
			if i+1 >= len(options) {
				return nil, fmt.Errorf("missing value for option %q", o)
			}
			tr[o] = options[i+1]
			i++
		default:
			return nil, fmt.Errorf("unsupported option %v of type %T", o, o)
		}
	}

	return tr, nil
}
