// Copyright The ikstorage Contributors
// SPDX-License-Identifier: Apache-2.0

package files

import (
	"crypto/md5"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
)

var schemeRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.\-]*:`)

// FileHash returns the content hash used in hashed static names: the
// first 12 hex characters of the MD5 digest. ImageKit reports the MD5
// digest of stored files as their ETag, which makes the two directly
// comparable.
func FileHash(content []byte) string {
	return fmt.Sprintf("%x", md5.Sum(content))[:12]
}

// CleanName converts Windows path separators to forward slashes.
func CleanName(name string) string {
	return strings.ReplaceAll(name, `\`, "/")
}

// splitName splits a (possibly URL-quoted) file name into its path,
// query and fragment.
func splitName(name string) (p, query, fragment string) {
	if u, err := url.PathUnescape(name); err == nil {
		name = u
	}

	name, fragment, _ = strings.Cut(name, "#")
	p, query, _ = strings.Cut(name, "?")

	return p, query, fragment
}

// joinName is the inverse of splitName. Names of the form
// "font.eot?#iefix" keep their empty query, as some browsers depend
// on it.
func joinName(p, query, fragment string, keepEmptyQuery bool) string {
	if query != "" {
		p += "?" + query
	} else if keepEmptyQuery && fragment != "" {
		p += "?"
	}

	if fragment != "" {
		p += "#" + fragment
	}

	return p
}

// escapePath escapes every segment of a slash-separated path for use
// in a URL.
func escapePath(p string) string {
	segments := strings.Split(p, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.Join(segments, "/")
}

// joinFolder joins non-empty folder segments with single slashes.
func joinFolder(parts ...string) string {
	segments := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p != "" && p != "." {
			segments = append(segments, p)
		}
	}

	return strings.Join(segments, "/")
}

// normalizePath ensures a non-empty path ends with a slash.
func normalizePath(p string) string {
	if p != "" && !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

// prependPrefix prepends the prefix (without leading slash) to name
// unless it is already present.
func prependPrefix(prefix, name string) string {
	prefix = normalizePath(strings.TrimLeft(prefix, "/"))
	if !strings.HasPrefix(name, prefix) {
		name = prefix + name
	}
	return name
}

func hasScheme(u string) bool {
	return schemeRegex.MatchString(u)
}

// extension returns the lower-cased extension of name without the
// dot, or the empty string.
func extension(name string) string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(path.Base(name)), "."))
}
