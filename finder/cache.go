// Copyright The ikstorage Contributors
// SPDX-License-Identifier: Apache-2.0

package finder

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/xattr"
	log "github.com/sirupsen/logrus"
)

const hashAttr = "user.ikstorage.hash"

// HashCache stores content hashes in an extended attribute of each
// file, together with the modification time they were computed for.
// Filesystems without extended attribute support simply miss.
type HashCache struct{}

// Get returns the cached hash of the file at p, if it is still valid
// for info.
func (HashCache) Get(p string, info os.FileInfo) (string, bool) {
	v, err := xattr.Get(p, hashAttr)
	if err != nil {
		return "", false
	}

	mtime, hash, ok := strings.Cut(string(v), ":")
	if !ok || mtime != strconv.FormatInt(info.ModTime().UnixNano(), 10) {
		return "", false
	}

	return hash, true
}

func (HashCache) Set(p string, info os.FileInfo, hash string) {
	v := fmt.Sprintf("%d:%s", info.ModTime().UnixNano(), hash)
	if err := xattr.Set(p, hashAttr, []byte(v)); err != nil {
		log.WithError(err).WithField("path", p).Debug("could not cache file hash")
	}
}
