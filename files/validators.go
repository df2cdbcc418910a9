// Copyright The ikstorage Contributors
// SPDX-License-Identifier: Apache-2.0

package files

import (
	"io"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// ValidationError is returned for uploads that fail validation.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// ValidateVideo checks that the content of r is detected as a video
// container. The returned error carries message.
func ValidateVideo(r io.Reader, message string) error {
	mtype, err := mimetype.DetectReader(r)
	if err != nil {
		return err
	}

	if strings.HasPrefix(mtype.String(), "video/") {
		return nil
	}

	return &ValidationError{Message: message}
}
