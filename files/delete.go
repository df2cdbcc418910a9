// Copyright The ikstorage Contributors
// SPDX-License-Identifier: Apache-2.0

package files

import (
	"context"
	"errors"
	"fmt"
	"net/url"
)

var ErrFieldNotFound = errors.New("field is not found in instance")

// Deleter deletes files by their ImageKit file ID.
type Deleter interface {
	DeleteFile(ctx context.Context, fileID string) error
}

// Record maps the file fields of a stored record to the file IDs they
// hold.
type Record map[string]string

// DeleteFiles deletes the files referenced by the given fields of
// record. Every field must be present and non-empty.
func DeleteFiles(ctx context.Context, d Deleter, record Record, fields ...string) error {
	for _, field := range fields {
		id := record[field]
		if id == "" {
			return fmt.Errorf("%w: %s", ErrFieldNotFound, field)
		}

		if err := d.DeleteFile(ctx, id); err != nil {
			return fmt.Errorf("failed to delete %s of record: %w", field, err)
		}
	}

	return nil
}

// DeleteReceiver returns a hook that deletes the files of the given
// fields when a record is deleted.
func DeleteReceiver(d Deleter, fields ...string) func(context.Context, Record) error {
	return func(ctx context.Context, r Record) error {
		return DeleteFiles(ctx, d, r, fields...)
	}
}

// DeleteFileByURL deletes the file whose ID is given by the file_id
// query parameter of ref.
func DeleteFileByURL(ctx context.Context, d Deleter, ref string) error {
	u, err := url.Parse(ref)
	if err != nil {
		return fmt.Errorf("invalid file URL %s: %w", ref, err)
	}

	id := u.Query().Get("file_id")
	if id == "" {
		return fmt.Errorf("no file_id in %s", ref)
	}

	return d.DeleteFile(ctx, id)
}
