// Copyright The ikstorage Contributors
// SPDX-License-Identifier: Apache-2.0

// AWS S3 storage backend.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	log "github.com/sirupsen/logrus"
)

type S3Backend struct {
	bucket   string
	region   string
	client   *s3.Client
	uploader *manager.Uploader
}

// NewS3Backend constructs a new S3 backend for the given bucket,
// loading credentials from the default AWS configuration chain.
func NewS3Backend(ctx context.Context, bucket, region string) (*S3Backend, error) {
	if bucket == "" {
		return nil, fmt.Errorf("S3_BUCKET must be configured for S3 usage")
	}

	if region == "" {
		region = "us-east-1" // Default region
	}

	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		log.WithError(err).Error("failed to load AWS configuration")
		return nil, err
	}

	client := s3.NewFromConfig(cfg)

	// Test bucket access
	_, err = client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(bucket),
	})
	if err != nil {
		log.WithError(err).WithField("bucket", bucket).Error("could not access configured S3 bucket")
		return nil, err
	}

	return &S3Backend{
		bucket:   bucket,
		region:   region,
		client:   client,
		uploader: manager.NewUploader(client),
	}, nil
}

func (b *S3Backend) Name() string {
	return "AWS S3 (" + b.bucket + ")"
}

func (b *S3Backend) Persist(ctx context.Context, path, contentType string, f Persister) (string, int64, error) {
	// Create a pipe to stream data to S3
	pr, pw := io.Pipe()

	uploadDone := make(chan error, 1)
	go func() {
		defer close(uploadDone)

		input := &s3.PutObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(path),
			Body:   pr,
		}

		if contentType != "" {
			input.ContentType = aws.String(contentType)
		}

		_, uploadErr := b.uploader.Upload(ctx, input)
		// unblock the writer if the upload gave up early
		pr.CloseWithError(uploadErr)
		uploadDone <- uploadErr
	}()

	hash, size, err := f(pw)
	if err != nil {
		pw.CloseWithError(err)
		<-uploadDone
		log.WithError(err).WithField("path", path).Error("failed to write data for S3 upload")
		return hash, size, err
	}
	pw.Close()

	if uploadErr := <-uploadDone; uploadErr != nil {
		log.WithError(uploadErr).WithField("path", path).Error("failed to upload to S3")
		return hash, size, uploadErr
	}

	return hash, size, nil
}

func (b *S3Backend) Fetch(ctx context.Context, path string) (io.ReadCloser, error) {
	resp, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(path),
	})

	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return nil, fmt.Errorf("%w: s3://%s/%s", ErrNotFound, b.bucket, path)
	}
	if err != nil {
		return nil, err
	}

	return resp.Body, nil
}

func (b *S3Backend) Exists(ctx context.Context, path string) (bool, error) {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(path),
	})

	var nf *types.NotFound
	if errors.As(err, &nf) {
		return false, nil
	}

	return err == nil, err
}

func (b *S3Backend) Delete(ctx context.Context, path string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"bucket": b.bucket,
			"path":   path,
		}).Warn("failed to delete object from S3")
	}

	return err
}
