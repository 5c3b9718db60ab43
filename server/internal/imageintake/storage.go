// Copyright (c) CurioSwitch (choko@curioswitch.org)
// SPDX-License-Identifier: BUSL-1.1

package imageintake

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
)

// Uploader stores a file and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// NewBucketUploader returns an Uploader writing to a public GCS bucket.
func NewBucketUploader(client *storage.Client, bucket string) *BucketUploader {
	return &BucketUploader{
		client: client,
		bucket: bucket,
	}
}

// BucketUploader writes files to a GCS bucket that serves them publicly.
type BucketUploader struct {
	client *storage.Client
	bucket string
}

func (u *BucketUploader) Upload(ctx context.Context, path string, contentType string, data []byte) (string, error) {
	w := u.client.Bucket(u.bucket).Object(path).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("imageintake: writing object: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("imageintake: closing object writer: %w", err)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", u.bucket, path), nil
}
