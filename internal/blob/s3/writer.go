package s3blob

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// partSize is the multipart threshold and part size (the S3 minimum).
const partSize int64 = 5 * 1024 * 1024

// Writer implements domain.BlobWriter using an S3-compatible backend.
// Small bodies go up in one PutObject; larger ones are split into parts by
// the upload manager.
type Writer struct {
	c        *Client
	uploader *manager.Uploader
}

// NewWriter creates a Writer for the client's bucket and key prefix.
func NewWriter(c *Client) *Writer {
	return &Writer{
		uploader: manager.NewUploader(c.s3, func(u *manager.Uploader) {
			u.PartSize = partSize
			u.Concurrency = 2
		}),
		c: c,
	}
}

// Put uploads data to path under the configured prefix.
func (w *Writer) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	_, err := w.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.c.bucket),
		Key:         w.c.key(path),
		Body:        data,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3blob: put %s: %w", path, err)
	}
	return nil
}
