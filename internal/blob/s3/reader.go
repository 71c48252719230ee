package s3blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/alanyoungcy/bullbear/internal/domain"
)

// Reader implements domain.BlobReader. Paths are relative to the client's
// key prefix.
type Reader struct {
	c *Client
}

// NewReader creates a Reader over c.
func NewReader(c *Client) *Reader {
	return &Reader{c: c}
}

// Get returns the object body; the caller closes it. A missing object is
// domain.ErrNotFound.
func (r *Reader) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	out, err := r.c.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.c.bucket),
		Key:    r.c.key(path),
	})
	if err != nil {
		if isNotFound(err) {
			err = domain.ErrNotFound
		}
		return nil, fmt.Errorf("s3blob: get %s: %w", path, err)
	}
	return out.Body, nil
}

// List returns every object under prefix in key order.
func (r *Reader) List(ctx context.Context, prefix string) ([]domain.BlobInfo, error) {
	var infos []domain.BlobInfo
	pages := s3.NewListObjectsV2Paginator(r.c.s3, &s3.ListObjectsV2Input{
		Bucket: aws.String(r.c.bucket),
		Prefix: r.c.key(prefix),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3blob: list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			info := domain.BlobInfo{
				Path: strings.TrimPrefix(aws.ToString(obj.Key), r.c.prefix),
				Size: aws.ToInt64(obj.Size),
			}
			if obj.LastModified != nil {
				info.LastModified = *obj.LastModified
			}
			infos = append(infos, info)
		}
	}
	return infos, nil
}

// Exists reports whether an object is stored at path.
func (r *Reader) Exists(ctx context.Context, path string) (bool, error) {
	_, err := r.c.s3.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(r.c.bucket),
		Key:    r.c.key(path),
	})
	switch {
	case err == nil:
		return true, nil
	case isNotFound(err):
		return false, nil
	default:
		return false, fmt.Errorf("s3blob: head %s: %w", path, err)
	}
}

// isNotFound matches NoSuchKey from GetObject, NotFound from HeadObject and
// bare 404s from compatible providers.
func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	var status interface{ HTTPStatusCode() int }
	switch {
	case errors.As(err, &nsk), errors.As(err, &nf):
		return true
	case errors.As(err, &status):
		return status.HTTPStatusCode() == http.StatusNotFound
	}
	return false
}
