package scan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // local file driver
	_ "gocloud.dev/blob/gcsblob"  // GCS driver
	_ "gocloud.dev/blob/s3blob"   // S3 driver

	"github.com/withObsrvr/obsrvr-table-compactor/internal/metrics"
	"github.com/withObsrvr/obsrvr-table-compactor/internal/planner"
)

// BlobSource lists objects under a prefix in a gocloud.dev/blob bucket
// (s3://, gs://, file://), emitting one ScanTask per object. A task's
// partition is the first path segment after the configured prefix,
// mirroring Hive-style partition directories. Metrics is optional; nil
// disables the scan-error counter.
type BlobSource struct {
	bucket  *blob.Bucket
	prefix  string
	Metrics *metrics.Metrics
}

// NewBlobSource opens bucketURL (e.g. "s3://my-bucket?region=us-east-1") and
// returns a Source that lists objects under prefix.
func NewBlobSource(ctx context.Context, bucketURL, prefix string) (*BlobSource, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("scan: open bucket %s: %w", bucketURL, err)
	}
	return &BlobSource{bucket: bucket, prefix: prefix}, nil
}

// Scan lists every object under the configured prefix.
func (s *BlobSource) Scan(ctx context.Context) (<-chan planner.ScanTask, <-chan error) {
	taskCh := make(chan planner.ScanTask)
	errCh := make(chan error, 1)

	go func() {
		defer close(taskCh)
		defer close(errCh)

		iter := s.bucket.List(&blob.ListOptions{Prefix: s.prefix})
		for {
			obj, err := iter.Next(ctx)
			if err != nil {
				if errors.Is(err, io.EOF) {
					return
				}
				if s.Metrics != nil {
					s.Metrics.IncScanErrors(metrics.Labels{SourceType: "blob"})
				}
				errCh <- fmt.Errorf("scan: list %s: %w", s.prefix, err)
				return
			}

			task := planner.ScanTask{
				Path:      obj.Key,
				Length:    obj.Size,
				Partition: partitionOf(obj.Key, s.prefix),
			}

			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case taskCh <- task:
			}
		}
	}()

	return taskCh, errCh
}

// partitionOf returns the first path segment of key after prefix, or the
// whole trimmed key if it contains no further separator.
func partitionOf(key, prefix string) string {
	rest := strings.TrimPrefix(key, prefix)
	rest = strings.TrimPrefix(rest, "/")
	if idx := strings.Index(rest, "/"); idx >= 0 {
		return rest[:idx]
	}
	return rest
}

// Close releases the underlying bucket connection.
func (s *BlobSource) Close() error {
	if s.bucket != nil {
		return s.bucket.Close()
	}
	return nil
}
