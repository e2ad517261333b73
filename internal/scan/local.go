package scan

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/withObsrvr/obsrvr-table-compactor/internal/metrics"
	"github.com/withObsrvr/obsrvr-table-compactor/internal/planner"
)

// LocalSource walks a directory tree, emitting one ScanTask per regular
// file. A task's partition is its parent directory's base name, so a
// directory layout of the form <root>/<partition>/<file> maps naturally
// onto planner.FileGroup's "all members share a partition" invariant.
// Metrics is optional, mirroring the orchestrator's nil-safe side-channel
// fields: nil disables the scan-error counter without affecting behavior.
type LocalSource struct {
	root    string
	Metrics *metrics.Metrics
}

// NewLocalSource returns a Source rooted at dir.
func NewLocalSource(dir string) *LocalSource {
	return &LocalSource{root: dir}
}

// Scan walks the directory tree in a background goroutine, feeding tasks
// and a terminal error (if any) to the returned channels.
func (s *LocalSource) Scan(ctx context.Context) (<-chan planner.ScanTask, <-chan error) {
	taskCh := make(chan planner.ScanTask)
	errCh := make(chan error, 1)

	go func() {
		defer close(taskCh)
		defer close(errCh)

		err := filepath.Walk(s.root, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() {
				return nil
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case taskCh <- planner.ScanTask{
				Path:      path,
				Length:    info.Size(),
				Partition: filepath.Base(filepath.Dir(path)),
			}:
			}
			return nil
		})
		if err != nil {
			if s.Metrics != nil {
				s.Metrics.IncScanErrors(metrics.Labels{SourceType: "local"})
			}
			errCh <- fmt.Errorf("scan: walk %s: %w", s.root, err)
		}
	}()

	return taskCh, errCh
}

// Close is a no-op: LocalSource holds no resources beyond the walk
// goroutine, which exits on its own once the channels are drained or
// closed.
func (s *LocalSource) Close() error { return nil }
