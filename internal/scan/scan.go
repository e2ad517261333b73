// Package scan produces the finite, lazy sequence of planner.ScanTask a
// compaction run plans over, closed after drainage, with local filesystem
// and gocloud.dev/blob backends.
package scan

import (
	"context"

	"github.com/withObsrvr/obsrvr-table-compactor/internal/planner"
)

// Source produces ScanTasks on a channel paired with an error channel, and
// must be closed by the caller on every exit path (including a mid-drain
// error) to release underlying resources.
type Source interface {
	Scan(ctx context.Context) (<-chan planner.ScanTask, <-chan error)
	Close() error
}

// Drain reads every task off a Source, stopping at the first error, and
// always closes the source before returning: ownership of the Source
// passes to Drain, which must close it on every exit path.
func Drain(ctx context.Context, src Source) ([]planner.ScanTask, error) {
	defer src.Close()

	taskCh, errCh := src.Scan(ctx)
	var tasks []planner.ScanTask
	for {
		select {
		case <-ctx.Done():
			return tasks, ctx.Err()
		case err, ok := <-errCh:
			if ok && err != nil {
				return tasks, err
			}
		case t, ok := <-taskCh:
			if !ok {
				// errCh is closed before taskCh, so this never blocks and
				// still yields an error buffered just before the close.
				if err, ok := <-errCh; ok && err != nil {
					return tasks, err
				}
				return tasks, nil
			}
			tasks = append(tasks, t)
		}
	}
}
