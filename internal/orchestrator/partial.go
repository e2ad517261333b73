package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/withObsrvr/obsrvr-table-compactor/internal/metrics"
	"github.com/withObsrvr/obsrvr-table-compactor/internal/resultmap"
)

// completedQueue is a mutex-guarded FIFO of rewritten-but-uncommitted
// groups, safe for concurrent Push by workers and Drain by the committer.
type completedQueue struct {
	mu    sync.Mutex
	items []writtenGroup
}

func (q *completedQueue) push(w writtenGroup) {
	q.mu.Lock()
	q.items = append(q.items, w)
	q.mu.Unlock()
}

func (q *completedQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// drain removes and returns up to n items, FIFO order.
func (q *completedQueue) drain(n int) []writtenGroup {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n > len(q.items) {
		n = len(q.items)
	}
	batch := q.items[:n]
	q.items = q.items[n:]
	return batch
}

// runPartialProgress runs rewrite workers that never halt the overall run
// on a single group's failure — failures are aborted individually and
// excluded from results — while a single committer goroutine concurrently
// drains the completed-rewrite queue in groupsPerCommit-sized batches and
// commits each batch independently.
func (o *Orchestrator) runPartialProgress(ctx context.Context, tasks []groupTask, results *resultmap.Map) error {
	groupsPerCommit := ceilDiv(len(tasks), o.Config.MaxCommits)
	if groupsPerCommit < 1 {
		groupsPerCommit = 1
	}

	queue := &completedQueue{}
	var stillRewriting atomic.Bool
	stillRewriting.Store(true)

	committerDone := make(chan error, 1)
	go func() {
		committerDone <- o.runCommitter(ctx, queue, groupsPerCommit, &stillRewriting, results)
	}()

	sem := make(chan int, o.Config.MaxConcurrentGroups)
	for i := 0; i < o.Config.MaxConcurrentGroups; i++ {
		sem <- i
	}
	var wg sync.WaitGroup
	var inFlight atomic.Int64
	for _, task := range tasks {
		workerID := <-sem
		wg.Add(1)
		go func(task groupTask, workerID int) {
			defer wg.Done()
			defer func() { sem <- workerID }()

			o.observeInFlight(inFlight.Add(1))
			defer func() { o.observeInFlight(inFlight.Add(-1)) }()

			start := time.Now()
			result, err := o.Rewriter.Rewrite(ctx, task.info.GroupID, task.group.Tasks)
			o.observeRewrite(task.info.Partition, time.Since(start), err)
			if err != nil {
				glog := o.workerLog(ctx, workerID, task.info)
				glog.Warn("rewrite failed, aborting group", "error", err)
				if abortErr := o.Rewriter.Abort(ctx, task.info.GroupID); abortErr != nil {
					glog.Warn("abort failed", "error", abortErr)
				}
				o.recordAbort(ctx, task.info.GroupID)
				if o.Metrics != nil {
					o.Metrics.IncGroupsAborted(metrics.Labels{Partition: task.info.Partition})
				}
				return
			}

			queue.push(writtenGroup{info: task.info, result: result})
			if o.Metrics != nil {
				o.Metrics.SetCompletedQueueDepth(float64(queue.len()))
			}
		}(task, workerID)
	}
	wg.Wait()
	stillRewriting.Store(false)

	select {
	case err := <-committerDone:
		return err
	case <-time.After(committerShutdownTimeout):
		return fmt.Errorf("orchestrator: committer did not finish within %s", committerShutdownTimeout)
	}
}

// runCommitter polls the completed queue, draining and committing a batch
// whenever either the queue has grown past groupsPerCommit, or rewriting
// has finished and the queue is still non-empty. It returns once rewriting
// has finished and the queue is drained.
func (o *Orchestrator) runCommitter(ctx context.Context, queue *completedQueue, groupsPerCommit int, stillRewriting *atomic.Bool, results *resultmap.Map) error {
	const pollInterval = 5 * time.Millisecond

	for {
		// Read the flag first: once it reads false every push has already
		// happened, so qlen is final rather than a stale undercount.
		rewriting := stillRewriting.Load()
		qlen := queue.len()

		switch {
		case qlen > groupsPerCommit:
			o.commitBatch(ctx, queue.drain(groupsPerCommit), results)
			continue
		case !rewriting && qlen > 0:
			o.commitBatch(ctx, queue.drain(qlen), results)
			continue
		case !rewriting && qlen == 0:
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// commitBatch commits one batch. On failure, every group in the batch is
// logged and dropped from results; other batches are unaffected.
func (o *Orchestrator) commitBatch(ctx context.Context, batch []writtenGroup, results *resultmap.Map) {
	if len(batch) == 0 {
		return
	}

	groupIDs := make([]string, len(batch))
	for i, w := range batch {
		groupIDs[i] = w.info.GroupID
	}

	start := time.Now()
	err := o.Rewriter.Commit(ctx, groupIDs)
	o.observeCommit("partial_progress", time.Since(start), len(groupIDs), err)
	if err != nil {
		o.log.Warn("batch commit failed, dropping batch from results", "group_ids", groupIDs, "error", err)
		for _, w := range batch {
			if abortErr := o.Rewriter.Abort(ctx, w.info.GroupID); abortErr != nil {
				o.groupLog(ctx, w.info).Warn("abort failed", "error", abortErr)
			}
			o.recordAbort(ctx, w.info.GroupID)
			if o.Metrics != nil {
				o.Metrics.IncGroupsAborted(metrics.Labels{Partition: w.info.Partition})
			}
		}
		return
	}

	for _, w := range batch {
		results.Store(w.info, w.result)
		o.recordCommit(ctx, w.info.GroupID)
		o.observeCommitted(w)
	}
}

func ceilDiv(total, maxCommits int) int {
	if maxCommits <= 0 {
		return total
	}
	return (total + maxCommits - 1) / maxCommits
}
