package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/withObsrvr/obsrvr-table-compactor/internal/auditlog"
	"github.com/withObsrvr/obsrvr-table-compactor/internal/ledger"
	"github.com/withObsrvr/obsrvr-table-compactor/internal/logging"
	"github.com/withObsrvr/obsrvr-table-compactor/internal/metrics"
	"github.com/withObsrvr/obsrvr-table-compactor/internal/planner"
	"github.com/withObsrvr/obsrvr-table-compactor/internal/resultmap"
)

// committerShutdownTimeout bounds how long the partial-progress committer
// may take to drain after rewrite workers finish. Exceeding it is fatal.
const committerShutdownTimeout = 10 * time.Minute

// Orchestrator drives a Rewriter across a set of planner-emitted file
// groups. AuditLog and Ledger are optional: nil disables their respective
// side channel without affecting commit semantics.
type Orchestrator struct {
	Rewriter Rewriter
	Config   Config
	AuditLog *auditlog.Log
	Ledger   *ledger.Ledger
	Metrics  *metrics.Metrics
	RunID    string

	log            *slog.Logger
	runStart       time.Time
	committedCount atomic.Int64
}

// New builds an Orchestrator with a normalized config.
func New(rewriter Rewriter, cfg Config, runID string) (*Orchestrator, error) {
	cfg, err := cfg.Normalize()
	if err != nil {
		return nil, err
	}
	return &Orchestrator{
		Rewriter: rewriter,
		Config:   cfg,
		RunID:    runID,
		log:      logging.Component("orchestrator").With("run_id", runID),
	}, nil
}

// Run assigns group info to every planner group, skips groups the ledger
// already recorded as committed for this run, and dispatches the rest in
// either all-or-nothing or partial-progress mode, per Config.
func (o *Orchestrator) Run(ctx context.Context, groups []planner.FileGroup) (*resultmap.Map, error) {
	o.runStart = time.Now()
	tasks := assignGroupInfo(groups)

	if o.Ledger != nil {
		committed, err := o.Ledger.Load(o.RunID)
		if err == nil {
			remaining := tasks[:0]
			for _, t := range tasks {
				if committed[t.info.GroupID] {
					continue
				}
				remaining = append(remaining, t)
			}
			tasks = remaining
		} else if err != ledger.ErrNoLedger {
			o.log.Warn("ledger load failed, treating run as fresh", "error", err)
		}
	}

	results := resultmap.New()
	if len(tasks) == 0 {
		return results, nil
	}

	if o.Config.PartialProgressEnabled {
		return results, o.runPartialProgress(ctx, tasks, results)
	}
	return results, o.runAllOrNothing(ctx, tasks, results)
}

// writtenGroup is a successfully rewritten, not-yet-committed group.
type writtenGroup struct {
	info   planner.FileGroupInfo
	result planner.FileGroupResult
}

// runAllOrNothing submits every group with a bounded worker pool. On the
// first rewrite failure it stops submitting further work, aborts every
// group already written, and surfaces the original error without
// committing anything. Only on full success does it invoke a single atomic
// Commit across all groups.
func (o *Orchestrator) runAllOrNothing(ctx context.Context, tasks []groupTask, results *resultmap.Map) error {
	sem := make(chan int, o.Config.MaxConcurrentGroups)
	for i := 0; i < o.Config.MaxConcurrentGroups; i++ {
		sem <- i
	}
	var wg sync.WaitGroup

	var mu sync.Mutex
	var written []writtenGroup
	var firstErr error
	var stopped atomic.Bool
	var inFlight atomic.Int64

	for _, task := range tasks {
		if stopped.Load() {
			break
		}

		workerID := <-sem
		wg.Add(1)
		go func(task groupTask, workerID int) {
			defer wg.Done()
			defer func() { sem <- workerID }()

			if stopped.Load() {
				return
			}

			o.observeInFlight(inFlight.Add(1))
			defer func() { o.observeInFlight(inFlight.Add(-1)) }()

			start := time.Now()
			result, err := o.Rewriter.Rewrite(ctx, task.info.GroupID, task.group.Tasks)
			o.observeRewrite(task.info.Partition, time.Since(start), err)
			if err != nil {
				o.workerLog(ctx, workerID, task.info).Warn("rewrite failed", "error", err)
				stopped.Store(true)
				mu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("orchestrator: rewrite group %s failed: %w", task.info.GroupID, err)
				}
				mu.Unlock()
				return
			}

			mu.Lock()
			written = append(written, writtenGroup{info: task.info, result: result})
			mu.Unlock()
		}(task, workerID)
	}

	wg.Wait()

	if firstErr != nil {
		o.abortAll(ctx, written)
		return firstErr
	}

	groupIDs := make([]string, len(written))
	for i, w := range written {
		groupIDs[i] = w.info.GroupID
	}

	start := time.Now()
	err := o.Rewriter.Commit(ctx, groupIDs)
	o.observeCommit("all_or_nothing", time.Since(start), len(groupIDs), err)
	if err != nil {
		o.abortAll(ctx, written)
		return fmt.Errorf("orchestrator: commit failed: %w", err)
	}

	for _, w := range written {
		results.Store(w.info, w.result)
		o.recordCommit(ctx, w.info.GroupID)
		o.observeCommitted(w)
	}
	return nil
}

func (o *Orchestrator) abortAll(ctx context.Context, written []writtenGroup) {
	for _, w := range written {
		if err := o.Rewriter.Abort(ctx, w.info.GroupID); err != nil {
			o.groupLog(ctx, w.info).Warn("abort failed", "error", err)
		}
		o.recordAbort(ctx, w.info.GroupID)
		if o.Metrics != nil {
			o.Metrics.IncGroupsAborted(metrics.Labels{Partition: w.info.Partition})
		}
	}
}

// observeRewrite is a no-op when Metrics is nil, matching the AuditLog/
// Ledger pattern of optional side channels that never affect commit
// semantics.
func (o *Orchestrator) observeRewrite(partition string, elapsed time.Duration, err error) {
	if o.Metrics == nil {
		return
	}
	l := metrics.Labels{Partition: partition}
	if err != nil {
		o.Metrics.IncGroupsFailed(l)
		return
	}
	o.Metrics.ObserveRewriteDuration(l, elapsed.Seconds())
}

// observeInFlight reports the current number of groups actively rewriting.
func (o *Orchestrator) observeInFlight(n int64) {
	if o.Metrics != nil {
		o.Metrics.SetInFlightGroups(float64(n))
	}
}

func (o *Orchestrator) observeCommit(mode string, elapsed time.Duration, batchSize int, err error) {
	if o.Metrics == nil {
		return
	}
	l := metrics.Labels{Mode: mode}
	o.Metrics.ObserveCommitDuration(l, elapsed.Seconds())
	if err != nil {
		o.Metrics.IncCatalogErrors(l)
		return
	}
	o.Metrics.ObserveCommitBatchSize(float64(batchSize))
}

func (o *Orchestrator) recordCommit(ctx context.Context, groupID string) {
	if o.Ledger != nil {
		if err := o.Ledger.Record(o.RunID, groupID); err != nil {
			o.log.Warn("ledger record failed", "group_id", groupID, "error", err)
		}
	}
	if o.AuditLog != nil {
		evt := auditlog.Event{EventID: eventID(o.RunID, groupID, "commit"), RunID: o.RunID, GroupID: groupID, Kind: auditlog.KindCommitted}
		if err := o.AuditLog.Append(evt); err != nil {
			o.log.Warn("audit log append failed", "group_id", groupID, "error", err)
		}
	}
}

// observeCommitted records the per-group metrics for a group that just
// committed successfully: one commit, plus its rewrite output shape.
func (o *Orchestrator) observeCommitted(w writtenGroup) {
	if o.Metrics == nil {
		return
	}
	l := metrics.Labels{Partition: w.info.Partition}
	o.Metrics.IncGroupsCommitted(l)
	o.Metrics.ObserveOutputFilesPerGroup(l, float64(w.result.AddedFilesCount))
	o.Metrics.ObserveOutputBytesPerGroup(l, float64(w.result.OutputBytes))

	committed := o.committedCount.Add(1)
	if elapsed := time.Since(o.runStart).Seconds(); elapsed > 0 {
		o.Metrics.SetGroupsPerSecond(float64(committed) / elapsed)
	}
}

func (o *Orchestrator) recordAbort(ctx context.Context, groupID string) {
	if o.AuditLog != nil {
		evt := auditlog.Event{EventID: eventID(o.RunID, groupID, "abort"), RunID: o.RunID, GroupID: groupID, Kind: auditlog.KindAborted}
		if err := o.AuditLog.Append(evt); err != nil {
			o.log.Warn("audit log append failed", "group_id", groupID, "error", err)
		}
	}
}

func eventID(runID, groupID, kind string) string {
	return fmt.Sprintf("%s/%s/%s", runID, groupID, kind)
}

// groupLog returns a logger scoped to a single group, carrying the run's
// correlation ID (if the caller attached one via logging.WithCorrelationID)
// alongside the group's identity.
func (o *Orchestrator) groupLog(ctx context.Context, info planner.FileGroupInfo) *slog.Logger {
	return logging.GroupLogger(logging.CorrelationID(ctx), o.RunID, info.GroupID, info.Partition, info.GlobalIndex)
}

// workerLog scopes groupLog's fields to the rewrite-pool slot that's
// handling this group, so concurrent rewrite failures can be told apart in
// the log stream.
func (o *Orchestrator) workerLog(ctx context.Context, workerID int, info planner.FileGroupInfo) *slog.Logger {
	return logging.WorkerLogger(workerID).With(
		"correlation_id", logging.CorrelationID(ctx),
		"run_id", o.RunID,
		"group_id", info.GroupID,
		"partition", info.Partition,
		"global_index", info.GlobalIndex,
	)
}
