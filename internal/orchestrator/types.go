// Package orchestrator coordinates concurrent execution of rewrite groups
// produced by internal/planner, in either all-or-nothing or
// partial-progress mode: a bounded worker pool dispatches rewrites, and a
// single committer sequences their results into atomic commit batches.
package orchestrator

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/withObsrvr/obsrvr-table-compactor/internal/planner"
)

// Rewriter is the capability record the orchestrator drives: rewrite a
// group's tasks, commit a batch of groups atomically, or abort a single
// group's uncommitted output. Implementations must be safe for concurrent
// use across all three methods.
type Rewriter interface {
	Rewrite(ctx context.Context, groupID string, tasks []planner.ScanTask) (planner.FileGroupResult, error)
	Commit(ctx context.Context, groupIDs []string) error
	Abort(ctx context.Context, groupID string) error
}

// Config holds the recognized orchestrator options.
type Config struct {
	MaxConcurrentGroups   int
	PartialProgressEnabled bool
	MaxCommits            int
}

// Normalize validates the config.
func (c Config) Normalize() (Config, error) {
	if c.MaxConcurrentGroups < 1 {
		return Config{}, fmt.Errorf("orchestrator: max-concurrent-file-group-actions must be >= 1, got %d", c.MaxConcurrentGroups)
	}
	if c.PartialProgressEnabled && c.MaxCommits < 1 {
		return Config{}, fmt.Errorf("orchestrator: partial-progress.max-commits must be >= 1 when partial progress is enabled, got %d", c.MaxCommits)
	}
	return c, nil
}

// groupTask pairs a planner-emitted FileGroup with its assigned
// FileGroupInfo (globalIndex/partitionIndex/groupID), ready for dispatch.
type groupTask struct {
	info  planner.FileGroupInfo
	group planner.FileGroup
}

// assignGroupInfo enumerates groups by iterating partitions in planner
// order, assigning a monotonically increasing GlobalIndex and a
// per-partition PartitionIndex, and minting a fresh group ID for each.
// Both indices are 1-based.
func assignGroupInfo(groups []planner.FileGroup) []groupTask {
	tasks := make([]groupTask, 0, len(groups))
	partitionCounters := make(map[string]int)

	for i, g := range groups {
		partitionCounters[g.Partition]++
		info := planner.FileGroupInfo{
			GroupID:        uuid.NewString(),
			GlobalIndex:    i + 1,
			PartitionIndex: partitionCounters[g.Partition],
			Partition:      g.Partition,
		}
		tasks = append(tasks, groupTask{info: info, group: g})
	}
	return tasks
}
