package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/withObsrvr/obsrvr-table-compactor/internal/planner"
	"github.com/withObsrvr/obsrvr-table-compactor/internal/resultmap"
)

// fakeRewriter records calls and lets tests script per-group rewrite
// failures and a single commit failure.
type fakeRewriter struct {
	mu sync.Mutex

	failRewrite map[string]bool
	failCommit  bool
	commitCalls [][]string
	abortCalls  []string
}

func newFakeRewriter() *fakeRewriter {
	return &fakeRewriter{failRewrite: make(map[string]bool)}
}

func (f *fakeRewriter) Rewrite(_ context.Context, groupID string, tasks []planner.ScanTask) (planner.FileGroupResult, error) {
	f.mu.Lock()
	fail := f.failRewrite[groupID]
	f.mu.Unlock()
	if fail {
		return planner.FileGroupResult{}, fmt.Errorf("simulated rewrite failure for %s", groupID)
	}
	return planner.FileGroupResult{AddedFilesCount: 1, RewrittenFilesCount: len(tasks)}, nil
}

func (f *fakeRewriter) Commit(_ context.Context, groupIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := append([]string(nil), groupIDs...)
	f.commitCalls = append(f.commitCalls, cp)
	if f.failCommit {
		f.failCommit = false // only fail once, like scenario 4's "second batch throws"
		return fmt.Errorf("simulated commit failure")
	}
	return nil
}

func (f *fakeRewriter) Abort(_ context.Context, groupID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.abortCalls = append(f.abortCalls, groupID)
	return nil
}

func threeGroups() []planner.FileGroup {
	return []planner.FileGroup{
		{Partition: "p", Tasks: []planner.ScanTask{{Path: "a", Length: 10, Partition: "p"}}},
		{Partition: "p", Tasks: []planner.ScanTask{{Path: "b", Length: 10, Partition: "p"}}},
		{Partition: "p", Tasks: []planner.ScanTask{{Path: "c", Length: 10, Partition: "p"}}},
	}
}

func TestAllOrNothingHappyPath(t *testing.T) {
	rw := newFakeRewriter()
	o, err := New(rw, Config{MaxConcurrentGroups: 3}, "run1")
	if err != nil {
		t.Fatal(err)
	}

	results, err := o.Run(context.Background(), threeGroups())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results.Len() != 3 {
		t.Fatalf("expected 3 committed entries, got %d", results.Len())
	}
	if len(rw.commitCalls) != 1 || len(rw.commitCalls[0]) != 3 {
		t.Fatalf("expected exactly one commit call with 3 group IDs, got %v", rw.commitCalls)
	}
}

func TestAllOrNothingOneRewriteFails(t *testing.T) {
	groups := threeGroups()
	tasks := assignGroupInfo(groups)

	rw := newFakeRewriter()
	// Fail the second group regardless of dispatch order.
	rw.failRewrite[tasks[1].info.GroupID] = true

	o, err := New(rw, Config{MaxConcurrentGroups: 1}, "run1")
	if err != nil {
		t.Fatal(err)
	}

	// Re-run using the orchestrator's own assignment by calling Run with
	// the same groups; since uuid generation happens inside Run, we instead
	// drive runAllOrNothing directly with our pre-assigned tasks to target
	// a specific group deterministically.
	results := resultmap.New()
	runErr := o.runAllOrNothing(context.Background(), tasks, results)

	if runErr == nil {
		t.Fatalf("expected an error from the failed rewrite")
	}
	if len(rw.commitCalls) != 0 {
		t.Fatalf("expected no commit calls, got %v", rw.commitCalls)
	}
	if results.Len() != 0 {
		t.Fatalf("expected no committed entries, got %d", results.Len())
	}

	rw.mu.Lock()
	defer rw.mu.Unlock()
	found := false
	for _, id := range rw.abortCalls {
		if id == tasks[0].info.GroupID {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected group A to be aborted after B's failure, abort calls: %v", rw.abortCalls)
	}
}

func TestPartialProgressTwoCommitsOfTwo(t *testing.T) {
	groups := []planner.FileGroup{
		{Partition: "p", Tasks: []planner.ScanTask{{Path: "a", Length: 10, Partition: "p"}}},
		{Partition: "p", Tasks: []planner.ScanTask{{Path: "b", Length: 10, Partition: "p"}}},
		{Partition: "p", Tasks: []planner.ScanTask{{Path: "c", Length: 10, Partition: "p"}}},
		{Partition: "p", Tasks: []planner.ScanTask{{Path: "d", Length: 10, Partition: "p"}}},
	}

	rw := newFakeRewriter()
	o, err := New(rw, Config{MaxConcurrentGroups: 4, PartialProgressEnabled: true, MaxCommits: 2}, "run1")
	if err != nil {
		t.Fatal(err)
	}

	results, err := o.Run(context.Background(), groups)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results.Len() != 4 {
		t.Fatalf("expected 4 committed entries, got %d", results.Len())
	}

	rw.mu.Lock()
	commitCalls := append([][]string(nil), rw.commitCalls...)
	rw.mu.Unlock()
	if len(commitCalls) != 2 || len(commitCalls[0]) != 2 || len(commitCalls[1]) != 2 {
		t.Fatalf("expected two commit calls of two groups each, got %v", commitCalls)
	}
}

func TestPartialProgressBatchFailureDropsThatBatch(t *testing.T) {
	groups := []planner.FileGroup{
		{Partition: "p", Tasks: []planner.ScanTask{{Path: "a", Length: 10, Partition: "p"}}},
		{Partition: "p", Tasks: []planner.ScanTask{{Path: "b", Length: 10, Partition: "p"}}},
		{Partition: "p", Tasks: []planner.ScanTask{{Path: "c", Length: 10, Partition: "p"}}},
		{Partition: "p", Tasks: []planner.ScanTask{{Path: "d", Length: 10, Partition: "p"}}},
	}

	rw := newFakeRewriter()
	o, err := New(rw, Config{MaxConcurrentGroups: 1, PartialProgressEnabled: true, MaxCommits: 2}, "run1")
	if err != nil {
		t.Fatal(err)
	}

	tasks := assignGroupInfo(groups)
	results := resultmap.New()

	// maxConcurrentGroups=1 serializes rewrites, making completion order
	// deterministic (a, b, c, d): first batch {a,b} commits, second {c,d}
	// fails and is dropped from results.
	secondBatchIDs := map[string]bool{tasks[2].info.GroupID: true, tasks[3].info.GroupID: true}
	adapter := &conditionalFailRewriter{fakeRewriter: rw, failGroupSet: secondBatchIDs}
	o.Rewriter = adapter

	if err := o.runPartialProgress(context.Background(), tasks, results); err != nil {
		t.Fatalf("unexpected fatal orchestrator error: %v", err)
	}

	if results.Len() != 2 {
		t.Fatalf("expected 2 entries from the surviving batch, got %d", results.Len())
	}
}

// conditionalFailRewriter fails Commit only when the batch is exactly the
// configured failGroupSet, letting other batches succeed normally.
type conditionalFailRewriter struct {
	*fakeRewriter
	failGroupSet map[string]bool
}

func (c *conditionalFailRewriter) Commit(ctx context.Context, groupIDs []string) error {
	matches := len(groupIDs) == len(c.failGroupSet)
	if matches {
		for _, id := range groupIDs {
			if !c.failGroupSet[id] {
				matches = false
				break
			}
		}
	}
	if matches {
		c.fakeRewriter.mu.Lock()
		c.fakeRewriter.commitCalls = append(c.fakeRewriter.commitCalls, append([]string(nil), groupIDs...))
		c.fakeRewriter.mu.Unlock()
		return fmt.Errorf("simulated commit failure for batch")
	}
	return c.fakeRewriter.Commit(ctx, groupIDs)
}
