// Package resultmap implements the orchestrator's final result map: a
// lock-sharded concurrent map from FileGroupInfo to FileGroupResult, safe
// for concurrent Store from the goroutines that commit groups and
// concurrent Range/Len from the caller once the run completes.
package resultmap

import (
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/withObsrvr/obsrvr-table-compactor/internal/planner"
)

const shardCount = 16

type shard struct {
	mu      sync.RWMutex
	entries map[string]entry
}

type entry struct {
	info   planner.FileGroupInfo
	result planner.FileGroupResult
}

// Map is a concurrent map keyed by group ID, sharded by xxhash of the key to
// keep lock contention low under many concurrent workers.
type Map struct {
	shards [shardCount]*shard
}

// New returns an empty, ready-to-use Map.
func New() *Map {
	m := &Map{}
	for i := range m.shards {
		m.shards[i] = &shard{entries: make(map[string]entry)}
	}
	return m
}

func (m *Map) shardFor(groupID string) *shard {
	return m.shards[xxhash.Sum64String(groupID)%shardCount]
}

// Store records the result for a committed group. Safe for concurrent use.
func (m *Map) Store(info planner.FileGroupInfo, result planner.FileGroupResult) {
	s := m.shardFor(info.GroupID)
	s.mu.Lock()
	s.entries[info.GroupID] = entry{info: info, result: result}
	s.mu.Unlock()
}

// Delete removes a group's entry. The orchestrator does not call it: a
// group is only stored after its commit succeeds.
func (m *Map) Delete(groupID string) {
	s := m.shardFor(groupID)
	s.mu.Lock()
	delete(s.entries, groupID)
	s.mu.Unlock()
}

// Len returns the total number of entries across all shards.
func (m *Map) Len() int {
	total := 0
	for _, s := range m.shards {
		s.mu.RLock()
		total += len(s.entries)
		s.mu.RUnlock()
	}
	return total
}

// Range calls fn for every entry in the map. Iteration order is
// unspecified. fn must not call back into the Map.
func (m *Map) Range(fn func(info planner.FileGroupInfo, result planner.FileGroupResult)) {
	for _, s := range m.shards {
		s.mu.RLock()
		for _, e := range s.entries {
			fn(e.info, e.result)
		}
		s.mu.RUnlock()
	}
}

// Snapshot returns a plain map copy, suitable for returning to a caller
// outside the orchestrator.
func (m *Map) Snapshot() map[planner.FileGroupInfo]planner.FileGroupResult {
	out := make(map[planner.FileGroupInfo]planner.FileGroupResult, m.Len())
	m.Range(func(info planner.FileGroupInfo, result planner.FileGroupResult) {
		out[info] = result
	})
	return out
}
