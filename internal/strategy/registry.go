// Package strategy provides the rewrite-strategy registry. Today only
// BINPACK is registered; the registry exists so that SORT and ZORDER
// strategies can compose later by providing their own selection/grouping
// behavior without touching the orchestrator.
package strategy

import (
	"fmt"

	"github.com/withObsrvr/obsrvr-table-compactor/internal/planner"
)

// Name identifies a registered rewrite strategy.
type Name string

// BinPack is the only strategy shipped today.
const BinPack Name = "BINPACK"

// Strategy is a capability record of two functions: selecting which scan
// tasks are worth rewriting, and grouping the selected tasks into file
// groups. Splitting the two lets a future strategy (SORT, ZORDER) reuse one
// half — e.g. BinPack's selection threshold with a different grouping
// policy — without reimplementing both.
type Strategy interface {
	Name() Name
	SelectFilesToRewrite(tasks []planner.ScanTask, cfg planner.Config) []planner.ScanTask
	PlanFileGroups(tasks []planner.ScanTask, cfg planner.Config) []planner.FileGroup
}

// Registry holds the set of strategies a compaction run may select from.
// Construction validates that every name is unique; lookups after that are
// simple map reads.
type Registry struct {
	byName map[Name]Strategy
}

// NewRegistry validates strategies for duplicate names and builds a
// Registry.
func NewRegistry(strategies []Strategy) (*Registry, error) {
	if len(strategies) == 0 {
		return nil, fmt.Errorf("strategy: at least one strategy must be registered")
	}

	byName := make(map[Name]Strategy, len(strategies))
	for _, s := range strategies {
		if _, dup := byName[s.Name()]; dup {
			return nil, fmt.Errorf("strategy: duplicate strategy name %q", s.Name())
		}
		byName[s.Name()] = s
	}

	return &Registry{byName: byName}, nil
}

// Lookup returns the strategy registered under name, or an error if no such
// strategy was registered.
func (r *Registry) Lookup(name Name) (Strategy, error) {
	s, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("strategy: unknown strategy %q", name)
	}
	return s, nil
}

// Plan runs a strategy's two phases back to back against a normalized
// config: select, then group. This is what registry.Lookup callers should
// use instead of invoking the two Strategy methods directly, mirroring
// planner.Plan's own Select-then-PlanFileGroups sequencing.
func Plan(s Strategy, tasks []planner.ScanTask, cfg planner.Config) ([]planner.FileGroup, error) {
	cfg, err := cfg.Normalize()
	if err != nil {
		return nil, err
	}
	selected := s.SelectFilesToRewrite(tasks, cfg)
	return s.PlanFileGroups(selected, cfg), nil
}
