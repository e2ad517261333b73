package strategy

import (
	"github.com/withObsrvr/obsrvr-table-compactor/internal/metrics"
	"github.com/withObsrvr/obsrvr-table-compactor/internal/planner"
)

// BinPackStrategy is the default, and currently only, rewrite strategy: it
// selects files outside the well-sized band and groups them with the
// weight-bounded list packer in internal/planner. Metrics is optional,
// nil-safe, and set by the caller after construction.
type BinPackStrategy struct {
	Metrics *metrics.Metrics
}

// Name returns BinPack.
func (BinPackStrategy) Name() Name { return BinPack }

// SelectFilesToRewrite delegates to planner.Select, then records the
// selected-task count per partition.
func (s BinPackStrategy) SelectFilesToRewrite(tasks []planner.ScanTask, cfg planner.Config) []planner.ScanTask {
	selected := planner.Select(tasks, cfg)
	if s.Metrics != nil {
		counts := make(map[string]float64, len(selected))
		for _, t := range selected {
			counts[t.Partition]++
		}
		for partition, n := range counts {
			s.Metrics.AddTasksSelected(metrics.Labels{Partition: partition}, n)
		}
	}
	return selected
}

// PlanFileGroups delegates to planner.PlanFileGroups, then records each
// emitted group's count and input size.
func (s BinPackStrategy) PlanFileGroups(tasks []planner.ScanTask, cfg planner.Config) []planner.FileGroup {
	groups := planner.PlanFileGroups(tasks, cfg)
	if s.Metrics != nil {
		for _, g := range groups {
			l := metrics.Labels{Partition: g.Partition, Strategy: string(BinPack)}
			s.Metrics.IncGroupsPlanned(l)
			s.Metrics.ObserveGroupSizeBytes(l, float64(g.TotalSize()))
		}
	}
	return groups
}
