package strategy

import (
	"reflect"
	"testing"

	"github.com/withObsrvr/obsrvr-table-compactor/internal/planner"
)

func testConfig(t *testing.T) planner.Config {
	t.Helper()
	cfg, err := planner.Config{TargetFileSize: 100, MaxGroupSize: 250, MinInputFiles: 1}.Normalize()
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	return cfg
}

func testTasks() []planner.ScanTask {
	return []planner.ScanTask{
		{Path: "a", Length: 10, Partition: "p"},
		{Path: "b", Length: 20, Partition: "p"},
		{Path: "c", Length: 200, Partition: "p"},
	}
}

func TestRegistryLookupMatchesDirectPlannerCalls(t *testing.T) {
	reg, err := NewRegistry([]Strategy{BinPackStrategy{}})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	strat, err := reg.Lookup(BinPack)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}

	cfg := testConfig(t)
	tasks := testTasks()

	gotSelected := strat.SelectFilesToRewrite(tasks, cfg)
	wantSelected := planner.Select(tasks, cfg)
	if !reflect.DeepEqual(gotSelected, wantSelected) {
		t.Fatalf("SelectFilesToRewrite = %+v, want %+v", gotSelected, wantSelected)
	}

	gotGroups := strat.PlanFileGroups(gotSelected, cfg)
	wantGroups := planner.PlanFileGroups(wantSelected, cfg)
	if !reflect.DeepEqual(gotGroups, wantGroups) {
		t.Fatalf("PlanFileGroups = %+v, want %+v", gotGroups, wantGroups)
	}
}

func TestRegistryLookupUnknownName(t *testing.T) {
	reg, err := NewRegistry([]Strategy{BinPackStrategy{}})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	if _, err := reg.Lookup(Name("SORT")); err == nil {
		t.Fatal("expected error for unknown strategy name, got nil")
	}
}

type fakeStrategy struct{ name Name }

func (f fakeStrategy) Name() Name { return f.name }
func (fakeStrategy) SelectFilesToRewrite(tasks []planner.ScanTask, cfg planner.Config) []planner.ScanTask {
	return tasks
}
func (fakeStrategy) PlanFileGroups(tasks []planner.ScanTask, cfg planner.Config) []planner.FileGroup {
	return nil
}

func TestNewRegistryRejectsDuplicateNames(t *testing.T) {
	_, err := NewRegistry([]Strategy{fakeStrategy{name: BinPack}, fakeStrategy{name: BinPack}})
	if err == nil {
		t.Fatal("expected error for duplicate strategy name, got nil")
	}
}
