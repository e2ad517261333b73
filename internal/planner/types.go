// Package planner implements the bin-pack compaction planner: selecting
// candidate scan tasks outside a well-sized band, grouping them into bounded
// file groups, filtering groups below the minimum-value threshold, and
// computing the output-file count and split size for each surviving group.
package planner

import "fmt"

// ScanTask is an opaque handle for a file-scoped read unit. Length is bytes;
// Partition is an opaque equality-comparable key shared by every task that
// belongs to the same partition.
type ScanTask struct {
	Path      string
	Length    int64
	Partition string
}

// FileGroup is a finite ordered sequence of ScanTasks that all belong to the
// same partition. Sum of Length over Tasks is bounded by the planner's
// maxGroupSize, except when the group holds exactly one oversize task.
type FileGroup struct {
	Partition string
	Tasks     []ScanTask
}

// TotalSize returns the sum of Length across every task in the group.
func (g FileGroup) TotalSize() int64 {
	var total int64
	for _, t := range g.Tasks {
		total += t.Length
	}
	return total
}

// FileGroupInfo identifies an emitted group. GlobalIndex and PartitionIndex
// are 1-based and assigned in planner emission order; both are immutable
// once a group is created.
type FileGroupInfo struct {
	GroupID        string
	GlobalIndex    int
	PartitionIndex int
	Partition      string
}

// FileGroupResult is produced by a rewriter after it successfully rewrites a
// group, and is attached to the group's FileGroupInfo in the orchestrator's
// final result map.
type FileGroupResult struct {
	AddedFilesCount     int
	RewrittenFilesCount int
	OutputBytes         int64
}

// Config holds the recognized BINPACK planner options. Zero values for
// MinFileSize/MaxFileSize/MinInputFiles mean "use the default derived from
// TargetFileSize" — see Normalize.
type Config struct {
	TargetFileSize int64
	MinFileSize    int64
	MaxFileSize    int64
	MaxGroupSize   int64
	MinInputFiles  int

	// minFileSizeSet / maxFileSizeSet / minInputFilesSet track whether the
	// caller explicitly supplied a value, so Normalize can tell "explicit
	// zero" apart from "not set" before applying defaults.
	minFileSizeSet   bool
	maxFileSizeSet   bool
	minInputFilesSet bool
}

const (
	minFileSizeDefaultRatio = 0.75
	maxFileSizeDefaultRatio = 1.80
	minInputFilesDefault    = 5
)

// WithMinFileSize records an explicit min-file-size-bytes option.
func (c Config) WithMinFileSize(v int64) Config {
	c.MinFileSize = v
	c.minFileSizeSet = true
	return c
}

// WithMaxFileSize records an explicit max-file-size-bytes option.
func (c Config) WithMaxFileSize(v int64) Config {
	c.MaxFileSize = v
	c.maxFileSizeSet = true
	return c
}

// WithMinInputFiles records an explicit min-input-files option.
func (c Config) WithMinInputFiles(v int) Config {
	c.MinInputFiles = v
	c.minInputFilesSet = true
	return c
}

// Normalize fills in defaults for any option the caller didn't set, then
// validates the result. It must run before the config is used to plan.
func (c Config) Normalize() (Config, error) {
	if !c.minFileSizeSet && c.MinFileSize == 0 {
		c.MinFileSize = int64(float64(c.TargetFileSize) * minFileSizeDefaultRatio)
	}
	if !c.maxFileSizeSet && c.MaxFileSize == 0 {
		c.MaxFileSize = int64(float64(c.TargetFileSize) * maxFileSizeDefaultRatio)
	}
	if !c.minInputFilesSet && c.MinInputFiles == 0 {
		c.MinInputFiles = minInputFilesDefault
	}
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// validate mirrors BinPackStrategy.validateOptions(): every check there has
// a corresponding check here, plus a positive MaxGroupSize check.
func (c Config) validate() error {
	if c.MinFileSize < 0 {
		return fmt.Errorf("planner: min-file-size-bytes must not be negative, got %d", c.MinFileSize)
	}
	if c.MaxFileSize <= c.MinFileSize {
		return fmt.Errorf("planner: max-file-size-bytes (%d) must be greater than min-file-size-bytes (%d)", c.MaxFileSize, c.MinFileSize)
	}
	if c.TargetFileSize <= c.MinFileSize {
		return fmt.Errorf("planner: target-file-size-bytes (%d) must be greater than min-file-size-bytes (%d), otherwise every rewritten file would be smaller than the threshold", c.TargetFileSize, c.MinFileSize)
	}
	if c.TargetFileSize >= c.MaxFileSize {
		return fmt.Errorf("planner: target-file-size-bytes (%d) must be less than max-file-size-bytes (%d), otherwise every rewritten file would be larger than the threshold", c.TargetFileSize, c.MaxFileSize)
	}
	if c.MinInputFiles < 1 {
		return fmt.Errorf("planner: min-input-files must be at least 1, got %d", c.MinInputFiles)
	}
	if c.MaxGroupSize <= 0 {
		return fmt.Errorf("planner: max-file-group-size-bytes must be positive, got %d", c.MaxGroupSize)
	}
	return nil
}

// writeMaxFileSize is the target size inflated by half the distance to
// MaxFileSize, used to avoid sliver remainder files caused by serialization
// expansion during the actual write.
func (c Config) writeMaxFileSize() int64 {
	return c.TargetFileSize + int64(float64(c.MaxFileSize-c.TargetFileSize)*0.5)
}
