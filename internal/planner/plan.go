package planner

// Select retains exactly the tasks outside the well-sized band
// [minFileSize, maxFileSize]; everything inside the band is already
// acceptable and is dropped from further consideration.
func Select(tasks []ScanTask, cfg Config) []ScanTask {
	out := make([]ScanTask, 0, len(tasks))
	for _, t := range tasks {
		if t.Length < cfg.MinFileSize || t.Length > cfg.MaxFileSize {
			out = append(out, t)
		}
	}
	return out
}

// pack implements the weight-bounded list packer: tasks are appended to the
// currently open bin in input order; once the next task would push the open
// bin's total past maxGroupSize, the bin closes and a fresh one opens with
// that task. Earlier, already-closed bins are never revisited, so a single
// oversize task (larger than maxGroupSize on its own) closes its own bin
// immediately rather than being rejected or merged with neighbors.
func pack(tasks []ScanTask, maxGroupSize int64) [][]ScanTask {
	var bins [][]ScanTask
	var cur []ScanTask
	var curSize int64

	flush := func() {
		if len(cur) > 0 {
			bins = append(bins, cur)
			cur = nil
			curSize = 0
		}
	}

	for _, t := range tasks {
		if len(cur) > 0 && curSize+t.Length > maxGroupSize {
			flush()
		}
		cur = append(cur, t)
		curSize += t.Length
	}
	flush()

	return bins
}

// PlanFileGroups groups the already-selected tasks into FileGroups, one
// partition at a time in first-seen partition order, preserving each
// partition's task order, then drops groups that fail the filtering
// threshold: a group survives iff it has at least MinInputFiles members or
// its total size exceeds TargetFileSize.
func PlanFileGroups(tasks []ScanTask, cfg Config) []FileGroup {
	var partitionOrder []string
	byPartition := make(map[string][]ScanTask)
	for _, t := range tasks {
		if _, seen := byPartition[t.Partition]; !seen {
			partitionOrder = append(partitionOrder, t.Partition)
		}
		byPartition[t.Partition] = append(byPartition[t.Partition], t)
	}

	var groups []FileGroup
	for _, partition := range partitionOrder {
		for _, bin := range pack(byPartition[partition], cfg.MaxGroupSize) {
			group := FileGroup{Partition: partition, Tasks: bin}
			var total int64
			for _, t := range bin {
				total += t.Length
			}
			if len(bin) >= cfg.MinInputFiles || total > cfg.TargetFileSize {
				groups = append(groups, group)
			}
		}
	}
	return groups
}

// Plan runs Select followed by PlanFileGroups against a normalized config.
func Plan(tasks []ScanTask, cfg Config) ([]FileGroup, error) {
	cfg, err := cfg.Normalize()
	if err != nil {
		return nil, err
	}
	selected := Select(tasks, cfg)
	return PlanFileGroups(selected, cfg), nil
}

// NumOutputFiles decides how many output files a group of total size
// totalSizeInBytes should be split into, trading off sliver-remainder-file
// avoidance against adherence to TargetFileSize. Mirrors
// BinPackStrategy.numOutputFiles.
func NumOutputFiles(totalSizeInBytes int64, cfg Config) int64 {
	if totalSizeInBytes < cfg.TargetFileSize {
		return 1
	}

	hi := ceilDiv(totalSizeInBytes, cfg.TargetFileSize)
	remainder := totalSizeInBytes % cfg.TargetFileSize
	if remainder > cfg.MinFileSize {
		return hi
	}

	lo := totalSizeInBytes / cfg.TargetFileSize
	avg := totalSizeInBytes / lo
	threshold := int64(1.1 * float64(cfg.TargetFileSize))
	if writeMax := cfg.writeMaxFileSize(); writeMax < threshold {
		threshold = writeMax
	}
	if avg < threshold {
		return lo
	}
	return hi
}

// SplitSize returns the target per-file write size for a group, bounded
// above by writeMaxFileSize to absorb serialization expansion without
// overshooting into an extra sliver file.
func SplitSize(totalSizeInBytes int64, cfg Config) int64 {
	n := NumOutputFiles(totalSizeInBytes, cfg)
	estimated := totalSizeInBytes / n
	if writeMax := cfg.writeMaxFileSize(); writeMax < estimated {
		return writeMax
	}
	return estimated
}

func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}
