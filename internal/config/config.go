// Package config loads and validates the compactor's YAML configuration
// surface: strategy/planner/orchestrator options, plus scan/storage/
// audit-log/ledger/logging/metrics sections. Reads a YAML document
// (gopkg.in/yaml.v3) and rejects unrecognized keys so a typo in the config
// file fails fast instead of silently doing nothing.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/withObsrvr/obsrvr-table-compactor/internal/orchestrator"
	"github.com/withObsrvr/obsrvr-table-compactor/internal/planner"
)

// RawConfig is the literal YAML shape. KnownFields strictness (applied at
// decode time via yaml.Decoder.KnownFields) is what rejects unrecognized
// keys, rather than a manual field enumeration.
type RawConfig struct {
	Strategy string `yaml:"strategy"`

	TargetFileSizeBytes   int64 `yaml:"target-file-size-bytes"`
	MinFileSizeBytes      int64 `yaml:"min-file-size-bytes"`
	MaxFileSizeBytes      int64 `yaml:"max-file-size-bytes"`
	MinInputFiles         int   `yaml:"min-input-files"`
	MaxFileGroupSizeBytes int64 `yaml:"max-file-group-size-bytes"`

	MaxConcurrentFileGroupActions int                   `yaml:"max-concurrent-file-group-actions"`
	PartialProgress               PartialProgressConfig `yaml:"partial-progress"`

	Scan     ScanConfig     `yaml:"scan"`
	Storage  StorageConfig  `yaml:"storage"`
	AuditLog AuditLogConfig `yaml:"audit-log"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// PartialProgressConfig holds the partial-progress.* options.
type PartialProgressConfig struct {
	Enabled    bool `yaml:"enabled"`
	MaxCommits int  `yaml:"max-commits"`
}

// ScanConfig selects and configures a scan source (internal/scan).
type ScanConfig struct {
	Source string `yaml:"source"` // "local" | "blob"
	Path   string `yaml:"path"`   // local directory, or bucket URL for blob
	Prefix string `yaml:"prefix"` // blob key prefix
}

// StorageConfig configures the reference rewriter's output destination.
type StorageConfig struct {
	BucketURL     string               `yaml:"bucket-url"`
	Prefix        string               `yaml:"prefix"`
	ZOrderColumns []ZOrderColumnConfig `yaml:"zorder-columns"`
}

// ZOrderColumnConfig names one column folded into the rewriter's composite
// Z-order sort key, in the fixed order they should be interleaved.
type ZOrderColumnConfig struct {
	Name  string `yaml:"name"`
	Kind  string `yaml:"kind"` // "int32" | "int64" | "float32" | "float64" | "string"
	Width int    `yaml:"width"`
}

// AuditLogConfig configures the hash-chained commit audit log.
type AuditLogConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LedgerConfig configures the resumable commit ledger.
type LedgerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// LoggingConfig configures internal/logging.
type LoggingConfig struct {
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
}

// MetricsConfig configures internal/metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// Loaded is the validated, ready-to-wire configuration.
type Loaded struct {
	Strategy     string
	Planner      planner.Config
	Orchestrator orchestrator.Config
	Scan         ScanConfig
	Storage      StorageConfig
	AuditLog     AuditLogConfig
	Ledger       LedgerConfig
	Logging      LoggingConfig
	Metrics      MetricsConfig
}

// Load reads and validates the YAML config at path.
func Load(path string) (Loaded, error) {
	f, err := os.Open(path)
	if err != nil {
		return Loaded{}, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)

	var raw RawConfig
	if err := dec.Decode(&raw); err != nil {
		return Loaded{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	return raw.normalize()
}

func (raw RawConfig) normalize() (Loaded, error) {
	if raw.Strategy == "" {
		raw.Strategy = "BINPACK"
	}

	plannerCfg := planner.Config{
		TargetFileSize: raw.TargetFileSizeBytes,
		MaxGroupSize:   raw.MaxFileGroupSizeBytes,
	}
	if raw.MinFileSizeBytes != 0 {
		plannerCfg = plannerCfg.WithMinFileSize(raw.MinFileSizeBytes)
	}
	if raw.MaxFileSizeBytes != 0 {
		plannerCfg = plannerCfg.WithMaxFileSize(raw.MaxFileSizeBytes)
	}
	if raw.MinInputFiles != 0 {
		plannerCfg = plannerCfg.WithMinInputFiles(raw.MinInputFiles)
	}
	plannerCfg, err := plannerCfg.Normalize()
	if err != nil {
		return Loaded{}, err
	}

	orchCfg, err := orchestrator.Config{
		MaxConcurrentGroups:    raw.MaxConcurrentFileGroupActions,
		PartialProgressEnabled: raw.PartialProgress.Enabled,
		MaxCommits:             raw.PartialProgress.MaxCommits,
	}.Normalize()
	if err != nil {
		return Loaded{}, err
	}

	return Loaded{
		Strategy:     raw.Strategy,
		Planner:      plannerCfg,
		Orchestrator: orchCfg,
		Scan:         raw.Scan,
		Storage:      raw.Storage,
		AuditLog:     raw.AuditLog,
		Ledger:       raw.Ledger,
		Logging:      raw.Logging,
		Metrics:      raw.Metrics,
	}, nil
}
