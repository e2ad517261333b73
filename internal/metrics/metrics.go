// Package metrics provides Prometheus metrics for the table compactor.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the compactor.
type Metrics struct {
	// Planner metrics
	GroupsPlanned  *prometheus.CounterVec
	TasksSelected  *prometheus.CounterVec
	GroupSizeBytes *prometheus.HistogramVec

	// Orchestrator / group lifecycle metrics
	GroupsCommitted *prometheus.CounterVec
	GroupsAborted   *prometheus.CounterVec
	GroupsFailed    *prometheus.CounterVec

	// Timing metrics
	RewriteDuration *prometheus.HistogramVec
	CommitDuration  *prometheus.HistogramVec

	// Size metrics
	OutputFilesPerGroup *prometheus.HistogramVec
	OutputBytesPerGroup *prometheus.HistogramVec

	// Pipeline metrics
	InFlightGroups      prometheus.Gauge
	CompletedQueueDepth prometheus.Gauge
	CommitBatchSize     prometheus.Histogram

	// Error metrics
	ScanErrors     *prometheus.CounterVec
	RewriteErrors  *prometheus.CounterVec
	CatalogErrors  *prometheus.CounterVec
	AuditLogErrors *prometheus.CounterVec

	// Throughput
	GroupsPerSecond prometheus.Gauge
}

// Config holds metrics configuration.
type Config struct {
	Enabled bool
	Address string // Address for metrics HTTP server (e.g., ":9090")
}

var defaultMetrics *Metrics

// Init initializes the metrics package with global metrics. Call this once
// at startup.
func Init(namespace string) *Metrics {
	if namespace == "" {
		namespace = "table_compactor"
	}

	m := &Metrics{
		GroupsPlanned: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "groups_planned_total",
				Help:      "Total number of file groups emitted by the planner",
			},
			[]string{"partition", "strategy"},
		),
		TasksSelected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_selected_total",
				Help:      "Total number of scan tasks selected as rewrite candidates",
			},
			[]string{"partition"},
		),
		GroupSizeBytes: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "group_size_bytes",
				Help:      "Total input size of a planned file group",
				Buckets:   prometheus.ExponentialBuckets(1<<20, 2, 12), // 1MiB to ~2GiB
			},
			[]string{"partition"},
		),
		GroupsCommitted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "groups_committed_total",
				Help:      "Total number of file groups successfully committed",
			},
			[]string{"partition"},
		),
		GroupsAborted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "groups_aborted_total",
				Help:      "Total number of file groups aborted after a rewrite or commit failure",
			},
			[]string{"partition"},
		),
		GroupsFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "groups_failed_total",
				Help:      "Total number of file groups whose rewrite failed outright",
			},
			[]string{"partition"},
		),
		RewriteDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "rewrite_duration_seconds",
				Help:      "Time to rewrite a single file group",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12), // 0.1s to ~200s
			},
			[]string{"partition"},
		),
		CommitDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "commit_duration_seconds",
				Help:      "Time to commit a batch of file groups",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
			},
			[]string{"mode"}, // "all_or_nothing" | "partial_progress"
		),
		OutputFilesPerGroup: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "output_files_per_group",
				Help:      "Number of new files written per rewritten group",
				Buckets:   prometheus.LinearBuckets(1, 1, 10),
			},
			[]string{"partition"},
		),
		OutputBytesPerGroup: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "output_bytes_per_group",
				Help:      "Total size of new files written per rewritten group",
				Buckets:   prometheus.ExponentialBuckets(1<<20, 2, 12),
			},
			[]string{"partition"},
		),
		InFlightGroups: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "in_flight_groups",
				Help:      "Number of file groups currently being rewritten",
			},
		),
		CompletedQueueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "completed_queue_depth",
				Help:      "Number of rewritten groups waiting for the committer (partial-progress mode)",
			},
		),
		CommitBatchSize: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "commit_batch_size",
				Help:      "Number of groups committed per commit call",
				Buckets:   prometheus.LinearBuckets(1, 1, 10),
			},
		),
		ScanErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scan_errors_total",
				Help:      "Total number of scan source errors",
			},
			[]string{"source_type"},
		),
		RewriteErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rewrite_errors_total",
				Help:      "Total number of rewrite errors",
			},
			[]string{"partition"},
		),
		CatalogErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "catalog_errors_total",
				Help:      "Total number of catalog commit errors",
			},
			[]string{"mode"},
		),
		AuditLogErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "audit_log_errors_total",
				Help:      "Total number of audit log append/verify errors",
			},
			[]string{"operation"},
		),
		GroupsPerSecond: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "groups_per_second",
				Help:      "Current group commit rate",
			},
		),
	}

	defaultMetrics = m
	return m
}

// Get returns the global metrics instance. Returns nil if Init has not been
// called.
func Get() *Metrics {
	return defaultMetrics
}

// StartServer starts an HTTP server for Prometheus metrics scraping.
// Blocks until the server exits.
func StartServer(address string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return http.ListenAndServe(address, mux)
}

// Labels is a convenience type for metric labels.
type Labels struct {
	Partition  string
	Strategy   string
	SourceType string
	Mode       string
	Operation  string
}

// IncGroupsPlanned increments the groups-planned counter.
func (m *Metrics) IncGroupsPlanned(l Labels) {
	m.GroupsPlanned.WithLabelValues(l.Partition, l.Strategy).Inc()
}

// AddTasksSelected adds to the tasks-selected counter.
func (m *Metrics) AddTasksSelected(l Labels, count float64) {
	m.TasksSelected.WithLabelValues(l.Partition).Add(count)
}

// ObserveGroupSizeBytes records a planned group's total input size.
func (m *Metrics) ObserveGroupSizeBytes(l Labels, bytes float64) {
	m.GroupSizeBytes.WithLabelValues(l.Partition).Observe(bytes)
}

// IncGroupsCommitted increments the groups-committed counter.
func (m *Metrics) IncGroupsCommitted(l Labels) {
	m.GroupsCommitted.WithLabelValues(l.Partition).Inc()
}

// IncGroupsAborted increments the groups-aborted counter.
func (m *Metrics) IncGroupsAborted(l Labels) {
	m.GroupsAborted.WithLabelValues(l.Partition).Inc()
}

// IncGroupsFailed increments the groups-failed counter.
func (m *Metrics) IncGroupsFailed(l Labels) {
	m.GroupsFailed.WithLabelValues(l.Partition).Inc()
}

// ObserveRewriteDuration records a single group's rewrite time.
func (m *Metrics) ObserveRewriteDuration(l Labels, seconds float64) {
	m.RewriteDuration.WithLabelValues(l.Partition).Observe(seconds)
}

// ObserveCommitDuration records a commit batch's duration.
func (m *Metrics) ObserveCommitDuration(l Labels, seconds float64) {
	m.CommitDuration.WithLabelValues(l.Mode).Observe(seconds)
}

// ObserveOutputFilesPerGroup records how many new files a rewrite produced.
func (m *Metrics) ObserveOutputFilesPerGroup(l Labels, files float64) {
	m.OutputFilesPerGroup.WithLabelValues(l.Partition).Observe(files)
}

// ObserveOutputBytesPerGroup records the total size of a rewrite's output.
func (m *Metrics) ObserveOutputBytesPerGroup(l Labels, bytes float64) {
	m.OutputBytesPerGroup.WithLabelValues(l.Partition).Observe(bytes)
}

// SetInFlightGroups sets the number of groups currently rewriting.
func (m *Metrics) SetInFlightGroups(count float64) {
	m.InFlightGroups.Set(count)
}

// SetCompletedQueueDepth sets the completed-rewrite queue depth.
func (m *Metrics) SetCompletedQueueDepth(depth float64) {
	m.CompletedQueueDepth.Set(depth)
}

// ObserveCommitBatchSize records the size of a committed batch.
func (m *Metrics) ObserveCommitBatchSize(size float64) {
	m.CommitBatchSize.Observe(size)
}

// IncScanErrors increments the scan errors counter.
func (m *Metrics) IncScanErrors(l Labels) {
	m.ScanErrors.WithLabelValues(l.SourceType).Inc()
}

// IncRewriteErrors increments the rewrite errors counter.
func (m *Metrics) IncRewriteErrors(l Labels) {
	m.RewriteErrors.WithLabelValues(l.Partition).Inc()
}

// IncCatalogErrors increments the catalog errors counter.
func (m *Metrics) IncCatalogErrors(l Labels) {
	m.CatalogErrors.WithLabelValues(l.Mode).Inc()
}

// IncAuditLogErrors increments the audit log errors counter.
func (m *Metrics) IncAuditLogErrors(l Labels) {
	m.AuditLogErrors.WithLabelValues(l.Operation).Inc()
}

// SetGroupsPerSecond sets the current commit rate.
func (m *Metrics) SetGroupsPerSecond(rate float64) {
	m.GroupsPerSecond.Set(rate)
}
