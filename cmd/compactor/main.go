package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/withObsrvr/obsrvr-table-compactor/internal/auditlog"
	"github.com/withObsrvr/obsrvr-table-compactor/internal/catalog"
	"github.com/withObsrvr/obsrvr-table-compactor/internal/config"
	"github.com/withObsrvr/obsrvr-table-compactor/internal/ledger"
	"github.com/withObsrvr/obsrvr-table-compactor/internal/logging"
	"github.com/withObsrvr/obsrvr-table-compactor/internal/metrics"
	"github.com/withObsrvr/obsrvr-table-compactor/internal/orchestrator"
	"github.com/withObsrvr/obsrvr-table-compactor/internal/planner"
	"github.com/withObsrvr/obsrvr-table-compactor/internal/rewriter"
	"github.com/withObsrvr/obsrvr-table-compactor/internal/scan"
	"github.com/withObsrvr/obsrvr-table-compactor/internal/strategy"
)

// Version and GitSHA are overridden at build time via -ldflags.
var (
	Version = "v0.1.0"
	GitSHA  = "unknown"
)

func main() {
	var configPath, runID string
	flag.StringVar(&configPath, "config", "compactor.yaml", "path to the compactor YAML config")
	flag.StringVar(&runID, "run-id", "", "resume an existing run by ID (blank mints a fresh one)")
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.Printf("[main] Table Compactor %s (%s)", Version, GitSHA)

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("[main] failed to load config: %v", err)
	}

	logging.Setup(logging.Config{Format: cfg.Logging.Format, Level: cfg.Logging.Level})

	if runID == "" {
		runID = uuid.NewString()
	}
	slog.Info("starting run", "run_id", runID, "strategy", cfg.Strategy)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx = logging.WithCorrelationID(ctx, logging.GenerateCorrelationID())

	// Graceful shutdown handler
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		sig := <-ch
		log.Printf("[shutdown] received signal: %v", sig)
		cancel()
	}()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.Init("")
		go func() {
			if err := metrics.StartServer(cfg.Metrics.Address); err != nil {
				slog.Error("metrics server exited", "error", err)
			}
		}()
	}

	src, err := newScanSource(ctx, cfg.Scan, m)
	if err != nil {
		log.Fatalf("[main] failed to create scan source: %v", err)
	}

	// Drain takes ownership of src and closes it on every exit path.
	tasks, err := scan.Drain(ctx, src)
	if err != nil {
		log.Fatalf("[main] scan failed: %v", err)
	}
	slog.Info("scan complete", "tasks", len(tasks))

	registry, err := strategy.NewRegistry([]strategy.Strategy{strategy.BinPackStrategy{Metrics: m}})
	if err != nil {
		log.Fatalf("[main] failed to build strategy registry: %v", err)
	}
	strat, err := registry.Lookup(strategy.Name(cfg.Strategy))
	if err != nil {
		log.Fatalf("[main] unknown strategy: %v", err)
	}

	groups, err := strategy.Plan(strat, tasks, cfg.Planner)
	if err != nil {
		log.Fatalf("[main] planning failed: %v", err)
	}
	slog.Info("planning complete", "groups", len(groups))
	if len(groups) == 0 {
		slog.Info("nothing to compact, exiting")
		return
	}

	zorderColumns, err := newSortColumns(cfg.Storage.ZOrderColumns)
	if err != nil {
		log.Fatalf("[main] invalid zorder-columns config: %v", err)
	}

	rw, err := rewriter.NewParquetRewriter(ctx, rewriter.Config{
		BucketURL:     cfg.Storage.BucketURL,
		Prefix:        cfg.Storage.Prefix,
		Planner:       cfg.Planner,
		ZOrderColumns: zorderColumns,
	})
	if err != nil {
		log.Fatalf("[main] failed to create rewriter: %v", err)
	}
	rw.Metrics = m
	defer rw.Close()

	orch, err := orchestrator.New(rw, cfg.Orchestrator, runID)
	if err != nil {
		log.Fatalf("[main] failed to create orchestrator: %v", err)
	}
	orch.Metrics = m

	if cfg.AuditLog.Enabled {
		al, err := auditlog.Open(cfg.AuditLog.Path)
		if err != nil {
			log.Fatalf("[main] failed to open audit log: %v", err)
		}
		al.Metrics = m
		defer al.Close()
		orch.AuditLog = al
	}

	if cfg.Ledger.Enabled {
		led, err := ledger.New(cfg.Ledger.Dir)
		if err != nil {
			log.Fatalf("[main] failed to create ledger: %v", err)
		}
		orch.Ledger = led
	}

	results, err := orch.Run(ctx, groups)
	if err != nil {
		if ctx.Err() != nil {
			log.Printf("[main] shutdown complete")
		} else {
			log.Fatalf("[main] orchestrator failed: %v", err)
		}
	}

	var groupIDs []string
	results.Range(func(info planner.FileGroupInfo, _ planner.FileGroupResult) {
		groupIDs = append(groupIDs, info.GroupID)
	})

	cat := catalog.NewNoopCommitter()
	if err := cat.Commit(ctx, groupIDs); err != nil {
		slog.Error("catalog commit failed", "error", err)
	}

	log.Printf("[main] table compactor stopped cleanly: %d groups committed", results.Len())
	time.Sleep(100 * time.Millisecond)
}

func newScanSource(ctx context.Context, cfg config.ScanConfig, m *metrics.Metrics) (scan.Source, error) {
	if cfg.Source == "blob" {
		src, err := scan.NewBlobSource(ctx, cfg.Path, cfg.Prefix)
		if err != nil {
			return nil, err
		}
		src.Metrics = m
		return src, nil
	}
	src := scan.NewLocalSource(cfg.Path)
	src.Metrics = m
	return src, nil
}

func newSortColumns(cfgs []config.ZOrderColumnConfig) ([]rewriter.SortColumn, error) {
	if len(cfgs) == 0 {
		return nil, nil
	}
	cols := make([]rewriter.SortColumn, len(cfgs))
	for i, c := range cfgs {
		kind, err := parseColumnKind(c.Kind)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", c.Name, err)
		}
		cols[i] = rewriter.SortColumn{Name: c.Name, Kind: kind, Width: c.Width}
	}
	return cols, nil
}

func parseColumnKind(kind string) (rewriter.ColumnKind, error) {
	switch kind {
	case "int32":
		return rewriter.KindInt32, nil
	case "int64":
		return rewriter.KindInt64, nil
	case "float32":
		return rewriter.KindFloat32, nil
	case "float64":
		return rewriter.KindFloat64, nil
	case "string":
		return rewriter.KindString, nil
	default:
		return 0, fmt.Errorf("unknown kind %q", kind)
	}
}
