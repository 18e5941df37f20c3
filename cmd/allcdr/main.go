package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/abhisheks2010/ALLCDRTOSQL1/config"
	"github.com/abhisheks2010/ALLCDRTOSQL1/internal/ingest"
	"github.com/abhisheks2010/ALLCDRTOSQL1/internal/logger"
	"github.com/abhisheks2010/ALLCDRTOSQL1/internal/store"
	"github.com/abhisheks2010/ALLCDRTOSQL1/internal/transform"
	"github.com/abhisheks2010/ALLCDRTOSQL1/metrics"
)

func main() {
	var (
		tenantName = flag.String("tenant", "", "tenant to run (required)")
		mode       = flag.String("mode", "run", "ingest | transform | run | watch | repair-dates")
	)
	flag.Parse()

	log := logger.New()

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("config load failed")
	}
	if *tenantName == "" {
		fmt.Fprintln(os.Stderr, "usage: allcdr -tenant <name> [-mode ingest|transform|run|watch|repair-dates]")
		os.Exit(2)
	}
	tenant, ok := cfg.Tenant(*tenantName)
	if !ok {
		log.WithField("tenant", *tenantName).Fatal("tenant not configured")
	}

	runLog := log.WithFields(logrus.Fields{
		"tenant": tenant.Name,
		"run_id": uuid.NewString(),
	})

	if dir := filepath.Dir(tenant.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			runLog.WithError(err).Fatal("failed to ensure db dir")
		}
	}
	st, err := store.Open(tenant.DBPath)
	if err != nil {
		runLog.WithError(err).Fatal("open db")
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := st.Health(ctx); err != nil {
		runLog.WithError(err).Fatal("db health check failed")
	}

	m := metrics.New()

	switch *mode {
	case "ingest":
		runIngest(ctx, st, tenant, runLog, m)
	case "transform":
		runTransform(ctx, st, tenant, cfg.BatchSize, runLog, m)
	case "run":
		runIngest(ctx, st, tenant, runLog, m)
		runTransform(ctx, st, tenant, cfg.BatchSize, runLog, m)
	case "watch":
		runWatch(ctx, st, tenant, runLog, m)
	case "repair-dates":
		runRepairDates(ctx, st, runLog)
	default:
		fmt.Fprintf(os.Stderr, "unknown mode %q\n", *mode)
		os.Exit(2)
	}

	snap := m.Snapshot()
	runLog.WithFields(logrus.Fields{
		"fetched":     snap.RecordsFetched,
		"inserted":    snap.RecordsInserted,
		"duplicates":  snap.RecordsSkipped,
		"transformed": snap.RecordsTransformed,
		"failed":      snap.RecordsFailed,
		"batches":     snap.BatchesCommitted,
	}).Info("pipeline run finished")
}

func runIngest(ctx context.Context, st *store.Store, tenant config.Tenant, log *logrus.Entry, m *metrics.Metrics) {
	f := ingest.NewFetcher(st, tenant, log, m)
	if _, err := f.Run(ctx); err != nil {
		log.WithError(err).Fatal("ingestion failed")
	}
}

func runTransform(ctx context.Context, st *store.Store, tenant config.Tenant, batchSize int, log *logrus.Entry, m *metrics.Metrics) {
	r := transform.NewRunner(st, tenant.AccountID, tenant.DefaultRegion, batchSize, log, m)
	if _, err := r.Run(ctx); err != nil {
		log.WithError(err).Fatal("transformation failed")
	}
}

func runWatch(ctx context.Context, st *store.Store, tenant config.Tenant, log *logrus.Entry, m *metrics.Metrics) {
	if tenant.SpoolDir == "" {
		log.Fatal("tenant has no spool_dir configured")
	}
	w := ingest.NewSpoolWatcher(st, tenant.SpoolDir, log, m)
	if err := w.Backfill(ctx); err != nil {
		log.WithError(err).Warn("spool backfill failed")
	}
	if err := w.Start(ctx); err != nil {
		log.WithError(err).Fatal("spool watcher failed to start")
	}
	log.WithField("dir", tenant.SpoolDir).Info("watching spool directory")
	<-ctx.Done()
}

func runRepairDates(ctx context.Context, st *store.Store, log *logrus.Entry) {
	sum, err := st.RepairDates(ctx, time.Now().UTC())
	if err != nil {
		log.WithError(err).Fatal("date repair failed")
	}
	log.WithFields(logrus.Fields{
		"invalid":   sum.InvalidDates,
		"repointed": sum.RepointedCalls,
		"deleted":   sum.DeletedDates,
	}).Info("date repair complete")
}
