package ingest

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/abhisheks2010/ALLCDRTOSQL1/internal/store"
	"github.com/abhisheks2010/ALLCDRTOSQL1/metrics"
)

// SpoolWatcher monitors a directory for dropped CDR JSON files (a single
// object or an array) and appends their records to the raw store. It covers
// deployments where the switch writes CDRs to disk instead of serving them
// over the reporting API.
type SpoolWatcher struct {
	store   *store.Store
	dir     string
	log     *logrus.Entry
	metrics *metrics.Metrics
}

func NewSpoolWatcher(st *store.Store, dir string, log *logrus.Entry, m *metrics.Metrics) *SpoolWatcher {
	return &SpoolWatcher{store: st, dir: dir, log: log, metrics: m}
}

// Start begins watching the spool directory until ctx is done.
func (w *SpoolWatcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-watcher.Events:
				if !ok {
					return
				}
				if evt.Op&(fsnotify.Create|fsnotify.Rename) != 0 && isSpoolFile(evt.Name) {
					w.log.WithField("file", filepath.Base(evt.Name)).Info("spool file detected")
					w.ingestFile(ctx, evt.Name)
				}
			case err := <-watcher.Errors:
				w.log.WithError(err).Warn("spool watcher error")
			}
		}
	}()
	return watcher.Add(w.dir)
}

// Backfill ingests spool files already on disk.
func (w *SpoolWatcher) Backfill(ctx context.Context) error {
	entries, err := filepath.Glob(filepath.Join(w.dir, "*.json"))
	if err != nil {
		return err
	}
	for _, e := range entries {
		w.ingestFile(ctx, e)
	}
	return nil
}

func (w *SpoolWatcher) ingestFile(ctx context.Context, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		w.log.WithError(err).WithField("file", path).Warn("spool read failed")
		return
	}

	var records []json.RawMessage
	if err := json.Unmarshal(data, &records); err != nil {
		var single json.RawMessage
		if err := json.Unmarshal(data, &single); err != nil {
			w.log.WithField("file", path).Warn("spool file is not valid JSON")
			return
		}
		records = []json.RawMessage{single}
	}

	inserted := 0
	for _, rec := range records {
		var head struct {
			MsgID string `json:"msg_id"`
		}
		if err := json.Unmarshal(rec, &head); err != nil || head.MsgID == "" {
			w.log.WithField("file", path).Warn("spool record without msg_id, skipping")
			continue
		}
		added, err := w.store.InsertRawIgnore(ctx, head.MsgID, string(rec))
		if err != nil {
			w.log.WithError(err).WithField("msg_id", head.MsgID).Warn("spool insert failed")
			continue
		}
		if added {
			inserted++
		}
	}
	w.metrics.RecordFetch(len(records), inserted)
	w.log.WithFields(logrus.Fields{
		"file":     filepath.Base(path),
		"records":  len(records),
		"inserted": inserted,
	}).Info("spool file ingested")
}

func isSpoolFile(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}
