package metrics

import "sync/atomic"

// Metrics captures shared operational stats for the ingest and transform phases.
type Metrics struct {
	recordsFetched  int64
	recordsInserted int64
	recordsSkipped  int64

	recordsTransformed int64
	recordsFailed      int64
	batchesCommitted   int64
}

// Snapshot provides a consistent view of the current metrics.
type Snapshot struct {
	RecordsFetched     int64
	RecordsInserted    int64
	RecordsSkipped     int64
	RecordsTransformed int64
	RecordsFailed      int64
	BatchesCommitted   int64
}

// New creates a zeroed Metrics instance.
func New() *Metrics {
	return &Metrics{}
}

// RecordFetch accounts for one API or spool page: how many records came in and
// how many were new to the raw store.
func (m *Metrics) RecordFetch(fetched, inserted int) {
	atomic.AddInt64(&m.recordsFetched, int64(fetched))
	atomic.AddInt64(&m.recordsInserted, int64(inserted))
	atomic.AddInt64(&m.recordsSkipped, int64(fetched-inserted))
}

// RecordTransform increments transformed/failed counters based on outcome.
func (m *Metrics) RecordTransform(err error) {
	if err != nil {
		atomic.AddInt64(&m.recordsFailed, 1)
		return
	}
	atomic.AddInt64(&m.recordsTransformed, 1)
}

// RecordBatchCommit counts one committed transform batch.
func (m *Metrics) RecordBatchCommit() {
	atomic.AddInt64(&m.batchesCommitted, 1)
}

// Snapshot returns a read-only view of metrics.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		RecordsFetched:     atomic.LoadInt64(&m.recordsFetched),
		RecordsInserted:    atomic.LoadInt64(&m.recordsInserted),
		RecordsSkipped:     atomic.LoadInt64(&m.recordsSkipped),
		RecordsTransformed: atomic.LoadInt64(&m.recordsTransformed),
		RecordsFailed:      atomic.LoadInt64(&m.recordsFailed),
		BatchesCommitted:   atomic.LoadInt64(&m.batchesCommitted),
	}
}
