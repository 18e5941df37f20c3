package transform

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/abhisheks2010/ALLCDRTOSQL1/internal/dimension"
	"github.com/abhisheks2010/ALLCDRTOSQL1/internal/store"
	"github.com/abhisheks2010/ALLCDRTOSQL1/metrics"
)

// Summary captures the outcome of one transformation run.
type Summary struct {
	Found       int `json:"found"`
	Transformed int `json:"transformed"`
	Failed      int `json:"failed"`
	Batches     int `json:"batches"`
}

// Runner drives transformation of pending raw records in bounded batches
// until none remain. One Runner is one run: it owns the resolver cache and
// discards it when the run ends.
type Runner struct {
	store     *store.Store
	tr        *Transformer
	batchSize int
	log       *logrus.Entry
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewRunner(st *store.Store, accountID, defaultRegion string, batchSize int, log *logrus.Entry, m *metrics.Metrics) *Runner {
	res := dimension.NewResolver()
	return &Runner{
		store:     st,
		tr:        NewTransformer(res, accountID, defaultRegion, log),
		batchSize: batchSize,
		log:       log,
		metrics:   m,
		now:       time.Now,
	}
}

// Run processes batches until a selection comes back empty. Each batch is one
// transaction: dimension, fact, and bookkeeping writes land together or not
// at all. A record-level failure marks that record with the sentinel and the
// batch continues; a storage failure rolls the batch back and aborts the run.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	var sum Summary
	for {
		n, err := r.runBatch(ctx, &sum)
		if err != nil {
			return sum, err
		}
		if n == 0 {
			break
		}
	}
	r.log.WithFields(logrus.Fields{
		"found":       sum.Found,
		"transformed": sum.Transformed,
		"failed":      sum.Failed,
		"batches":     sum.Batches,
	}).Info("transform run complete")
	return sum, nil
}

func (r *Runner) runBatch(ctx context.Context, sum *Summary) (int, error) {
	tx, err := r.store.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin batch: %w", err)
	}
	defer tx.Rollback()

	recs, err := store.PendingRaw(ctx, tx, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("select pending: %w", err)
	}
	if len(recs) == 0 {
		return 0, nil
	}
	sum.Found += len(recs)

	batchFailed := 0
	for _, rec := range recs {
		err := r.tr.Transform(ctx, tx, rec)
		r.metrics.RecordTransform(err)
		if err != nil {
			batchFailed++
			sum.Failed++
			r.log.WithFields(logrus.Fields{
				"raw_id": rec.ID,
				"msg_id": rec.MsgID,
			}).WithError(err).Error("record transformation failed")
			if markErr := store.MarkRawProcessed(ctx, tx, rec.ID, store.FailedSentinel); markErr != nil {
				return 0, fmt.Errorf("mark failed record %d: %w", rec.ID, markErr)
			}
			continue
		}
		sum.Transformed++
		if err := store.MarkRawProcessed(ctx, tx, rec.ID, r.now().UTC()); err != nil {
			return 0, fmt.Errorf("mark record %d: %w", rec.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit batch: %w", err)
	}
	sum.Batches++
	r.metrics.RecordBatchCommit()
	r.log.WithFields(logrus.Fields{
		"found":  len(recs),
		"failed": batchFailed,
	}).Info("batch committed")
	return len(recs), nil
}
