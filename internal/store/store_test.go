package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertRawIgnoreDeduplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	added, err := s.InsertRawIgnore(ctx, "m1", `{"msg_id":"m1"}`)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if !added {
		t.Fatalf("expected first insert to add a row")
	}

	added, err = s.InsertRawIgnore(ctx, "m1", `{"msg_id":"m1","changed":true}`)
	if err != nil {
		t.Fatalf("duplicate insert: %v", err)
	}
	if added {
		t.Fatalf("expected duplicate msg_id to be ignored")
	}

	recs, err := PendingRaw(ctx, s.DB(), 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 pending record, got %d", len(recs))
	}
}

func TestMarkRawProcessedRemovesFromPending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.InsertRawIgnore(ctx, "m1", `{}`); err != nil {
		t.Fatalf("insert: %v", err)
	}
	recs, err := PendingRaw(ctx, s.DB(), 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if err := MarkRawProcessed(ctx, s.DB(), recs[0].ID, time.Now()); err != nil {
		t.Fatalf("mark: %v", err)
	}

	recs, err = PendingRaw(ctx, s.DB(), 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("expected no pending records, got %d", len(recs))
	}
}

func TestFailedSentinelStillCountsAsProcessed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.InsertRawIgnore(ctx, "m1", `{}`); err != nil {
		t.Fatalf("insert: %v", err)
	}
	recs, _ := PendingRaw(ctx, s.DB(), 10)
	if err := MarkRawProcessed(ctx, s.DB(), recs[0].ID, FailedSentinel); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	recs, err := PendingRaw(ctx, s.DB(), 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("failed records must not re-enter the pending set")
	}
}

func TestInsertFactCallDuplicateSuppression(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	f := FactCall{MsgID: "m1", CallID: "c1", DateKey: 20240101, TimeKey: 120000, DispositionKey: 1}
	key, inserted, err := InsertFactCall(ctx, s.DB(), f)
	if err != nil {
		t.Fatalf("insert fact: %v", err)
	}
	if !inserted || key == 0 {
		t.Fatalf("expected first insert to add a row with a key")
	}

	_, inserted, err = InsertFactCall(ctx, s.DB(), f)
	if err != nil {
		t.Fatalf("duplicate insert: %v", err)
	}
	if inserted {
		t.Fatalf("expected duplicate natural key to be a no-op")
	}

	var count int
	if err := s.DB().QueryRow(`SELECT COUNT(*) FROM fact_calls`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 fact row, got %d", count)
	}
}

func TestRepairDates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// One valid row, one row from a mis-decoded timestamp.
	mustExec(t, s, `INSERT INTO dim_date(date_key, full_date, year, quarter, month, day_of_week)
		VALUES (20240115, '2024-01-15', 2024, 1, 1, 'Monday'), (16010101, '1601-01-01', 1601, 1, 1, 'Monday')`)
	mustExec(t, s, `INSERT INTO fact_calls(msg_id, call_id, date_key, time_key, disposition_key)
		VALUES ('m1', 'c1', 16010101, 120000, 1)`)

	now := time.Date(2024, time.June, 3, 10, 0, 0, 0, time.UTC)
	sum, err := s.RepairDates(ctx, now)
	if err != nil {
		t.Fatalf("repair: %v", err)
	}
	if sum.InvalidDates != 1 || sum.RepointedCalls != 1 || sum.DeletedDates != 1 {
		t.Fatalf("unexpected summary: %+v", sum)
	}

	var dateKey int64
	if err := s.DB().QueryRow(`SELECT date_key FROM fact_calls WHERE msg_id='m1'`).Scan(&dateKey); err != nil {
		t.Fatalf("fact date key: %v", err)
	}
	if dateKey != 20240603 {
		t.Fatalf("expected fact repointed to 20240603, got %d", dateKey)
	}

	var invalid int
	if err := s.DB().QueryRow(`SELECT COUNT(*) FROM dim_date WHERE year < 2000 OR year > 2030`).Scan(&invalid); err != nil {
		t.Fatalf("invalid count: %v", err)
	}
	if invalid != 0 {
		t.Fatalf("expected no invalid dim_date rows, got %d", invalid)
	}
}

func TestRepairDatesNoInvalidRows(t *testing.T) {
	s := newTestStore(t)

	sum, err := s.RepairDates(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("repair: %v", err)
	}
	if sum.InvalidDates != 0 || sum.RepointedCalls != 0 || sum.DeletedDates != 0 {
		t.Fatalf("expected empty summary, got %+v", sum)
	}
}

func TestHealth(t *testing.T) {
	s := newTestStore(t)
	if err := s.Health(context.Background()); err != nil {
		t.Fatalf("health: %v", err)
	}
}

func mustExec(t *testing.T, s *Store, query string, args ...any) {
	t.Helper()
	if _, err := s.DB().Exec(query, args...); err != nil {
		t.Fatalf("exec %s: %v", query, err)
	}
}
