package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// FailedSentinel marks a raw record whose transformation failed. It is in the
// past so failed rows are distinguishable from both pending (NULL) and
// successfully processed (recent timestamp) rows.
var FailedSentinel = time.Date(1971, time.January, 1, 0, 0, 0, 0, time.UTC)

// DBTX is satisfied by both *sql.DB and *sql.Tx so dimension resolution and
// fact writes can run inside a batch transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store wraps SQLite access for the raw CDR table and the star schema.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying handle for non-transactional reads.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Begin(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS cdr_raw_data (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			msg_id TEXT UNIQUE NOT NULL,
			record_data TEXT NOT NULL,
			etl_processed_at TIMESTAMP NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_raw_pending ON cdr_raw_data(etl_processed_at) WHERE etl_processed_at IS NULL;`,
		`CREATE TABLE IF NOT EXISTS dim_date (
			date_key INTEGER PRIMARY KEY,
			full_date TEXT,
			year INTEGER,
			quarter INTEGER,
			month INTEGER,
			day_of_week TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS dim_time_of_day (
			time_key INTEGER PRIMARY KEY,
			full_time TEXT,
			hour INTEGER,
			minute INTEGER
		);`,
		`CREATE TABLE IF NOT EXISTS dim_users (
			user_key INTEGER PRIMARY KEY AUTOINCREMENT,
			user_number TEXT UNIQUE NOT NULL,
			user_name TEXT,
			country_code INTEGER,
			country_name TEXT,
			is_agent BOOLEAN NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS dim_call_disposition (
			disposition_key INTEGER PRIMARY KEY AUTOINCREMENT,
			call_direction TEXT,
			hangup_cause TEXT,
			disposition TEXT,
			sub_disposition TEXT,
			sub_sub_disposition TEXT,
			UNIQUE(call_direction, hangup_cause, disposition, sub_disposition, sub_sub_disposition)
		);`,
		`CREATE TABLE IF NOT EXISTS dim_system (
			system_key INTEGER PRIMARY KEY AUTOINCREMENT,
			switch_hostname TEXT UNIQUE NOT NULL,
			app_name TEXT,
			realm TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS dim_campaigns (
			campaign_key INTEGER PRIMARY KEY AUTOINCREMENT,
			campaign_id TEXT UNIQUE NOT NULL,
			campaign_name TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS dim_queues (
			queue_key INTEGER PRIMARY KEY AUTOINCREMENT,
			queue_id TEXT UNIQUE NOT NULL,
			queue_name TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS fact_calls (
			call_key INTEGER PRIMARY KEY AUTOINCREMENT,
			msg_id TEXT NOT NULL,
			call_id TEXT NOT NULL,
			date_key INTEGER,
			time_key INTEGER,
			caller_user_key INTEGER,
			callee_user_key INTEGER,
			disposition_key INTEGER,
			system_key INTEGER,
			campaign_key INTEGER,
			queue_key INTEGER,
			duration_seconds INTEGER,
			billing_seconds INTEGER,
			is_conference BOOLEAN NOT NULL DEFAULT 0,
			call_recording_url TEXT,
			notes TEXT,
			UNIQUE(msg_id, call_id)
		);`,
		`CREATE TABLE IF NOT EXISTS fact_agent_legs (
			leg_key INTEGER PRIMARY KEY AUTOINCREMENT,
			call_key INTEGER NOT NULL,
			agent_user_key INTEGER NOT NULL,
			wait_seconds INTEGER NOT NULL DEFAULT 0,
			talk_seconds INTEGER NOT NULL DEFAULT 0,
			wrap_up_seconds INTEGER NOT NULL DEFAULT 0
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// RawRecord is one verbatim CDR awaiting transformation.
type RawRecord struct {
	ID      int64
	MsgID   string
	Payload string
}

// InsertRawIgnore appends a raw CDR, tolerating duplicates on msg_id.
// Returns true when the row was actually added.
func (s *Store) InsertRawIgnore(ctx context.Context, msgID, payload string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO cdr_raw_data(msg_id, record_data) VALUES(?, ?)`, msgID, payload)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// PendingRaw selects up to limit raw records that have not been processed.
func PendingRaw(ctx context.Context, q DBTX, limit int) ([]RawRecord, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, msg_id, record_data FROM cdr_raw_data WHERE etl_processed_at IS NULL ORDER BY id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var recs []RawRecord
	for rows.Next() {
		var r RawRecord
		if err := rows.Scan(&r.ID, &r.MsgID, &r.Payload); err != nil {
			return nil, err
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// MarkRawProcessed records the transformation outcome for one raw record.
func MarkRawProcessed(ctx context.Context, q DBTX, id int64, ts time.Time) error {
	_, err := q.ExecContext(ctx,
		`UPDATE cdr_raw_data SET etl_processed_at=? WHERE id=?`, ts.UTC(), id)
	return err
}

// FactCall is one row of the call fact table. Nil dimension keys persist as NULL.
type FactCall struct {
	MsgID           string
	CallID          string
	DateKey         int64
	TimeKey         int64
	CallerUserKey   *int64
	CalleeUserKey   *int64
	DispositionKey  int64
	SystemKey       *int64
	CampaignKey     *int64
	QueueKey        *int64
	DurationSeconds int64
	BillingSeconds  int64
	IsConference    bool
	RecordingURL    string
	Notes           string
}

// InsertFactCall writes a fact row with duplicate suppression on
// (msg_id, call_id). Returns the surrogate key and whether a row was added;
// an already-present natural key is a no-op.
func InsertFactCall(ctx context.Context, q DBTX, f FactCall) (int64, bool, error) {
	res, err := q.ExecContext(ctx, `INSERT OR IGNORE INTO fact_calls
		(msg_id, call_id, date_key, time_key, caller_user_key, callee_user_key,
		 disposition_key, system_key, campaign_key, queue_key,
		 duration_seconds, billing_seconds, is_conference, call_recording_url, notes)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		f.MsgID, f.CallID, f.DateKey, f.TimeKey, f.CallerUserKey, f.CalleeUserKey,
		f.DispositionKey, f.SystemKey, f.CampaignKey, f.QueueKey,
		f.DurationSeconds, f.BillingSeconds, f.IsConference,
		nullString(f.RecordingURL), nullString(f.Notes))
	if err != nil {
		return 0, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, false, err
	}
	if n == 0 {
		return 0, false, nil
	}
	key, err := res.LastInsertId()
	if err != nil {
		return 0, false, err
	}
	return key, true, nil
}

// AgentLeg is one agent's participation segment in a call.
type AgentLeg struct {
	CallKey       int64
	AgentUserKey  int64
	WaitSeconds   int64
	TalkSeconds   int64
	WrapUpSeconds int64
}

func InsertAgentLeg(ctx context.Context, q DBTX, leg AgentLeg) error {
	_, err := q.ExecContext(ctx, `INSERT INTO fact_agent_legs
		(call_key, agent_user_key, wait_seconds, talk_seconds, wrap_up_seconds)
		VALUES(?,?,?,?,?)`,
		leg.CallKey, leg.AgentUserKey, leg.WaitSeconds, leg.TalkSeconds, leg.WrapUpSeconds)
	return err
}

// RepairSummary reports what a date-repair pass did.
type RepairSummary struct {
	InvalidDates    int
	RepointedCalls  int
	DeletedDates    int
	CurrentDateKey  int64
}

// RepairDates repoints fact rows referencing dim_date entries whose year fell
// outside [2000, 2030] to the current date, then deletes the invalid entries.
// Runs in one transaction.
func (s *Store) RepairDates(ctx context.Context, now time.Time) (RepairSummary, error) {
	var sum RepairSummary
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return sum, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT date_key FROM dim_date WHERE year < 2000 OR year > 2030`)
	if err != nil {
		return sum, err
	}
	var invalid []int64
	for rows.Next() {
		var k int64
		if err := rows.Scan(&k); err != nil {
			rows.Close()
			return sum, err
		}
		invalid = append(invalid, k)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return sum, err
	}
	sum.InvalidDates = len(invalid)
	if len(invalid) == 0 {
		return sum, tx.Commit()
	}

	cur := int64(now.Year())*10000 + int64(now.Month())*100 + int64(now.Day())
	sum.CurrentDateKey = cur
	quarter := (int(now.Month())-1)/3 + 1
	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO dim_date
		(date_key, full_date, year, quarter, month, day_of_week) VALUES(?,?,?,?,?,?)`,
		cur, now.Format("2006-01-02"), now.Year(), quarter, int(now.Month()), now.Weekday().String()); err != nil {
		return sum, err
	}

	placeholders := strings.TrimRight(strings.Repeat("?,", len(invalid)), ",")
	args := make([]any, 0, len(invalid)+1)
	args = append(args, cur)
	for _, k := range invalid {
		args = append(args, k)
	}
	res, err := tx.ExecContext(ctx,
		fmt.Sprintf(`UPDATE fact_calls SET date_key=? WHERE date_key IN (%s)`, placeholders), args...)
	if err != nil {
		return sum, err
	}
	if n, err := res.RowsAffected(); err == nil {
		sum.RepointedCalls = int(n)
	}

	res, err = tx.ExecContext(ctx, `DELETE FROM dim_date WHERE year < 2000 OR year > 2030`)
	if err != nil {
		return sum, err
	}
	if n, err := res.RowsAffected(); err == nil {
		sum.DeletedDates = int(n)
	}
	return sum, tx.Commit()
}

// Health returns err if DB not reachable.
func (s *Store) Health(ctx context.Context) error {
	row := s.db.QueryRowContext(ctx, `SELECT 1`)
	var v int
	if err := row.Scan(&v); err != nil {
		return fmt.Errorf("db health: %w", err)
	}
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
