package dimension

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/abhisheks2010/ALLCDRTOSQL1/internal/store"
)

// Spec describes one dimension table for the generic resolver: its surrogate
// key column, the natural-key columns the uniqueness constraint covers, and
// (for the user dimension) the agent flag column.
type Spec struct {
	Table     string
	Key       string
	Natural   []string
	AgentFlag string
}

var (
	Date = Spec{Table: "dim_date", Key: "date_key", Natural: []string{"date_key"}}

	TimeOfDay = Spec{Table: "dim_time_of_day", Key: "time_key", Natural: []string{"time_key"}}

	Users = Spec{Table: "dim_users", Key: "user_key", Natural: []string{"user_number"}, AgentFlag: "is_agent"}

	Disposition = Spec{
		Table:   "dim_call_disposition",
		Key:     "disposition_key",
		Natural: []string{"call_direction", "hangup_cause", "disposition", "sub_disposition", "sub_sub_disposition"},
	}

	System = Spec{Table: "dim_system", Key: "system_key", Natural: []string{"switch_hostname"}}

	Campaigns = Spec{Table: "dim_campaigns", Key: "campaign_key", Natural: []string{"campaign_id"}}

	Queues = Spec{Table: "dim_queues", Key: "queue_key", Natural: []string{"queue_id"}}
)

type entry struct {
	key   int64
	agent bool
}

// Resolver performs lookup-or-create over dimension tables with a cache that
// lives for exactly one transformation run. It is not safe for concurrent
// use; each run owns its own Resolver.
type Resolver struct {
	cache map[string]*entry
}

func NewResolver() *Resolver {
	return &Resolver{cache: make(map[string]*entry)}
}

// Resolve returns the surrogate key for the natural-key tuple, creating the
// dimension row on first sight. Nil natural values match via IS NULL.
// Descriptive columns are written only on creation. When promoteAgent is set
// on a dimension with an agent flag, a false flag is promoted to true exactly
// once; the cache reflects the promotion so it is not re-issued within the run.
func (r *Resolver) Resolve(ctx context.Context, q store.DBTX, spec Spec, natural map[string]any, descriptive map[string]any, promoteAgent bool) (int64, error) {
	ck := cacheKey(spec, natural)
	if e, ok := r.cache[ck]; ok {
		if err := r.maybePromote(ctx, q, spec, e, promoteAgent); err != nil {
			return 0, err
		}
		return e.key, nil
	}

	e, found, err := r.lookup(ctx, q, spec, natural)
	if err != nil {
		return 0, err
	}
	if !found {
		e, err = r.create(ctx, q, spec, natural, descriptive, promoteAgent)
		if err != nil {
			return 0, err
		}
	}
	r.cache[ck] = e
	if err := r.maybePromote(ctx, q, spec, e, promoteAgent); err != nil {
		return 0, err
	}
	return e.key, nil
}

func (r *Resolver) lookup(ctx context.Context, q store.DBTX, spec Spec, natural map[string]any) (*entry, bool, error) {
	pred, args := naturalPredicate(spec, natural)
	cols := spec.Key
	if spec.AgentFlag != "" {
		cols += ", " + spec.AgentFlag
	}
	row := q.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE %s`, cols, spec.Table, pred), args...)

	e := &entry{}
	var err error
	if spec.AgentFlag != "" {
		err = row.Scan(&e.key, &e.agent)
	} else {
		err = row.Scan(&e.key)
	}
	switch {
	case err == nil:
		return e, true, nil
	case errors.Is(err, sql.ErrNoRows):
		return nil, false, nil
	default:
		return nil, false, err
	}
}

func (r *Resolver) create(ctx context.Context, q store.DBTX, spec Spec, natural map[string]any, descriptive map[string]any, promoteAgent bool) (*entry, error) {
	cols := append([]string(nil), spec.Natural...)
	args := make([]any, 0, len(natural)+len(descriptive)+1)
	for _, c := range spec.Natural {
		args = append(args, natural[c])
	}
	for _, c := range sortedKeys(descriptive) {
		cols = append(cols, c)
		args = append(args, descriptive[c])
	}
	if spec.AgentFlag != "" {
		cols = append(cols, spec.AgentFlag)
		args = append(args, promoteAgent)
	}

	placeholders := strings.TrimRight(strings.Repeat("?,", len(cols)), ",")
	res, err := q.ExecContext(ctx, fmt.Sprintf(`INSERT OR IGNORE INTO %s (%s) VALUES (%s)`,
		spec.Table, strings.Join(cols, ", "), placeholders), args...)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// Lost a creation race with another run; the row exists now.
		e, found, err := r.lookup(ctx, q, spec, natural)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("%s: insert ignored but natural key not found", spec.Table)
		}
		return e, nil
	}
	key, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &entry{key: key, agent: promoteAgent && spec.AgentFlag != ""}, nil
}

func (r *Resolver) maybePromote(ctx context.Context, q store.DBTX, spec Spec, e *entry, promoteAgent bool) error {
	if !promoteAgent || spec.AgentFlag == "" || e.agent {
		return nil
	}
	_, err := q.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET %s=1 WHERE %s=?`,
		spec.Table, spec.AgentFlag, spec.Key), e.key)
	if err != nil {
		return err
	}
	e.agent = true
	return nil
}

func naturalPredicate(spec Spec, natural map[string]any) (string, []any) {
	parts := make([]string, 0, len(spec.Natural))
	args := make([]any, 0, len(spec.Natural))
	for _, col := range spec.Natural {
		if natural[col] == nil {
			parts = append(parts, col+" IS NULL")
			continue
		}
		parts = append(parts, col+" = ?")
		args = append(args, natural[col])
	}
	return strings.Join(parts, " AND "), args
}

func cacheKey(spec Spec, natural map[string]any) string {
	var b strings.Builder
	b.WriteString(spec.Table)
	for _, col := range spec.Natural {
		b.WriteByte('|')
		if natural[col] == nil {
			b.WriteString("NULL")
			continue
		}
		fmt.Fprintf(&b, "%v", natural[col])
	}
	return b.String()
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
