package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/abhisheks2010/ALLCDRTOSQL1/config"
	"github.com/abhisheks2010/ALLCDRTOSQL1/internal/store"
	"github.com/abhisheks2010/ALLCDRTOSQL1/metrics"
)

const fetchMaxRetries = 3

// Summary reports one ingestion run.
type Summary struct {
	Fetched    int `json:"fetched"`
	Inserted   int `json:"inserted"`
	Duplicates int `json:"duplicates"`
	Pages      int `json:"pages"`
}

// Fetcher pulls CDRs from the paginated reporting API and appends them
// verbatim to the raw store, deduplicated on msg_id.
type Fetcher struct {
	store   *store.Store
	client  *http.Client
	tenant  config.Tenant
	log     *logrus.Entry
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewFetcher(st *store.Store, tenant config.Tenant, log *logrus.Entry, m *metrics.Metrics) *Fetcher {
	return &Fetcher{
		store:   st,
		client:  &http.Client{Timeout: 30 * time.Second},
		tenant:  tenant,
		log:     log,
		metrics: m,
		now:     time.Now,
	}
}

type page struct {
	CDRs        []json.RawMessage `json:"cdrs"`
	NewStartKey string            `json:"new_start_key"`
}

// Run paginates through the fetch window and ingests every page. It stops at
// the last page (no new_start_key) and reports fetched/inserted counts.
func (f *Fetcher) Run(ctx context.Context) (Summary, error) {
	var sum Summary
	if f.tenant.APIBaseURL == "" {
		return sum, fmt.Errorf("tenant %q has no api_base_url", f.tenant.Name)
	}

	end := f.now().UTC()
	start := end.Add(-time.Duration(f.tenant.FetchWindowMinutes) * time.Minute)
	if f.tenant.InitialLoadDays > 0 {
		start = end.AddDate(0, 0, -f.tenant.InitialLoadDays)
		f.log.WithField("days", f.tenant.InitialLoadDays).Info("initial load mode")
	}

	startKey := ""
	for {
		p, err := f.fetchPage(ctx, start.Unix(), end.Unix(), startKey)
		if err != nil {
			return sum, err
		}
		sum.Pages++

		inserted := 0
		for _, rec := range p.CDRs {
			var head struct {
				MsgID string `json:"msg_id"`
			}
			if err := json.Unmarshal(rec, &head); err != nil || head.MsgID == "" {
				f.log.Warn("record without msg_id, skipping")
				continue
			}
			added, err := f.store.InsertRawIgnore(ctx, head.MsgID, string(rec))
			if err != nil {
				return sum, fmt.Errorf("insert raw %s: %w", head.MsgID, err)
			}
			if added {
				inserted++
			}
		}
		sum.Fetched += len(p.CDRs)
		sum.Inserted += inserted
		f.metrics.RecordFetch(len(p.CDRs), inserted)
		f.log.WithFields(logrus.Fields{
			"fetched":  len(p.CDRs),
			"inserted": inserted,
		}).Info("page ingested")

		if p.NewStartKey == "" {
			break
		}
		startKey = p.NewStartKey
	}

	sum.Duplicates = sum.Fetched - sum.Inserted
	f.log.WithFields(logrus.Fields{
		"fetched":    sum.Fetched,
		"inserted":   sum.Inserted,
		"duplicates": sum.Duplicates,
		"pages":      sum.Pages,
	}).Info("ingestion run complete")
	return sum, nil
}

func (f *Fetcher) fetchPage(ctx context.Context, startUnix, endUnix int64, startKey string) (*page, error) {
	u, err := url.Parse(f.tenant.APIBaseURL)
	if err != nil {
		return nil, fmt.Errorf("api base url: %w", err)
	}
	q := u.Query()
	q.Set("startDate", strconv.FormatInt(startUnix, 10))
	q.Set("endDate", strconv.FormatInt(endUnix, 10))
	q.Set("pageSize", strconv.Itoa(f.tenant.PageSize))
	if startKey != "" {
		q.Set("start_key", startKey)
	}
	u.RawQuery = q.Encode()

	var p *page
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+f.tenant.APIToken)
		req.Header.Set("x-account-id", f.tenant.AccountID)

		resp, err := f.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return backoff.Permanent(fmt.Errorf("api status %d: %s", resp.StatusCode, body))
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("api status %d", resp.StatusCode)
		}

		var decoded page
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		p = &decoded
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), fetchMaxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, fmt.Errorf("fetch page: %w", err)
	}
	return p, nil
}
