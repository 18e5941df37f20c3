package ingest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/abhisheks2010/ALLCDRTOSQL1/config"
	"github.com/abhisheks2010/ALLCDRTOSQL1/internal/store"
	"github.com/abhisheks2010/ALLCDRTOSQL1/metrics"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func testTenant(baseURL string) config.Tenant {
	return config.Tenant{
		Name:               "shams",
		AccountID:          "acct-1",
		APIBaseURL:         baseURL,
		APIToken:           "tok-1",
		PageSize:           2,
		FetchWindowMinutes: 60,
		DefaultRegion:      "AE",
	}
}

func TestFetcherPaginatesAndDeduplicates(t *testing.T) {
	var gotAuth, gotAccount string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAccount = r.Header.Get("x-account-id")
		if r.URL.Query().Get("pageSize") != "2" {
			t.Errorf("pageSize = %q", r.URL.Query().Get("pageSize"))
		}

		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("start_key") {
		case "":
			json.NewEncoder(w).Encode(map[string]any{
				"cdrs": []map[string]any{
					{"msg_id": "m1", "call_id": "c1"},
					{"msg_id": "m2", "call_id": "c2"},
				},
				"new_start_key": "page-2",
			})
		case "page-2":
			json.NewEncoder(w).Encode(map[string]any{
				"cdrs": []map[string]any{
					{"msg_id": "m2", "call_id": "c2"},
					{"msg_id": "m3", "call_id": "c3"},
				},
			})
		default:
			t.Errorf("unexpected start_key %q", r.URL.Query().Get("start_key"))
		}
	}))
	defer srv.Close()

	s := newTestStore(t)
	f := NewFetcher(s, testTenant(srv.URL), testLog(), metrics.New())

	sum, err := f.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sum.Pages != 2 || sum.Fetched != 4 || sum.Inserted != 3 || sum.Duplicates != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	if gotAuth != "Bearer tok-1" {
		t.Fatalf("authorization header = %q", gotAuth)
	}
	if gotAccount != "acct-1" {
		t.Fatalf("x-account-id header = %q", gotAccount)
	}

	var count int
	if err := s.DB().QueryRow(`SELECT COUNT(*) FROM cdr_raw_data`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 3 {
		t.Fatalf("raw rows = %d, want 3", count)
	}
}

func TestFetcherSkipsRecordsWithoutMsgID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"cdrs": []map[string]any{
				{"call_id": "orphan"},
				{"msg_id": "m1", "call_id": "c1"},
			},
		})
	}))
	defer srv.Close()

	s := newTestStore(t)
	sum, err := NewFetcher(s, testTenant(srv.URL), testLog(), metrics.New()).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sum.Fetched != 2 || sum.Inserted != 1 {
		t.Fatalf("summary = %+v", sum)
	}
}

func TestFetcherRetriesServerErrors(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"cdrs": []map[string]any{{"msg_id": "m1"}},
		})
	}))
	defer srv.Close()

	s := newTestStore(t)
	sum, err := NewFetcher(s, testTenant(srv.URL), testLog(), metrics.New()).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2", attempts)
	}
	if sum.Inserted != 1 {
		t.Fatalf("summary = %+v", sum)
	}
}

func TestFetcherClientErrorIsPermanent(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		http.Error(w, "bad token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	s := newTestStore(t)
	if _, err := NewFetcher(s, testTenant(srv.URL), testLog(), metrics.New()).Run(context.Background()); err == nil {
		t.Fatalf("expected error on 401")
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want no retries on 4xx", attempts)
	}
}

func TestFetcherRequiresBaseURL(t *testing.T) {
	s := newTestStore(t)
	if _, err := NewFetcher(s, config.Tenant{Name: "shams"}, testLog(), metrics.New()).Run(context.Background()); err == nil {
		t.Fatalf("expected error without api_base_url")
	}
}
