package server_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ha1tch/amzmeta/pkg/cache"
	"github.com/ha1tch/amzmeta/pkg/config"
	"github.com/ha1tch/amzmeta/pkg/loader"
	"github.com/ha1tch/amzmeta/pkg/models"
	"github.com/ha1tch/amzmeta/pkg/report"
	"github.com/ha1tch/amzmeta/pkg/server"
	"github.com/ha1tch/amzmeta/pkg/storage"
)

const catalogue = `Id:   0
ASIN: 0001
  title: Widget
  group: Tool
  salesrank: 100
  similar: 1  0002
  categories: 1
   |Hardware[10]|Tools[20]
  reviews: total: 1  downloaded: 1  avg rating: 5
    2001-1-1  cutomer: u1  rating: 5  votes: 10  helpful: 8

Id:   1
ASIN: 0002
  title: Gadget
  group: Tool
  salesrank: 50
`

// TestServer holds test server instance and helpers
type TestServer struct {
	ts    *httptest.Server
	store storage.Store
	cache *cache.MemoryCache
	t     *testing.T
}

// setupTestServer creates a test server over a freshly loaded SQLite file
func setupTestServer(t *testing.T) *TestServer {
	tmpFile, err := os.CreateTemp("", "amzmeta-server-*.db")
	if err != nil {
		t.Fatal(err)
	}
	tmpFile.Close()
	dbPath := tmpFile.Name()

	cfg := config.Default()
	cfg.Host = "localhost"
	cfg.Port = 0
	cfg.DBPath = dbPath

	store, err := storage.NewStore("sqlite", cfg.StoreConfig())
	if err != nil {
		t.Fatal(err)
	}

	logger := zerolog.New(os.Stdout).Level(zerolog.Disabled)

	l := loader.New(store, logger)
	if _, err := loader.Run(context.Background(), l, strings.NewReader(catalogue), loader.RunOptions{}); err != nil {
		t.Fatal(err)
	}

	memCache := cache.NewMemoryCache(100, time.Duration(cfg.CacheTTL)*time.Second)
	reporter := report.NewReporter(store, memCache, time.Duration(cfg.CacheTTL)*time.Second, logger)

	srv := server.New(cfg, store, reporter, logger)
	ts := httptest.NewServer(srv.Handler())

	t.Cleanup(func() {
		ts.Close()
		store.Close()
		os.Remove(dbPath)
		os.Remove(dbPath + "-wal")
		os.Remove(dbPath + "-shm")
	})

	return &TestServer{ts: ts, store: store, cache: memCache, t: t}
}

func (ts *TestServer) get(path string, out interface{}) int {
	ts.t.Helper()

	resp, err := http.Get(ts.ts.URL + path)
	if err != nil {
		ts.t.Fatal(err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		ts.t.Errorf("Expected JSON content type, got %q", ct)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			ts.t.Fatalf("Failed to decode response: %v", err)
		}
	}
	return resp.StatusCode
}

func TestHealthAndVersion(t *testing.T) {
	ts := setupTestServer(t)

	var health map[string]interface{}
	if status := ts.get("/health", &health); status != http.StatusOK {
		t.Fatalf("Expected 200, got %d", status)
	}
	if health["status"] != "ok" || health["store"] != "sqlite" {
		t.Errorf("Unexpected health payload: %v", health)
	}

	var version map[string]string
	ts.get("/version", &version)
	if version["version"] != config.Version {
		t.Errorf("Expected version %s, got %s", config.Version, version["version"])
	}
}

func TestStats(t *testing.T) {
	ts := setupTestServer(t)

	var counts map[string]int64
	if status := ts.get("/api/v1/stats", &counts); status != http.StatusOK {
		t.Fatalf("Expected 200, got %d", status)
	}
	if counts[storage.TableProduct] != 2 || counts[storage.TableProductCategory] != 2 {
		t.Errorf("Unexpected counts: %v", counts)
	}
}

func TestListReports(t *testing.T) {
	ts := setupTestServer(t)

	var infos []models.ReportInfo
	if status := ts.get("/api/v1/reports", &infos); status != http.StatusOK {
		t.Fatalf("Expected 200, got %d", status)
	}
	if len(infos) != 7 {
		t.Fatalf("Expected 7 reports, got %d", len(infos))
	}
	for i, info := range infos {
		if info.ID != i+1 {
			t.Errorf("Expected report %d at position %d, got %d", i+1, i, info.ID)
		}
		if wantASIN := info.ID <= 3; info.NeedsASIN != wantASIN {
			t.Errorf("Report %d: NeedsASIN = %v", info.ID, info.NeedsASIN)
		}
	}
}

func TestRunReport(t *testing.T) {
	ts := setupTestServer(t)

	t.Run("ASIN scoped report", func(t *testing.T) {
		var resp models.ReportResponse
		if status := ts.get("/api/v1/reports/2?asin=0001", &resp); status != http.StatusOK {
			t.Fatalf("Expected 200, got %d", status)
		}
		if resp.Report.ID != 2 || resp.ASIN != "0001" {
			t.Errorf("Unexpected envelope: %+v", resp)
		}
		if resp.Data.Len() != 1 || resp.Data.Rows[0][0] != "0002" {
			t.Errorf("Unexpected rows: %v", resp.Data.Rows)
		}
	})

	t.Run("second request is cached", func(t *testing.T) {
		var resp models.ReportResponse
		ts.get("/api/v1/reports/2?asin=0001", &resp)
		if !resp.Cached {
			t.Error("Expected cached response")
		}
	})

	t.Run("global report", func(t *testing.T) {
		var resp models.ReportResponse
		if status := ts.get("/api/v1/reports/4", &resp); status != http.StatusOK {
			t.Fatalf("Expected 200, got %d", status)
		}
		if resp.Data.Len() != 2 {
			t.Errorf("Expected 2 rows, got %d", resp.Data.Len())
		}
		if resp.Data.Rows[0][0] != "0002" {
			t.Errorf("Expected best seller first, got %v", resp.Data.Rows[0])
		}
	})
}

func TestRunReportErrors(t *testing.T) {
	ts := setupTestServer(t)

	tests := []struct {
		path   string
		status int
	}{
		{"/api/v1/reports/abc", http.StatusBadRequest},
		{"/api/v1/reports/8", http.StatusNotFound},
		{"/api/v1/reports/0", http.StatusNotFound},
		{"/api/v1/reports/1", http.StatusBadRequest},
		{"/api/v1/reports/1?asin=" + strings.Repeat("X", 11), http.StatusBadRequest},
		{"/api/v1/reports/1?asin=a%27b", http.StatusBadRequest},
		{"/api/v1/reports/5?asin=0001", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			var body map[string]interface{}
			if status := ts.get(tt.path, &body); status != tt.status {
				t.Errorf("Expected %d, got %d (%v)", tt.status, status, body)
			}
		})
	}

	var notFound models.ErrorResponse
	ts.get("/api/v1/reports/8", &notFound)
	if notFound.Error.Status != http.StatusNotFound || notFound.Error.Message != fmt.Sprintf("Report %d not found", 8) {
		t.Errorf("Unexpected error body: %+v", notFound)
	}
}

func TestRunReportStoreFailure(t *testing.T) {
	ts := setupTestServer(t)
	ts.store.Close()

	var body models.ErrorResponse
	if status := ts.get("/api/v1/reports/4", &body); status != http.StatusInternalServerError {
		t.Fatalf("Expected 500, got %d", status)
	}
	if body.Error.Message != "Failed to run report" {
		t.Errorf("Unexpected message: %s", body.Error.Message)
	}
}
