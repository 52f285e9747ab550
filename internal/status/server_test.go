package status

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/curator/internal/metrics"
	"github.com/hitoshi/curator/internal/provider"
	"github.com/hitoshi/curator/internal/scheduler"
)

type fakeScheduler struct {
	statuses []scheduler.JobStatus
}

func (f *fakeScheduler) Status() []scheduler.JobStatus { return f.statuses }

type fakeQuotaProvider struct {
	name  string
	stats provider.QuotaStats
}

func (f *fakeQuotaProvider) UsageStats() provider.QuotaStats { return f.stats }
func (f *fakeQuotaProvider) Name() string                    { return f.name }

func newTestRouter(sched JobStatusProvider, providers []QuotaStatsProvider) http.Handler {
	registry := prometheus.NewRegistry()
	metrics.NewCollector(registry)
	return NewRouter(&RouterDeps{
		Scheduler: sched,
		Providers: providers,
		Gatherer:  registry,
		Logger:    slog.New(slog.NewJSONHandler(io.Discard, nil)),
	})
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter(&fakeScheduler{}, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("ステータスコード = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %q, want ok", body["status"])
	}
}

func TestJobsEndpoint(t *testing.T) {
	lastRun := time.Date(2026, 8, 1, 3, 0, 0, 0, time.UTC)
	sched := &fakeScheduler{
		statuses: []scheduler.JobStatus{
			{
				Name:      "news_pipeline",
				Schedule:  "0 */6 * * *",
				Enabled:   true,
				RunCount:  3,
				LastRunAt: &lastRun,
			},
		},
	}
	router := newTestRouter(sched, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("ステータスコード = %d, want 200", rec.Code)
	}
	var body struct {
		Jobs []scheduler.JobStatus `json:"jobs"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Jobs) != 1 || body.Jobs[0].Name != "news_pipeline" {
		t.Errorf("jobs = %+v", body.Jobs)
	}
	if body.Jobs[0].RunCount != 3 {
		t.Errorf("RunCount = %d, want 3", body.Jobs[0].RunCount)
	}
}

func TestQuotaEndpoint(t *testing.T) {
	providers := []QuotaStatsProvider{
		&fakeQuotaProvider{name: "news", stats: provider.QuotaStats{Used: 40, Limit: 100, Remaining: 60}},
		&fakeQuotaProvider{name: "video", stats: provider.QuotaStats{Used: 0, Limit: 10000, Remaining: 10000}},
	}
	router := newTestRouter(&fakeScheduler{}, providers)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/quota", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("ステータスコード = %d, want 200", rec.Code)
	}
	var body struct {
		Quota map[string]provider.QuotaStats `json:"quota"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Quota) != 2 {
		t.Fatalf("プロバイダ数 = %d, want 2", len(body.Quota))
	}
	if body.Quota["news"].Remaining != 60 {
		t.Errorf("news の残量 = %d, want 60", body.Quota["news"].Remaining)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)
	collector.RecordJobRun("news_pipeline", true)

	router := NewRouter(&RouterDeps{
		Scheduler: &fakeScheduler{},
		Gatherer:  registry,
		Logger:    slog.New(slog.NewJSONHandler(io.Discard, nil)),
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("ステータスコード = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "curator_job_runs_total") {
		t.Error("収集済みメトリクスがスクレイプ出力に含まれるべき")
	}
}

func TestUnknownPathReturns404(t *testing.T) {
	router := newTestRouter(&fakeScheduler{}, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dataset", nil))

	if rec.Code != http.StatusNotFound {
		t.Errorf("ステータスコード = %d, want 404", rec.Code)
	}
}
