package pipeline

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hitoshi/curator/internal/config"
	"github.com/hitoshi/curator/internal/dataset"
	"github.com/hitoshi/curator/internal/dedup"
	"github.com/hitoshi/curator/internal/model"
	"github.com/hitoshi/curator/internal/provider"
	"github.com/hitoshi/curator/internal/scoring"
	"github.com/hitoshi/curator/internal/search"
)

// fakeSearchProvider はクエリごとに固定のレスポンスを返すテスト用プロバイダ。
type fakeSearchProvider struct {
	responses map[string][]model.ContentItem
	errors    map[string]error
}

func (f *fakeSearchProvider) Search(_ context.Context, query string, _ model.SearchOptions) ([]model.ContentItem, int, error) {
	if err, ok := f.errors[query]; ok {
		return nil, 0, err
	}
	items := f.responses[query]
	return items, len(items), nil
}

func (f *fakeSearchProvider) UsageStats() provider.QuotaStats { return provider.QuotaStats{} }
func (f *fakeSearchProvider) Name() string                    { return "fake" }

// fakeCollector はメトリクス呼び出しを記録するテスト用コレクター。
type fakeCollector struct {
	strategyRuns  int
	itemsAccepted int
	itemsDeduped  int
	itemsFiltered int
	mergeDuration int
	jobRuns       int
}

func (c *fakeCollector) RecordStrategyRun(string, bool)            { c.strategyRuns++ }
func (c *fakeCollector) RecordItemsAccepted(_ string, n int)       { c.itemsAccepted += n }
func (c *fakeCollector) RecordItemsFiltered(_ string, n int)       { c.itemsFiltered += n }
func (c *fakeCollector) RecordItemsDeduped(_ string, n int)        { c.itemsDeduped += n }
func (c *fakeCollector) RecordMergeDuration(string, time.Duration) { c.mergeDuration++ }
func (c *fakeCollector) RecordJobRun(string, bool)                 { c.jobRuns++ }
func (c *fakeCollector) SetQuotaRemaining(string, int)             {}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestPipeline(t *testing.T, p provider.SearchProvider, storePath string, collector *fakeCollector, strategies []model.SearchStrategy) *Pipeline {
	t.Helper()
	scorer := scoring.NewScorer(
		config.Subject{Name: "富士山", Aliases: []string{"fuji"}},
		config.ScoringRules{
			Weights: config.ScoringWeights{
				Subject: 0.45, Alias: 0.10, Domain: 0.10, Authority: 0.25, Recency: 0.10,
			},
			Dampening:            0.1,
			NegativePenaltyCap:   0.3,
			AuthoritativeSources: []string{"気象庁"},
		},
	)
	logger := discardLogger()
	return New(
		search.NewOrchestrator(p, scorer, logger),
		dedup.NewDeduplicator(0.6, 0.4, []string{"気象庁"}),
		dataset.NewMerger(5, false),
		dataset.NewStore(storePath, 3, logger),
		collector,
		logger,
		Config{
			Name:                "news_pipeline",
			Strategies:          strategies,
			Limits:              search.Limits{ScoreThreshold: 0.4, MaxCandidates: 60},
			SimilarityThreshold: 0.8,
			MaxItems:            50,
		},
	)
}

func newsItem(id string, age time.Duration) model.ContentItem {
	return model.ContentItem{
		ID:          id,
		Title:       "富士山の最新情報 " + id,
		URL:         "https://example.com/" + id,
		PublishedAt: time.Now().Add(-age),
		SourceName:  "気象庁",
		Provider:    model.ProviderNews,
	}
}

func TestRun_PersistsMergedDataset(t *testing.T) {
	storePath := filepath.Join(t.TempDir(), "dataset.json")
	p := &fakeSearchProvider{
		responses: map[string][]model.ContentItem{
			"q": {newsItem("a", time.Hour), newsItem("b", 2*time.Hour)},
		},
	}
	collector := &fakeCollector{}
	pipe := newTestPipeline(t, p, storePath, collector,
		[]model.SearchStrategy{{Name: "recent", Query: "q", Weight: 1.0}})

	if err := pipe.Run(context.Background()); err != nil {
		t.Fatalf("実行に失敗した: %v", err)
	}

	store := dataset.NewStore(storePath, 3, discardLogger())
	saved, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if saved.Statistics.TotalItems != 2 {
		t.Errorf("保存件数 = %d, want 2", saved.Statistics.TotalItems)
	}
	if saved.Featured == nil {
		t.Error("2件以上あればFeaturedが選出されるべき")
	}
	if collector.strategyRuns != 1 {
		t.Errorf("戦略実行の記録回数 = %d, want 1", collector.strategyRuns)
	}
	if collector.itemsAccepted != 2 {
		t.Errorf("採用件数の記録 = %d, want 2", collector.itemsAccepted)
	}
	if collector.mergeDuration != 1 {
		t.Error("マージレイテンシが記録されるべき")
	}
}

func TestRun_StrategyFailureDoesNotFailRun(t *testing.T) {
	storePath := filepath.Join(t.TempDir(), "dataset.json")
	p := &fakeSearchProvider{
		responses: map[string][]model.ContentItem{
			"ok": {newsItem("a", time.Hour)},
		},
		errors: map[string]error{
			"broken": model.NewQuotaExceededError("fake", time.Now().Add(time.Hour)),
		},
	}
	collector := &fakeCollector{}
	pipe := newTestPipeline(t, p, storePath, collector, []model.SearchStrategy{
		{Name: "first", Query: "broken", Weight: 1.0},
		{Name: "second", Query: "ok", Weight: 1.0},
	})

	if err := pipe.Run(context.Background()); err != nil {
		t.Fatalf("戦略失敗は実行全体を失敗させないべき: %v", err)
	}

	// 失敗・成功とも戦略単位で記録される
	if collector.strategyRuns != 2 {
		t.Errorf("戦略実行の記録回数 = %d, want 2", collector.strategyRuns)
	}

	saved, _ := dataset.NewStore(storePath, 3, discardLogger()).Load()
	if saved.Statistics.TotalItems != 1 {
		t.Errorf("成功した戦略の結果は保存されるべき: %d件", saved.Statistics.TotalItems)
	}
}

func TestRun_DedupesBeforeMerge(t *testing.T) {
	storePath := filepath.Join(t.TempDir(), "dataset.json")
	dup := newsItem("dup-1", time.Hour)
	dupCopy := dup
	dupCopy.ID = "dup-2"
	p := &fakeSearchProvider{
		responses: map[string][]model.ContentItem{
			"q": {dup, dupCopy},
		},
	}
	collector := &fakeCollector{}
	pipe := newTestPipeline(t, p, storePath, collector,
		[]model.SearchStrategy{{Name: "recent", Query: "q", Weight: 1.0}})

	if err := pipe.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	if collector.itemsDeduped != 1 {
		t.Errorf("重複排除の記録 = %d, want 1", collector.itemsDeduped)
	}
	saved, _ := dataset.NewStore(storePath, 3, discardLogger()).Load()
	if saved.Statistics.TotalItems != 1 {
		t.Errorf("重複は1件に畳み込まれるべき: %d件", saved.Statistics.TotalItems)
	}
}

func TestRun_PersistenceFailureFailsRun(t *testing.T) {
	// 親ディレクトリの位置に通常ファイルを置き、保存を失敗させる
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	storePath := filepath.Join(blocker, "dataset.json")

	p := &fakeSearchProvider{
		responses: map[string][]model.ContentItem{
			"q": {newsItem("a", time.Hour)},
		},
	}
	pipe := newTestPipeline(t, p, storePath, &fakeCollector{}, []model.SearchStrategy{
		{Name: "recent", Query: "q", Weight: 1.0},
	})

	err := pipe.Run(context.Background())
	if err == nil {
		t.Fatal("永続化の失敗は実行全体を失敗させるべき")
	}
	if !model.IsPersistence(err) {
		t.Errorf("永続化エラーとして分類されるべき: %v", err)
	}
}

func TestRun_ContextCancellationFailsRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	storePath := filepath.Join(t.TempDir(), "dataset.json")
	p := &fakeSearchProvider{}
	pipe := newTestPipeline(t, p, storePath, &fakeCollector{}, []model.SearchStrategy{
		{Name: "recent", Query: "q", Weight: 1.0},
	})

	if err := pipe.Run(ctx); err == nil {
		t.Fatal("キャンセル済みコンテキストはエラーを返すべき")
	}
	if _, err := os.Stat(storePath); !os.IsNotExist(err) {
		t.Error("キャンセル時はデータセットを書き込まないべき")
	}
}
