package search

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hitoshi/curator/internal/config"
	"github.com/hitoshi/curator/internal/model"
	"github.com/hitoshi/curator/internal/provider"
	"github.com/hitoshi/curator/internal/scoring"
)

// fakeProvider はクエリごとに固定のレスポンスを返すテスト用プロバイダ。
type fakeProvider struct {
	responses map[string][]model.ContentItem
	errors    map[string]error
	calls     []string
}

func (f *fakeProvider) Search(_ context.Context, query string, _ model.SearchOptions) ([]model.ContentItem, int, error) {
	f.calls = append(f.calls, query)
	if err, ok := f.errors[query]; ok {
		return nil, 0, err
	}
	items := f.responses[query]
	return items, len(items), nil
}

func (f *fakeProvider) UsageStats() provider.QuotaStats { return provider.QuotaStats{} }
func (f *fakeProvider) Name() string                    { return "fake" }

func testOrchestrator(p provider.SearchProvider) *Orchestrator {
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
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return NewOrchestrator(p, scorer, logger)
}

func relevantItem(id string, age time.Duration) model.ContentItem {
	return model.ContentItem{
		ID:          id,
		Title:       "富士山の最新情報 " + id,
		URL:         "https://example.com/" + id,
		PublishedAt: time.Now().Add(-age),
		SourceName:  "気象庁",
		Provider:    model.ProviderNews,
	}
}

func TestRunStrategies_FailureDoesNotAbortRemaining(t *testing.T) {
	p := &fakeProvider{
		responses: map[string][]model.ContentItem{
			"q2": {relevantItem("a", time.Hour)},
		},
		errors: map[string]error{
			"q1": model.NewQuotaExceededError("fake", time.Now().Add(time.Hour)),
		},
	}
	o := testOrchestrator(p)

	strategies := []model.SearchStrategy{
		{Name: "first", Query: "q1", Weight: 1.0},
		{Name: "second", Query: "q2", Weight: 1.0},
	}

	result, err := o.RunStrategies(context.Background(), strategies, Limits{ScoreThreshold: 0.4})
	if err != nil {
		t.Fatalf("戦略失敗は実行全体を失敗させないべき: %v", err)
	}
	if len(p.calls) != 2 {
		t.Errorf("呼び出し回数 = %d, 失敗後も残りの戦略は実行されるべき", len(p.calls))
	}
	if len(result.Candidates) != 1 {
		t.Errorf("候補数 = %d, want 1", len(result.Candidates))
	}

	if len(result.PerStrategyStats) != 2 {
		t.Fatalf("戦略統計数 = %d, want 2", len(result.PerStrategyStats))
	}
	if result.PerStrategyStats[0].Succeeded {
		t.Error("失敗した戦略の統計は Succeeded = false であるべき")
	}
	if result.PerStrategyStats[0].ErrorMessage == "" {
		t.Error("失敗した戦略の統計にはエラーメッセージが記録されるべき")
	}
	if !result.PerStrategyStats[1].Succeeded {
		t.Error("成功した戦略の統計は Succeeded = true であるべき")
	}
}

func TestRunStrategies_NaturalKeyDedupFirstStrategyWins(t *testing.T) {
	shared := relevantItem("same-id", time.Hour)
	p := &fakeProvider{
		responses: map[string][]model.ContentItem{
			"q1": {shared},
			"q2": {shared, relevantItem("other", time.Hour)},
		},
	}
	o := testOrchestrator(p)

	strategies := []model.SearchStrategy{
		{Name: "first", Query: "q1", Weight: 1.0},
		{Name: "second", Query: "q2", Weight: 1.0},
	}

	result, err := o.RunStrategies(context.Background(), strategies, Limits{ScoreThreshold: 0.4})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Candidates) != 2 {
		t.Fatalf("候補数 = %d, want 2", len(result.Candidates))
	}

	for _, c := range result.Candidates {
		if c.ID == "same-id" && c.StrategyName != "first" {
			t.Errorf("重複アイテムの戦略 = %q, 先に実行された first であるべき", c.StrategyName)
		}
	}
}

func TestRunStrategies_ThresholdFiltersLowScores(t *testing.T) {
	irrelevant := model.ContentItem{
		ID:          "junk",
		Title:       "無関係な話題",
		PublishedAt: time.Now(),
		Provider:    model.ProviderNews,
	}
	p := &fakeProvider{
		responses: map[string][]model.ContentItem{
			"q": {relevantItem("good", time.Hour), irrelevant},
		},
	}
	o := testOrchestrator(p)

	result, err := o.RunStrategies(context.Background(),
		[]model.SearchStrategy{{Name: "only", Query: "q", Weight: 1.0}},
		Limits{ScoreThreshold: 0.4})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Candidates) != 1 || result.Candidates[0].ID != "good" {
		t.Errorf("閾値未満のアイテムは除外されるべき: %v", result.Candidates)
	}
	if result.FilteredOut != 1 {
		t.Errorf("FilteredOut = %d, want 1", result.FilteredOut)
	}
}

func TestRunStrategies_SortsByWeightedScoreAndTruncates(t *testing.T) {
	p := &fakeProvider{
		responses: map[string][]model.ContentItem{
			"low":  {relevantItem("low-a", time.Hour), relevantItem("low-b", time.Hour)},
			"high": {relevantItem("high-a", time.Hour)},
		},
	}
	o := testOrchestrator(p)

	strategies := []model.SearchStrategy{
		{Name: "low", Query: "low", Weight: 0.5},
		{Name: "high", Query: "high", Weight: 1.5},
	}

	result, err := o.RunStrategies(context.Background(), strategies, Limits{
		ScoreThreshold: 0.1,
		MaxCandidates:  2,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Candidates) != 2 {
		t.Fatalf("候補数 = %d, 上限2件に切り詰められるべき", len(result.Candidates))
	}
	if result.Candidates[0].ID != "high-a" {
		t.Errorf("先頭 = %q, 戦略重み最大の high-a であるべき", result.Candidates[0].ID)
	}
}

func TestRunStrategies_TagsItemsWithStrategy(t *testing.T) {
	p := &fakeProvider{
		responses: map[string][]model.ContentItem{
			"q": {relevantItem("a", time.Hour)},
		},
	}
	o := testOrchestrator(p)

	result, err := o.RunStrategies(context.Background(),
		[]model.SearchStrategy{{Name: "seasonal", Query: "q", Weight: 1.2}},
		Limits{ScoreThreshold: 0.1})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Candidates) != 1 {
		t.Fatal("候補が1件あるべき")
	}
	c := result.Candidates[0]
	if c.StrategyName != "seasonal" {
		t.Errorf("StrategyName = %q, want seasonal", c.StrategyName)
	}
	if c.StrategyWeight != 1.2 {
		t.Errorf("StrategyWeight = %.2f, want 1.2", c.StrategyWeight)
	}
	if c.RelevanceScore <= 0 {
		t.Error("スコアリングが適用されるべき")
	}
}

func TestRunStrategies_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := &fakeProvider{}
	o := testOrchestrator(p)

	_, err := o.RunStrategies(ctx, []model.SearchStrategy{{Name: "s", Query: "q", Weight: 1}}, Limits{})
	if err == nil {
		t.Fatal("キャンセル済みコンテキストはエラーを返すべき")
	}
	if len(p.calls) != 0 {
		t.Errorf("キャンセル後はプロバイダを呼び出さないべき: %d", len(p.calls))
	}
}
