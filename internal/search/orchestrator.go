// Package search は名前付き検索戦略の実行と候補集合の構築を提供する。
package search

import (
	"context"
	"log/slog"
	"sort"

	"github.com/hitoshi/curator/internal/model"
	"github.com/hitoshi/curator/internal/provider"
	"github.com/hitoshi/curator/internal/scoring"
)

// Limits は候補集合の絞り込み条件を表す。
type Limits struct {
	// ScoreThreshold は採用する最小関連度スコア。
	ScoreThreshold float64
	// MaxCandidates は最終候補数の上限。0以下の場合は無制限。
	MaxCandidates int
}

// StrategyResult は戦略1件の実行統計を表す。
type StrategyResult struct {
	Name           string `json:"name"`
	Succeeded      bool   `json:"succeeded"`
	ErrorMessage   string `json:"error_message,omitempty"`
	Fetched        int    `json:"fetched"`
	TotalAvailable int    `json:"total_available"`
}

// RunResult は全戦略実行後の候補集合と統計を表す。
type RunResult struct {
	Candidates       []model.ContentItem
	PerStrategyStats []StrategyResult
	// FilteredOut は閾値未満で除外された件数。
	FilteredOut int
}

// Orchestrator は検索戦略群を1つのプロバイダに対して実行し、
// スコアリングと閾値フィルタを経た候補集合を構築する。
// 共有クォータを尊重するため戦略は直列に実行される。
type Orchestrator struct {
	provider provider.SearchProvider
	scorer   *scoring.Scorer
	logger   *slog.Logger
}

// NewOrchestrator はOrchestratorの新しいインスタンスを生成する。
func NewOrchestrator(p provider.SearchProvider, scorer *scoring.Scorer, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		provider: p,
		scorer:   scorer,
		logger:   logger,
	}
}

// RunStrategies は各戦略を順次実行し、候補集合を構築する。
//
// 戦略の失敗（クォータ超過・恒久的エラー）は統計に記録され、
// 残りの戦略の実行は中断しない。
// 全戦略の実行後、自然キーによる完全一致重複を除去し、スコアリング、
// 閾値フィルタ、relevanceScore*strategyWeight降順の並び替え、
// 上限件数への切り詰めを行う。
func (o *Orchestrator) RunStrategies(ctx context.Context, strategies []model.SearchStrategy, limits Limits) (RunResult, error) {
	var candidates []model.ContentItem
	stats := make([]StrategyResult, 0, len(strategies))
	seenIDs := make(map[string]bool)

	for _, strategy := range strategies {
		if err := ctx.Err(); err != nil {
			return RunResult{PerStrategyStats: stats}, err
		}

		items, total, err := o.provider.Search(ctx, strategy.Query, strategy.Options)
		if err != nil {
			o.logger.Warn("検索戦略の実行に失敗しました",
				slog.String("strategy", strategy.Name),
				slog.String("provider", o.provider.Name()),
				slog.String("error", err.Error()),
			)
			stats = append(stats, StrategyResult{
				Name:         strategy.Name,
				Succeeded:    false,
				ErrorMessage: err.Error(),
			})
			continue
		}

		// 自然キーによる完全一致重複の除去（先に実行された戦略を優先）
		var accepted int
		for _, item := range items {
			if seenIDs[item.ID] {
				continue
			}
			seenIDs[item.ID] = true
			item.StrategyName = strategy.Name
			item.StrategyWeight = strategy.Weight
			candidates = append(candidates, item)
			accepted++
		}

		stats = append(stats, StrategyResult{
			Name:           strategy.Name,
			Succeeded:      true,
			Fetched:        accepted,
			TotalAvailable: total,
		})

		o.logger.Info("検索戦略を実行しました",
			slog.String("strategy", strategy.Name),
			slog.String("provider", o.provider.Name()),
			slog.Int("fetched", accepted),
			slog.Int("total_available", total),
		)
	}

	// スコアリングと閾値フィルタ
	filtered := make([]model.ContentItem, 0, len(candidates))
	var filteredOut int
	for i := range candidates {
		o.scorer.Enrich(&candidates[i])
		if candidates[i].RelevanceScore >= limits.ScoreThreshold {
			filtered = append(filtered, candidates[i])
		} else {
			filteredOut++
		}
	}

	// relevanceScore*strategyWeight降順。同点は公開日時の新しい順、
	// さらに同点はIDで決定的に並べる。
	sort.SliceStable(filtered, func(i, j int) bool {
		wi, wj := filtered[i].WeightedScore(), filtered[j].WeightedScore()
		if wi != wj {
			return wi > wj
		}
		if !filtered[i].PublishedAt.Equal(filtered[j].PublishedAt) {
			return filtered[i].PublishedAt.After(filtered[j].PublishedAt)
		}
		return filtered[i].ID < filtered[j].ID
	})

	if limits.MaxCandidates > 0 && len(filtered) > limits.MaxCandidates {
		filtered = filtered[:limits.MaxCandidates]
	}

	o.logger.Info("候補集合を構築しました",
		slog.String("provider", o.provider.Name()),
		slog.Int("strategies", len(strategies)),
		slog.Int("candidates", len(filtered)),
		slog.Int("filtered_out", filteredOut),
	)

	return RunResult{
		Candidates:       filtered,
		PerStrategyStats: stats,
		FilteredOut:      filteredOut,
	}, nil
}
