// Package pipeline は取り込みパイプライン1本のジョブ実装を提供する。
// 検索オーケストレーション → 重複排除 → マージ → 永続化を1回の実行として束ねる。
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/curator/internal/dataset"
	"github.com/hitoshi/curator/internal/dedup"
	"github.com/hitoshi/curator/internal/metrics"
	"github.com/hitoshi/curator/internal/model"
	"github.com/hitoshi/curator/internal/search"
)

// Config はパイプライン1本の実行パラメータを表す。
type Config struct {
	// Name はログとメトリクスで使用するパイプライン名。
	Name string
	// Strategies は実行する検索戦略の一覧。
	Strategies []model.SearchStrategy
	// Limits は候補集合の絞り込み条件。
	Limits search.Limits
	// SimilarityThreshold は近似重複判定の閾値。
	SimilarityThreshold float64
	// MaxItems はデータセットの最大保持件数。
	MaxItems int
}

// Pipeline は1つのプロバイダと1つのデータセットファイルに紐づく
// 取り込みパイプラインを表す。
// 複数のパイプラインは互いに素なデータセットとクォータを扱うため、
// 並行実行が許容される。
type Pipeline struct {
	orchestrator *search.Orchestrator
	deduplicator *dedup.Deduplicator
	merger       *dataset.Merger
	store        *dataset.Store
	collector    metrics.MetricsCollector
	logger       *slog.Logger
	config       Config
}

// New はPipelineの新しいインスタンスを生成する。
func New(
	orchestrator *search.Orchestrator,
	deduplicator *dedup.Deduplicator,
	merger *dataset.Merger,
	store *dataset.Store,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	config Config,
) *Pipeline {
	return &Pipeline{
		orchestrator: orchestrator,
		deduplicator: deduplicator,
		merger:       merger,
		store:        store,
		collector:    collector,
		logger:       logger,
		config:       config,
	}
}

// Run はパイプラインを1回実行する。
//
// 戦略単位の失敗（クォータ超過・恒久的エラー）は統計に記録されるだけで
// 実行全体を失敗させない。永続化の失敗はジョブ実行全体を失敗させ、
// ディスク上の既存データセットは変更されないまま残る。
func (p *Pipeline) Run(ctx context.Context) error {
	start := time.Now()

	existing, err := p.store.Load()
	if err != nil {
		return fmt.Errorf("パイプライン %s: %w", p.config.Name, err)
	}

	runResult, err := p.orchestrator.RunStrategies(ctx, p.config.Strategies, p.config.Limits)
	if err != nil {
		return fmt.Errorf("パイプライン %s: 検索の実行に失敗しました: %w", p.config.Name, err)
	}

	for _, stat := range runResult.PerStrategyStats {
		p.collector.RecordStrategyRun(p.config.Name, stat.Succeeded)
	}
	p.collector.RecordItemsFiltered(p.config.Name, runResult.FilteredOut)

	dedupResult := p.deduplicator.Dedupe(runResult.Candidates, p.config.SimilarityThreshold)
	collapsed := len(runResult.Candidates) - len(dedupResult.Unique)
	p.collector.RecordItemsDeduped(p.config.Name, collapsed)
	p.collector.RecordItemsAccepted(p.config.Name, len(dedupResult.Unique))

	merged := p.merger.Merge(existing, dedupResult.Unique, p.config.MaxItems)

	if err := p.store.Save(merged); err != nil {
		return fmt.Errorf("パイプライン %s: %w", p.config.Name, err)
	}

	duration := time.Since(start)
	p.collector.RecordMergeDuration(p.config.Name, duration)

	p.logger.Info("パイプラインの実行が完了しました",
		slog.String("pipeline", p.config.Name),
		slog.Int("candidates", len(runResult.Candidates)),
		slog.Int("deduped", collapsed),
		slog.Int("accepted", len(dedupResult.Unique)),
		slog.Int("dataset_items", merged.Statistics.TotalItems),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}
