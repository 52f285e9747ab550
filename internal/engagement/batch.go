// Package engagement は永続化済み動画アイテムのエンゲージメント指標を
// 定期的に更新するバッチジョブを提供する。
package engagement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/curator/internal/dataset"
	"github.com/hitoshi/curator/internal/model"
)

// maxIDsPerRequest は統計取得1リクエストあたりの最大動画ID数。
const maxIDsPerRequest = 50

// StatsFetcher は動画IDごとのエンゲージメント統計取得のインターフェース。
// テスト時にモックに差し替え可能。
type StatsFetcher interface {
	Stats(ctx context.Context, videoIDs []string) (map[string]map[string]int64, error)
}

// RefreshConfig はエンゲージメント更新ジョブの設定パラメータ。
type RefreshConfig struct {
	// APIInterval はAPI呼び出しの最低間隔（デフォルト: 5秒）。
	APIInterval time.Duration
	// MaxCallsPerCycle は1サイクルあたりの最大API呼び出し回数（デフォルト: 20）。
	MaxCallsPerCycle int
}

// DefaultRefreshConfig はデフォルトのジョブ設定を返す。
func DefaultRefreshConfig() RefreshConfig {
	return RefreshConfig{
		APIInterval:      5 * time.Second,
		MaxCallsPerCycle: 20,
	}
}

// RefreshJob は動画データセットのエンゲージメント指標（再生数・高評価数・
// コメント数）を一括更新するジョブ。50ID単位でAPIを呼び出し、
// 取得できたアイテムのみを更新する。取得できなかったアイテムは前回値を維持する。
//
// 実行はスケジューラのシングルフライト保証の下で行われることを前提とし、
// ジョブ自身は並行実行の調停を行わない。
type RefreshJob struct {
	store             *dataset.Store
	client            StatsFetcher
	logger            *slog.Logger
	config            RefreshConfig
	consecutiveErrors int
	backoffUntil      time.Time
}

// NewRefreshJob はRefreshJobの新しいインスタンスを生成する。
func NewRefreshJob(
	store *dataset.Store,
	client StatsFetcher,
	logger *slog.Logger,
	config RefreshConfig,
) *RefreshJob {
	if config.MaxCallsPerCycle <= 0 {
		config.MaxCallsPerCycle = 20
	}
	return &RefreshJob{
		store:  store,
		client: client,
		logger: logger,
		config: config,
	}
}

// RunOnce は1回の更新サイクルを実行する。
// データセットを読み込み、動画アイテムのIDを50件単位でチャンクに分割して
// 統計APIを呼び出し、更新結果を1回の保存で書き戻す。
func (j *RefreshJob) RunOnce(ctx context.Context) error {
	start := time.Now()

	// バックオフ中の場合はスキップ
	if !j.backoffUntil.IsZero() && time.Now().Before(j.backoffUntil) {
		j.logger.Info("エンゲージメント更新ジョブはバックオフ中のためスキップします",
			slog.Time("backoff_until", j.backoffUntil),
		)
		return nil
	}

	ds, err := j.store.Load()
	if err != nil {
		return fmt.Errorf("エンゲージメント更新対象の読み込みに失敗しました: %w", err)
	}

	videoIDs := collectVideoIDs(ds)
	if len(videoIDs) == 0 {
		j.logger.Info("エンゲージメント更新対象の動画はありません")
		return nil
	}

	j.logger.Info("エンゲージメント更新サイクルを開始します",
		slog.Int("target_items", len(videoIDs)),
	)

	counts := make(map[string]map[string]int64, len(videoIDs))
	var apiCallCount int
	var hadError bool

	for i := 0; i < len(videoIDs); i += maxIDsPerRequest {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if apiCallCount >= j.config.MaxCallsPerCycle {
			j.logger.Info("1サイクルあたりの最大API呼び出し回数に達しました",
				slog.Int("api_call_count", apiCallCount),
				slog.Int("max_calls_per_cycle", j.config.MaxCallsPerCycle),
			)
			break
		}

		// API呼び出しインターバル（初回は待たない）
		if apiCallCount > 0 && j.config.APIInterval > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(j.config.APIInterval):
			}
		}

		end := i + maxIDsPerRequest
		if end > len(videoIDs) {
			end = len(videoIDs)
		}
		chunk := videoIDs[i:end]

		apiCallCount++

		chunkCounts, err := j.client.Stats(ctx, chunk)
		if err != nil {
			j.logger.Error("エンゲージメント統計の取得に失敗しました",
				slog.String("error", err.Error()),
				slog.Int("chunk_size", len(chunk)),
				slog.Int("api_call_count", apiCallCount),
			)
			hadError = true
			j.consecutiveErrors++
			backoff := calculateErrorBackoff(j.consecutiveErrors)
			if backoff > 0 {
				j.backoffUntil = time.Now().Add(backoff)
				j.logger.Warn("連続エラーによりバックオフを適用します",
					slog.Int("consecutive_errors", j.consecutiveErrors),
					slog.Duration("backoff_duration", backoff),
				)
				break
			}
			continue // このチャンクはスキップし次のチャンクへ（前回値維持）
		}

		for id, c := range chunkCounts {
			counts[id] = c
		}
	}

	if !hadError {
		j.consecutiveErrors = 0
		j.backoffUntil = time.Time{}
	}

	updatedCount := applyCounts(&ds, counts)
	if updatedCount > 0 {
		if err := j.store.Save(ds); err != nil {
			return fmt.Errorf("エンゲージメント更新結果の保存に失敗しました: %w", err)
		}
	}

	duration := time.Since(start)
	j.logger.Info("エンゲージメント更新サイクルが完了しました",
		slog.Int("api_call_count", apiCallCount),
		slog.Int("updated_items", updatedCount),
		slog.Int("target_items", len(videoIDs)),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// collectVideoIDs はFeaturedを含む全動画アイテムのIDを出現順で返す。
func collectVideoIDs(ds model.Dataset) []string {
	var ids []string
	for _, item := range ds.AllItems() {
		if item.Provider == model.ProviderVideo {
			ids = append(ids, item.ID)
		}
	}
	return ids
}

// applyCounts は取得済み統計をデータセットに書き込み、更新件数を返す。
// 統計に含まれないアイテム（削除・非公開動画など）は前回値を維持する。
func applyCounts(ds *model.Dataset, counts map[string]map[string]int64) int {
	if len(counts) == 0 {
		return 0
	}

	var updated int
	if ds.Featured != nil {
		if c, ok := counts[ds.Featured.ID]; ok {
			ds.Featured.Engagement = c
			updated++
		}
	}
	for i := range ds.Items {
		if c, ok := counts[ds.Items[i].ID]; ok {
			ds.Items[i].Engagement = c
			updated++
		}
	}
	return updated
}

// calculateErrorBackoff は連続エラー回数に基づくバックオフ時間を計算する。
// 3回連続: 30分、5回連続: 1時間、10回連続: 6時間。
func calculateErrorBackoff(consecutiveErrors int) time.Duration {
	switch {
	case consecutiveErrors >= 10:
		return 6 * time.Hour
	case consecutiveErrors >= 5:
		return 1 * time.Hour
	case consecutiveErrors >= 3:
		return 30 * time.Minute
	default:
		return 0
	}
}
