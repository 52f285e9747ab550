// Package status は運用監視用の読み取り専用HTTPエンドポイントを提供する。
// ヘルスチェック、Prometheusメトリクス、ジョブ実行状況の3つのみを公開し、
// コンテンツデータセット自体は配信しない（消費者はファイルを直接読む）。
package status

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/curator/internal/metrics"
	"github.com/hitoshi/curator/internal/provider"
	"github.com/hitoshi/curator/internal/scheduler"
)

// JobStatusProvider はジョブ実行状況のスナップショットを提供するインターフェース。
type JobStatusProvider interface {
	Status() []scheduler.JobStatus
}

// QuotaStatsProvider はプロバイダのクォータ使用状況を提供するインターフェース。
type QuotaStatsProvider interface {
	UsageStats() provider.QuotaStats
	Name() string
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Scheduler JobStatusProvider
	Providers []QuotaStatsProvider
	Gatherer  prometheus.Gatherer
	Logger    *slog.Logger
}

// NewRouter は運用監視エンドポイントのルーティングを構成したchi.Routerを返す。
//
// エンドポイント:
//   - GET /health  : 稼働確認
//   - GET /metrics : Prometheusスクレイプ
//   - GET /jobs    : ジョブ実行状況と履歴のJSONスナップショット
//   - GET /quota   : プロバイダごとのクォータ使用状況
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, deps.Logger, map[string]string{"status": "ok"})
	})

	r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))

	r.Get("/jobs", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, deps.Logger, map[string]any{
			"jobs": deps.Scheduler.Status(),
		})
	})

	r.Get("/quota", func(w http.ResponseWriter, _ *http.Request) {
		quotas := make(map[string]provider.QuotaStats, len(deps.Providers))
		for _, p := range deps.Providers {
			quotas[p.Name()] = p.UsageStats()
		}
		writeJSON(w, deps.Logger, map[string]any{"quota": quotas})
	})

	return r
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, logger *slog.Logger, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("レスポンスの書き込みに失敗しました",
			slog.String("error", err.Error()),
		)
	}
}
