// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// パイプラインやスケジューラから利用する。
type MetricsCollector interface {
	RecordStrategyRun(provider string, succeeded bool)
	RecordItemsAccepted(provider string, count int)
	RecordItemsFiltered(provider string, count int)
	RecordItemsDeduped(provider string, count int)
	RecordMergeDuration(provider string, duration time.Duration)
	RecordJobRun(job string, succeeded bool)
	SetQuotaRemaining(provider string, remaining int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	strategyRuns   *prometheus.CounterVec
	itemsAccepted  *prometheus.CounterVec
	itemsFiltered  *prometheus.CounterVec
	itemsDeduped   *prometheus.CounterVec
	mergeDuration  *prometheus.HistogramVec
	jobRuns        *prometheus.CounterVec
	quotaRemaining *prometheus.GaugeVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		strategyRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "curator_strategy_runs_total",
			Help: "検索戦略実行の合計数（プロバイダ・結果別）",
		}, []string{"provider", "result"}),
		itemsAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "curator_items_accepted_total",
			Help: "閾値を通過して採用された候補の合計数",
		}, []string{"provider"}),
		itemsFiltered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "curator_items_filtered_total",
			Help: "関連度閾値未満で除外された候補の合計数",
		}, []string{"provider"}),
		itemsDeduped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "curator_items_deduped_total",
			Help: "重複排除で畳み込まれた候補の合計数",
		}, []string{"provider"}),
		mergeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "curator_merge_duration_seconds",
			Help:    "データセットのマージと保存のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "curator_job_runs_total",
			Help: "スケジュールジョブ実行の合計数（ジョブ・結果別）",
		}, []string{"job", "result"}),
		quotaRemaining: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "curator_quota_remaining",
			Help: "プロバイダの残りクォータユニット",
		}, []string{"provider"}),
	}

	reg.MustRegister(
		c.strategyRuns,
		c.itemsAccepted,
		c.itemsFiltered,
		c.itemsDeduped,
		c.mergeDuration,
		c.jobRuns,
		c.quotaRemaining,
	)

	return c
}

// RecordStrategyRun は検索戦略の実行結果を記録する。
func (c *Collector) RecordStrategyRun(provider string, succeeded bool) {
	c.strategyRuns.WithLabelValues(provider, resultLabel(succeeded)).Inc()
}

// RecordItemsAccepted は採用された候補数を記録する。
func (c *Collector) RecordItemsAccepted(provider string, count int) {
	c.itemsAccepted.WithLabelValues(provider).Add(float64(count))
}

// RecordItemsFiltered は閾値で除外された候補数を記録する。
func (c *Collector) RecordItemsFiltered(provider string, count int) {
	c.itemsFiltered.WithLabelValues(provider).Add(float64(count))
}

// RecordItemsDeduped は重複排除された候補数を記録する。
func (c *Collector) RecordItemsDeduped(provider string, count int) {
	c.itemsDeduped.WithLabelValues(provider).Add(float64(count))
}

// RecordMergeDuration はマージと保存のレイテンシを記録する。
func (c *Collector) RecordMergeDuration(provider string, duration time.Duration) {
	c.mergeDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordJobRun はジョブ実行の結果を記録する。
func (c *Collector) RecordJobRun(job string, succeeded bool) {
	c.jobRuns.WithLabelValues(job, resultLabel(succeeded)).Inc()
}

// SetQuotaRemaining はプロバイダの残りクォータを記録する。
func (c *Collector) SetQuotaRemaining(provider string, remaining int) {
	c.quotaRemaining.WithLabelValues(provider).Set(float64(remaining))
}

// resultLabel は成否をメトリクスラベル値に変換する。
func resultLabel(succeeded bool) string {
	if succeeded {
		return "success"
	}
	return "failure"
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
