// Package model はドメインモデルを定義する。
package model

import "time"

// Provider はコンテンツの取得元プロバイダ種別を表す。
type Provider string

const (
	// ProviderNews はテキスト検索プロバイダを示す。
	ProviderNews Provider = "news"
	// ProviderVideo は動画検索プロバイダを示す。
	ProviderVideo Provider = "video"
	// ProviderFeed はRSS/Atomフィードプロバイダを示す。
	ProviderFeed Provider = "feed"
)

// ContentItem はプロバイダから取得した候補コンテンツを表す。
// IDはプロバイダスコープの自然キー（正規化URLまたはプロバイダのアイテムID）で、
// 完全一致の重複検出に使用される。
type ContentItem struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	BodySnippet string    `json:"body_snippet,omitempty"` // サニタイズ済みプレーンテキスト
	URL         string    `json:"url"`
	PublishedAt time.Time `json:"published_at"`
	SourceName  string    `json:"source_name"`
	Provider    Provider  `json:"provider"`

	// 検索戦略による付与情報
	StrategyName   string  `json:"strategy_name,omitempty"`
	StrategyWeight float64 `json:"strategy_weight,omitempty"`

	// スコアリングによる付与情報
	Category       string           `json:"category,omitempty"`
	Tags           []string         `json:"tags,omitempty"`
	RelevanceScore float64          `json:"relevance_score"`
	QualityScore   float64          `json:"quality_score"`
	SubjectMatched bool             `json:"subject_matched"`
	Engagement     map[string]int64 `json:"engagement,omitempty"`
}

// WeightedScore は関連度スコアに戦略重みを乗じた並び替え用スコアを返す。
// 戦略重みが未設定（0）の場合は1.0として扱う。
func (c ContentItem) WeightedScore() float64 {
	w := c.StrategyWeight
	if w == 0 {
		w = 1.0
	}
	return c.RelevanceScore * w
}

// SearchOptions はプロバイダ検索のオプションバッグを表す。
// プロバイダごとに解釈されないフィールドは無視される。
type SearchOptions struct {
	OrderBy    string        `yaml:"order_by" json:"order_by,omitempty"`
	PageSize   int           `yaml:"page_size" json:"page_size,omitempty"`
	TimeWindow time.Duration `yaml:"time_window" json:"time_window,omitempty"`
	Locale     string        `yaml:"locale" json:"locale,omitempty"`
}

// SearchStrategy は名前と重みを持つ検索クエリ定義を表す。
// Weightは並び替え時の乗数（タイブレーク係数）であり確率ではない。
type SearchStrategy struct {
	Name    string        `yaml:"name" json:"name"`
	Query   string        `yaml:"query" json:"query"`
	Options SearchOptions `yaml:"options" json:"options"`
	Weight  float64       `yaml:"weight" json:"weight"`
}

// TrendingTag はタグと出現回数の組を表す。
type TrendingTag struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// DatasetStatistics はデータセット全体の統計情報を表す。
type DatasetStatistics struct {
	TotalItems        int            `json:"total_items"`
	CountByCategory   map[string]int `json:"count_by_category,omitempty"`
	SourceCount       int            `json:"source_count"`
	AverageRelevance  float64        `json:"average_relevance"`
	OldestPublishedAt *time.Time     `json:"oldest_published_at,omitempty"`
	NewestPublishedAt *time.Time     `json:"newest_published_at,omitempty"`
}

// Dataset は永続化されるマージ済みデータセットを表す。
// 不変条件: Items内に同一IDのエントリは存在せず、
// Featuredが存在する場合はItemsに重複して含まれない。
type Dataset struct {
	LastUpdated time.Time         `json:"last_updated"`
	Featured    *ContentItem      `json:"featured,omitempty"`
	Items       []ContentItem     `json:"items"`
	Trending    []TrendingTag     `json:"trending,omitempty"`
	Statistics  DatasetStatistics `json:"statistics"`
}

// ContainsID はFeaturedを含むデータセット全体に指定IDのアイテムが存在するかを返す。
func (d Dataset) ContainsID(id string) bool {
	if d.Featured != nil && d.Featured.ID == id {
		return true
	}
	for _, item := range d.Items {
		if item.ID == id {
			return true
		}
	}
	return false
}

// AllItems はFeaturedを先頭に含む全アイテムのコピーを返す。
func (d Dataset) AllItems() []ContentItem {
	all := make([]ContentItem, 0, len(d.Items)+1)
	if d.Featured != nil {
		all = append(all, *d.Featured)
	}
	all = append(all, d.Items...)
	return all
}

// JobRun はスケジュールジョブの1回の実行記録を表す。
// スケジューラが所有する追記専用の履歴であり、保持期間を超えた古い記録は削除される。
type JobRun struct {
	ID           string        `json:"id"`
	JobName      string        `json:"job_name"`
	StartedAt    time.Time     `json:"started_at"`
	FinishedAt   time.Time     `json:"finished_at"`
	Success      bool          `json:"success"`
	ErrorMessage string        `json:"error_message,omitempty"`
	Duration     time.Duration `json:"duration"`
}
