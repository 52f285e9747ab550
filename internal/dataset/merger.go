// Package dataset は永続化データセットのマージと保存を提供する。
// データセットは本パッケージのみが所有し、他のコンポーネントは
// 一時的なContentItemバッチを生成するだけでよい。
package dataset

import (
	"sort"
	"time"

	"github.com/hitoshi/curator/internal/model"
)

// Merger は新規採用アイテムを既存データセットにマージする。
type Merger struct {
	trendingLimit   int
	refreshExisting bool
	now             func() time.Time
}

// NewMerger はMergerの新しいインスタンスを生成する。
// refreshExistingがtrueの場合、既知IDのアイテムを再取り込みした際に
// スコア・カテゴリ・タグ・エンゲージメントを上書き更新する。
// falseの場合、既知IDの再取り込みは破棄される（永続化後は不変）。
func NewMerger(trendingLimit int, refreshExisting bool) *Merger {
	if trendingLimit <= 0 {
		trendingLimit = 10
	}
	return &Merger{
		trendingLimit:   trendingLimit,
		refreshExisting: refreshExisting,
		now:             time.Now,
	}
}

// Merge は新規アイテムを既存データセットにマージした新しいデータセットを返す。
//
// 手順:
//  1. 既存（FeaturedとItems）に同一IDが存在する新規アイテムを破棄
//     （refreshExisting時は既存エントリのフィールドを更新）
//  2. 残りの新規アイテムを既存列に追加
//  3. 公開日時の降順で並び替え
//  4. maxItemsに切り詰め
//  5. 重み付きスコア最大のアイテムをFeaturedに選出（同点は新しい方）
//  6. 切り詰め後の集合からTrending（上位タグ）を再計算
//  7. 統計を再計算
//
// Featuredは二重掲載を避けるためItemsから除外される。
func (m *Merger) Merge(existing model.Dataset, incoming []model.ContentItem, maxItems int) model.Dataset {
	combined := existing.AllItems()

	for _, item := range incoming {
		if idx := indexOfID(combined, item.ID); idx >= 0 {
			if m.refreshExisting {
				refreshItem(&combined[idx], item)
			}
			continue
		}
		combined = append(combined, item)
	}

	// 公開日時の降順。同時刻はIDで決定的に並べる。
	sort.SliceStable(combined, func(i, j int) bool {
		if !combined[i].PublishedAt.Equal(combined[j].PublishedAt) {
			return combined[i].PublishedAt.After(combined[j].PublishedAt)
		}
		return combined[i].ID < combined[j].ID
	})

	if maxItems > 0 && len(combined) > maxItems {
		combined = combined[:maxItems]
	}

	merged := model.Dataset{
		LastUpdated: m.now(),
		Trending:    topTags(combined, m.trendingLimit),
		Statistics:  computeStatistics(combined),
	}

	if idx := featuredIndex(combined); idx >= 0 {
		featured := combined[idx]
		merged.Featured = &featured
		merged.Items = append(combined[:idx:idx], combined[idx+1:]...)
	} else {
		merged.Items = combined
	}

	return merged
}

// indexOfID は同一IDのアイテムの位置を返す。見つからない場合は-1。
func indexOfID(items []model.ContentItem, id string) int {
	for i, item := range items {
		if item.ID == id {
			return i
		}
	}
	return -1
}

// refreshItem は再取り込みされたアイテムの評価系フィールドを上書きする。
// 同一性に関わるフィールド（ID・URL・公開日時）は維持する。
func refreshItem(existing *model.ContentItem, incoming model.ContentItem) {
	existing.Title = incoming.Title
	existing.BodySnippet = incoming.BodySnippet
	existing.Category = incoming.Category
	existing.Tags = incoming.Tags
	existing.RelevanceScore = incoming.RelevanceScore
	existing.QualityScore = incoming.QualityScore
	existing.SubjectMatched = incoming.SubjectMatched
	if len(incoming.Engagement) > 0 {
		existing.Engagement = incoming.Engagement
	}
}

// featuredIndex は重み付きスコアが最大のアイテムの位置を返す。
// 同点は公開日時が新しい方を優先する。空集合の場合は-1。
func featuredIndex(items []model.ContentItem) int {
	best := -1
	for i, item := range items {
		if best < 0 {
			best = i
			continue
		}
		bi, bb := item.WeightedScore(), items[best].WeightedScore()
		if bi > bb {
			best = i
			continue
		}
		if bi == bb && item.PublishedAt.After(items[best].PublishedAt) {
			best = i
		}
	}
	return best
}

// topTags は出現頻度上位のタグを返す。
// 同数のタグはタグ名の昇順で決定的に並べる。
func topTags(items []model.ContentItem, limit int) []model.TrendingTag {
	counts := make(map[string]int)
	for _, item := range items {
		for _, tag := range item.Tags {
			counts[tag]++
		}
	}

	tags := make([]model.TrendingTag, 0, len(counts))
	for tag, count := range counts {
		tags = append(tags, model.TrendingTag{Tag: tag, Count: count})
	}
	sort.Slice(tags, func(i, j int) bool {
		if tags[i].Count != tags[j].Count {
			return tags[i].Count > tags[j].Count
		}
		return tags[i].Tag < tags[j].Tag
	})

	if len(tags) > limit {
		tags = tags[:limit]
	}
	return tags
}

// computeStatistics は集合全体の統計を計算する。
func computeStatistics(items []model.ContentItem) model.DatasetStatistics {
	stats := model.DatasetStatistics{
		TotalItems:      len(items),
		CountByCategory: make(map[string]int),
	}
	if len(items) == 0 {
		return stats
	}

	sources := make(map[string]bool)
	var sum float64
	oldest, newest := items[0].PublishedAt, items[0].PublishedAt

	for _, item := range items {
		category := item.Category
		if category == "" {
			category = "general"
		}
		stats.CountByCategory[category]++
		if item.SourceName != "" {
			sources[item.SourceName] = true
		}
		sum += item.RelevanceScore
		if item.PublishedAt.Before(oldest) {
			oldest = item.PublishedAt
		}
		if item.PublishedAt.After(newest) {
			newest = item.PublishedAt
		}
	}

	stats.SourceCount = len(sources)
	stats.AverageRelevance = sum / float64(len(items))
	stats.OldestPublishedAt = &oldest
	stats.NewestPublishedAt = &newest
	return stats
}
