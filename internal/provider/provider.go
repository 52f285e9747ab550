// Package provider は外部コンテンツソースへの検索クライアントを提供する。
// 各クライアントは1日単位のクォータ予算の追跡、一時的エラーの
// バックオフ付きリトライ、レスポンスの正規化（境界検証）を行う。
package provider

import (
	"context"

	"github.com/hitoshi/curator/internal/model"
)

// SearchProvider は1つの外部コンテンツソースへの検索インターフェース。
// 戻り値はパイプラインに投入可能な正規化済みアイテムと、
// プロバイダ側で利用可能な総件数。
// クォータ超過時はQUOTA_EXCEEDED、ネットワーク/5xx系はPROVIDER_TRANSIENT、
// それ以外（不正クエリ・認証失敗）はPROVIDER_PERMANENTのエラーを返す。
type SearchProvider interface {
	Search(ctx context.Context, query string, opts model.SearchOptions) ([]model.ContentItem, int, error)

	// UsageStats は現在のクォータ使用状況のスナップショットを返す。
	UsageStats() QuotaStats

	// Name はプロバイダ名を返す。
	Name() string
}

// SearchResult は検索レスポンスの正規化結果を表す。
// 不正形式で破棄されたアイテムの件数を実行統計用に保持する。
type SearchResult struct {
	Items          []model.ContentItem
	TotalAvailable int
	Dropped        int
}
