package provider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/curator/internal/model"
	"github.com/hitoshi/curator/internal/security"
)

// FeedClientConfig はRSS/Atomフィードプロバイダのクライアント設定を表す。
type FeedClientConfig struct {
	// FeedURLs は取得対象のフィードURL一覧（設定ファイル由来）。
	FeedURLs []string
	// FetchCost はフィード1本の取得で消費するクォータユニット。
	FetchCost int
	// Timeout はフィード1本あたりの取得タイムアウト。
	Timeout time.Duration
	// MaxBodySize はレスポンスボディの最大読み取りサイズ。
	MaxBodySize int64
	Retry       RetryPolicy
}

// FeedClient は設定済みRSS/Atomフィード群を検索ソースとして扱うクライアント。
// 各フィードをSSRF防止付きHTTPクライアントで取得し、gofeedでパースした上で、
// クエリ語を含むエントリのみを候補として返す。
type FeedClient struct {
	guard     security.FeedGuardService
	logger    *slog.Logger
	sanitizer security.TextSanitizerService
	quota     *QuotaTracker
	config    FeedClientConfig
}

// NewFeedClient はFeedClientの新しいインスタンスを生成する。
func NewFeedClient(
	guard security.FeedGuardService,
	logger *slog.Logger,
	sanitizer security.TextSanitizerService,
	quota *QuotaTracker,
	config FeedClientConfig,
) *FeedClient {
	if config.FetchCost <= 0 {
		config.FetchCost = 1
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.MaxBodySize <= 0 {
		config.MaxBodySize = 5242880
	}
	return &FeedClient{
		guard:     guard,
		logger:    logger,
		sanitizer: sanitizer,
		quota:     quota,
		config:    config,
	}
}

// Name はプロバイダ名を返す。
func (c *FeedClient) Name() string {
	return string(model.ProviderFeed)
}

// UsageStats は現在のクォータ使用状況を返す。
func (c *FeedClient) UsageStats() QuotaStats {
	return c.quota.Stats()
}

// Search は設定済みフィード群を取得し、クエリ語を含むエントリを返す。
// 個別フィードの取得失敗はログに記録して残りのフィードを継続処理する。
// すべてのフィードが失敗した場合のみエラーを返す。
func (c *FeedClient) Search(ctx context.Context, query string, opts model.SearchOptions) ([]model.ContentItem, int, error) {
	if len(c.config.FeedURLs) == 0 {
		return nil, 0, nil
	}

	var items []model.ContentItem
	var failed int
	var lastErr error

	for _, feedURL := range c.config.FeedURLs {
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}

		fetched, err := c.fetchFeed(ctx, feedURL)
		if err != nil {
			failed++
			lastErr = err
			c.logger.Warn("フィードの取得に失敗しました",
				slog.String("feed_url", feedURL),
				slog.String("error", err.Error()),
			)
			continue
		}
		items = append(items, fetched...)
	}

	if failed == len(c.config.FeedURLs) {
		return nil, 0, lastErr
	}

	matched := filterByQuery(items, query, opts.TimeWindow)
	return matched, len(matched), nil
}

// fetchFeed はフィードを1本取得してContentItemに正規化する。
func (c *FeedClient) fetchFeed(ctx context.Context, feedURL string) ([]model.ContentItem, error) {
	if err := c.guard.ValidateURL(feedURL); err != nil {
		return nil, model.NewPermanentProviderError(fmt.Sprintf("SSRF検証に失敗しました: %s", err))
	}

	if err := c.quota.Consume(c.config.FetchCost); err != nil {
		return nil, err
	}

	var parsed *gofeed.Feed
	err := DoWithRetry(ctx, c.logger, c.config.Retry, "feed_fetch", func() error {
		if err := c.quota.Limiter().Wait(ctx); err != nil {
			return model.NewTransientProviderError(err.Error())
		}

		client := c.guard.NewSafeClient(c.config.Timeout)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
		if err != nil {
			return model.NewPermanentProviderError(fmt.Sprintf("リクエスト作成に失敗しました: %s", err))
		}
		req.Header.Set("User-Agent", "Curator/1.0 Content Pipeline")
		req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, */*")

		resp, err := client.Do(req)
		if err != nil {
			return model.NewTransientProviderError(err.Error())
		}
		defer resp.Body.Close()

		if err := ClassifyHTTPStatus(resp.StatusCode); err != nil {
			return err
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxBodySize))
		if err != nil {
			return model.NewTransientProviderError(fmt.Sprintf("レスポンスの読み取りに失敗しました: %s", err))
		}

		feed, err := gofeed.NewParser().ParseString(string(body))
		if err != nil {
			return model.NewPermanentProviderError(fmt.Sprintf("フィードのパースに失敗しました: %s", err))
		}
		parsed = feed
		return nil
	})
	if err != nil {
		return nil, err
	}

	return c.normalize(parsed), nil
}

// normalize はフィードのエントリをContentItemに変換する。
// タイトル・リンク欠落や公開日時の無いエントリは破棄する。
func (c *FeedClient) normalize(feed *gofeed.Feed) []model.ContentItem {
	items := make([]model.ContentItem, 0, len(feed.Items))
	var dropped int

	for _, entry := range feed.Items {
		if entry == nil || entry.Title == "" || entry.Link == "" {
			dropped++
			continue
		}

		var publishedAt time.Time
		if entry.PublishedParsed != nil {
			publishedAt = *entry.PublishedParsed
		} else if entry.UpdatedParsed != nil {
			publishedAt = *entry.UpdatedParsed
		} else {
			dropped++
			continue
		}

		snippet := entry.Description
		if snippet == "" {
			snippet = entry.Content
		}

		items = append(items, model.ContentItem{
			ID:          CanonicalURL(entry.Link),
			Title:       c.sanitizer.Sanitize(entry.Title),
			BodySnippet: c.sanitizer.Sanitize(snippet),
			URL:         entry.Link,
			PublishedAt: publishedAt,
			SourceName:  feed.Title,
			Provider:    model.ProviderFeed,
		})
	}

	if dropped > 0 {
		c.logger.Warn("不正な形式のフィードエントリを破棄しました",
			slog.String("feed_title", feed.Title),
			slog.Int("dropped", dropped),
		)
	}

	return items
}

// filterByQuery はクエリ語（空白区切り、いずれか一致）と
// 時間窓でアイテムを絞り込む。クエリが空の場合は時間窓のみ適用する。
func filterByQuery(items []model.ContentItem, query string, window time.Duration) []model.ContentItem {
	terms := strings.Fields(strings.ToLower(query))
	cutoff := time.Time{}
	if window > 0 {
		cutoff = time.Now().Add(-window)
	}

	matched := make([]model.ContentItem, 0, len(items))
	for _, item := range items {
		if !cutoff.IsZero() && item.PublishedAt.Before(cutoff) {
			continue
		}
		if len(terms) > 0 && !matchesAnyTerm(item, terms) {
			continue
		}
		matched = append(matched, item)
	}
	return matched
}

// matchesAnyTerm はタイトルまたは本文にいずれかの語が含まれるかを返す。
func matchesAnyTerm(item model.ContentItem, terms []string) bool {
	haystack := strings.ToLower(item.Title + " " + item.BodySnippet)
	for _, term := range terms {
		if strings.Contains(haystack, term) {
			return true
		}
	}
	return false
}
