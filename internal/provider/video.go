package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/curator/internal/model"
	"github.com/hitoshi/curator/internal/security"
)

// maxVideoIDsPerStatsRequest は統計取得1リクエストあたりの最大動画ID数。
const maxVideoIDsPerStatsRequest = 50

// VideoClientConfig は動画検索プロバイダのクライアント設定を表す。
type VideoClientConfig struct {
	BaseURL    string
	APIKey     string
	SearchCost int
	StatsCost  int
	Retry      RetryPolicy
}

// VideoClient は動画検索APIのクライアント。
// 検索エンドポイントに加え、再生数等のエンゲージメント統計の
// 一括取得エンドポイントを提供する。
type VideoClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	sanitizer  security.TextSanitizerService
	quota      *QuotaTracker
	config     VideoClientConfig
}

// NewVideoClient はVideoClientの新しいインスタンスを生成する。
func NewVideoClient(
	httpClient *http.Client,
	logger *slog.Logger,
	sanitizer security.TextSanitizerService,
	quota *QuotaTracker,
	config VideoClientConfig,
) *VideoClient {
	if config.SearchCost <= 0 {
		config.SearchCost = 100
	}
	if config.StatsCost <= 0 {
		config.StatsCost = 1
	}
	return &VideoClient{
		httpClient: httpClient,
		logger:     logger,
		sanitizer:  sanitizer,
		quota:      quota,
		config:     config,
	}
}

// Name はプロバイダ名を返す。
func (c *VideoClient) Name() string {
	return string(model.ProviderVideo)
}

// UsageStats は現在のクォータ使用状況を返す。
func (c *VideoClient) UsageStats() QuotaStats {
	return c.quota.Stats()
}

// videoSearchResponse は動画検索APIの生レスポンスを表す。
type videoSearchResponse struct {
	PageInfo struct {
		TotalResults int `json:"totalResults"`
	} `json:"pageInfo"`
	Items []videoSearchItem `json:"items"`
}

// videoSearchItem は動画検索APIの生アイテムを表す。
type videoSearchItem struct {
	ID struct {
		VideoID string `json:"videoId"`
	} `json:"id"`
	Snippet struct {
		PublishedAt  string `json:"publishedAt"`
		ChannelTitle string `json:"channelTitle"`
		Title        string `json:"title"`
		Description  string `json:"description"`
	} `json:"snippet"`
}

// videoStatsResponse は動画統計APIの生レスポンスを表す。
type videoStatsResponse struct {
	Items []struct {
		ID         string `json:"id"`
		Statistics struct {
			ViewCount    string `json:"viewCount"`
			LikeCount    string `json:"likeCount"`
			CommentCount string `json:"commentCount"`
		} `json:"statistics"`
	} `json:"items"`
}

// Search は動画検索APIを呼び出し、正規化済みアイテムと総件数を返す。
func (c *VideoClient) Search(ctx context.Context, query string, opts model.SearchOptions) ([]model.ContentItem, int, error) {
	if err := c.quota.Consume(c.config.SearchCost); err != nil {
		return nil, 0, err
	}

	reqURL := c.buildSearchURL(query, opts)

	var decoded videoSearchResponse
	err := DoWithRetry(ctx, c.logger, c.config.Retry, "video_search", func() error {
		// 前回試行の部分的なデコード結果を持ち越さない
		decoded = videoSearchResponse{}
		if err := c.quota.Limiter().Wait(ctx); err != nil {
			return model.NewTransientProviderError(err.Error())
		}
		return c.doGet(ctx, reqURL, &decoded)
	})
	if err != nil {
		return nil, 0, err
	}

	result := c.normalize(decoded.Items)
	if result.Dropped > 0 {
		c.logger.Warn("不正な形式の動画を破棄しました",
			slog.Int("dropped", result.Dropped),
			slog.Int("accepted", len(result.Items)),
		)
	}

	return result.Items, decoded.PageInfo.TotalResults, nil
}

// Stats は動画IDごとのエンゲージメント統計（views/likes/comments）を一括取得する。
// IDリストは最大50件まで。レスポンスに含まれないIDは結果に含まれない。
func (c *VideoClient) Stats(ctx context.Context, videoIDs []string) (map[string]map[string]int64, error) {
	if len(videoIDs) == 0 {
		return make(map[string]map[string]int64), nil
	}
	if len(videoIDs) > maxVideoIDsPerStatsRequest {
		return nil, model.NewPermanentProviderError(
			fmt.Sprintf("動画IDの数が上限を超えています: %d > %d", len(videoIDs), maxVideoIDsPerStatsRequest))
	}

	if err := c.quota.Consume(c.config.StatsCost); err != nil {
		return nil, err
	}

	base, _ := url.Parse(c.config.BaseURL + "/videos")
	q := base.Query()
	q.Set("part", "statistics")
	q.Set("id", strings.Join(videoIDs, ","))
	q.Set("key", c.config.APIKey)
	base.RawQuery = q.Encode()

	var decoded videoStatsResponse
	err := DoWithRetry(ctx, c.logger, c.config.Retry, "video_stats", func() error {
		// 前回試行の部分的なデコード結果を持ち越さない
		decoded = videoStatsResponse{}
		if err := c.quota.Limiter().Wait(ctx); err != nil {
			return model.NewTransientProviderError(err.Error())
		}
		return c.doGet(ctx, base.String(), &decoded)
	})
	if err != nil {
		return nil, err
	}

	counts := make(map[string]map[string]int64, len(decoded.Items))
	for _, item := range decoded.Items {
		counts[item.ID] = map[string]int64{
			"views":    parseCount(item.Statistics.ViewCount),
			"likes":    parseCount(item.Statistics.LikeCount),
			"comments": parseCount(item.Statistics.CommentCount),
		}
	}
	return counts, nil
}

// buildSearchURL は動画検索リクエストURLを構築する。
func (c *VideoClient) buildSearchURL(query string, opts model.SearchOptions) string {
	base, _ := url.Parse(c.config.BaseURL + "/search")
	q := base.Query()
	q.Set("part", "snippet")
	q.Set("type", "video")
	q.Set("q", query)
	q.Set("key", c.config.APIKey)
	if opts.OrderBy != "" {
		q.Set("order", opts.OrderBy)
	}
	if opts.PageSize > 0 {
		q.Set("maxResults", strconv.Itoa(opts.PageSize))
	}
	if opts.Locale != "" {
		q.Set("relevanceLanguage", opts.Locale)
	}
	if opts.TimeWindow > 0 {
		after := time.Now().Add(-opts.TimeWindow).UTC().Format(time.RFC3339)
		q.Set("publishedAfter", after)
	}
	base.RawQuery = q.Encode()
	return base.String()
}

// doGet はHTTPリクエストを1回実行し、レスポンスをdecodedに格納する。
func (c *VideoClient) doGet(ctx context.Context, reqURL string, decoded any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return model.NewPermanentProviderError(fmt.Sprintf("リクエスト作成に失敗しました: %s", err))
	}
	req.Header.Set("User-Agent", "Curator/1.0 Content Pipeline")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.NewTransientProviderError(err.Error())
	}
	defer resp.Body.Close()

	if err := ClassifyHTTPStatus(resp.StatusCode); err != nil {
		return err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.NewTransientProviderError(fmt.Sprintf("レスポンスの読み取りに失敗しました: %s", err))
	}

	if err := json.Unmarshal(body, decoded); err != nil {
		return model.NewPermanentProviderError(fmt.Sprintf("レスポンスJSONのパースに失敗しました: %s", err))
	}
	return nil
}

// normalize は生アイテムをContentItemに変換する。
// 動画ID・タイトル欠落、公開日時のパース失敗は破棄して件数のみ記録する。
func (c *VideoClient) normalize(items []videoSearchItem) SearchResult {
	result := SearchResult{Items: make([]model.ContentItem, 0, len(items))}

	for _, v := range items {
		if v.ID.VideoID == "" || v.Snippet.Title == "" {
			result.Dropped++
			continue
		}

		publishedAt, err := time.Parse(time.RFC3339, v.Snippet.PublishedAt)
		if err != nil {
			result.Dropped++
			continue
		}

		result.Items = append(result.Items, model.ContentItem{
			ID:          v.ID.VideoID,
			Title:       c.sanitizer.Sanitize(v.Snippet.Title),
			BodySnippet: c.sanitizer.Sanitize(v.Snippet.Description),
			URL:         "https://www.youtube.com/watch?v=" + v.ID.VideoID,
			PublishedAt: publishedAt,
			SourceName:  v.Snippet.ChannelTitle,
			Provider:    model.ProviderVideo,
		})
	}

	result.TotalAvailable = len(result.Items)
	return result
}

// parseCount は数値文字列をint64に変換する。パース失敗時は0を返す。
func parseCount(s string) int64 {
	if s == "" {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
